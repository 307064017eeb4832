// ABOUTME: Matrix bridge: syncs with the homeserver and queues room events for the dialog
// ABOUTME: Each room is one connection; membership changes open and close it

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/dialog"
)

// networkTimeout bounds Matrix API calls made outside the sync loop.
const networkTimeout = 10 * time.Second

// Submitter queues events for processing.
type Submitter interface {
	Submit(ev dialog.Event) error
}

// Config configures the Matrix connection.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.Homeserver == "" {
		return errors.New("matrix homeserver is required")
	}
	if _, err := url.Parse(c.Homeserver); err != nil {
		return fmt.Errorf("matrix homeserver is not a valid URL: %w", err)
	}
	if c.UserID == "" {
		return errors.New("matrix user id is required")
	}
	if c.AccessToken == "" {
		return errors.New("matrix access token is required")
	}
	return nil
}

// Bridge connects Matrix rooms to the dialog dispatcher.
type Bridge struct {
	cfg       Config
	client    *mautrix.Client
	submitter Submitter
	logger    *slog.Logger
}

// NewBridge creates a bridge and its Matrix client.
func NewBridge(cfg Config, submitter Submitter, logger *slog.Logger) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Bridge{
		cfg:       cfg,
		client:    client,
		submitter: submitter,
		logger:    logger.With("component", "matrix"),
	}, nil
}

// Client returns the underlying Matrix client, for building a Gateway.
func (b *Bridge) Client() *mautrix.Client {
	return b.client
}

// Run syncs until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge", "homeserver", b.cfg.Homeserver, "user_id", b.cfg.UserID)

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnSync(b.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.client.StopSync()
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}
	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	var ev dialog.Event
	switch content.MsgType {
	case event.MsgText:
		ev = ParseMessage(roomID, evt.ID.String(), content.Body)
	case event.MsgNotice:
		return
	default:
		ev = dialog.TextEvent{ConnectionID: roomID, MessageID: evt.ID.String()}
	}
	b.submit(ev)
}

func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	target := id.UserID(evt.GetStateKey())
	roomID := evt.RoomID.String()

	if target == id.UserID(b.cfg.UserID) {
		if member.Membership == event.MembershipInvite && b.isRoomAllowed(roomID) {
			b.join(evt.RoomID)
		}
		return
	}
	if !b.isRoomAllowed(roomID) {
		return
	}

	switch member.Membership {
	case event.MembershipJoin:
		if prev := evt.Unsigned.PrevContent; prev != nil {
			if prevMember := prev.AsMember(); prevMember != nil && prevMember.Membership == event.MembershipJoin {
				// profile change, not a new join
				return
			}
		}
		b.submit(dialog.ConnectionOpenEvent{ConnectionID: roomID})
	case event.MembershipLeave, event.MembershipBan:
		b.submit(dialog.ConnectionCloseEvent{ConnectionID: roomID})
	}
}

func (b *Bridge) join(roomID id.RoomID) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.client.JoinRoomByID(ctx, roomID); err != nil {
		b.logger.Warn("failed to join room", "room", roomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", roomID.String())
}

func (b *Bridge) submit(ev dialog.Event) {
	if err := b.submitter.Submit(ev); err != nil {
		b.logger.Warn("event rejected", "room", ev.Connection(), "error", err)
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.cfg.AllowedRooms, roomID)
}
