// ABOUTME: Matrix implementation of the dialog messaging gateway
// ABOUTME: Text is sent as formatted messages and menus as notices; proofs are not supported

package matrix

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/dialog"
)

// Gateway sends dialog output into Matrix rooms.
type Gateway struct {
	client *mautrix.Client
}

// NewGateway creates a Gateway over an authenticated client.
func NewGateway(client *mautrix.Client) *Gateway {
	return &Gateway{client: client}
}

// SendText posts an answer, rendering markdown.
func (g *Gateway) SendText(ctx context.Context, connectionID, text string) error {
	return g.send(ctx, connectionID, formatted(event.MsgText, text))
}

// SendMenuUpdate posts the menu as a notice.
func (g *Gateway) SendMenuUpdate(ctx context.Context, connectionID string, menu dialog.Menu) error {
	return g.send(ctx, connectionID, formatted(event.MsgNotice, MenuMarkdown(menu)))
}

// SendProofRequest always fails: Matrix rooms have no way to submit a proof.
func (g *Gateway) SendProofRequest(ctx context.Context, connectionID, credentialDefinitionID string) error {
	return dialog.ErrProofUnsupported
}

// SupportsProofs reports false for every room.
func (g *Gateway) SupportsProofs(string) bool { return false }

func (g *Gateway) send(ctx context.Context, roomID string, content *event.MessageEventContent) error {
	if _, err := g.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content); err != nil {
		return fmt.Errorf("sending to room %s: %w", roomID, err)
	}
	return nil
}
