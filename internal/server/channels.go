// ABOUTME: Routes outbound dialog messages to the channel that owns the connection
// ABOUTME: Matrix room IDs start with '!'; every other connection belongs to the VS Agent

package server

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/coven-concierge/internal/dialog"
)

// ErrNoChannel is returned when no enabled channel owns a connection ID.
var ErrNoChannel = errors.New("no channel for connection")

// channelRouter implements dialog.Gateway over the enabled channels.
type channelRouter struct {
	vsagent dialog.Gateway
	matrix  dialog.Gateway
}

func (r *channelRouter) route(connectionID string) (dialog.Gateway, error) {
	if strings.HasPrefix(connectionID, "!") && r.matrix != nil {
		return r.matrix, nil
	}
	if r.vsagent != nil {
		return r.vsagent, nil
	}
	if r.matrix != nil {
		return r.matrix, nil
	}
	return nil, ErrNoChannel
}

func (r *channelRouter) SendText(ctx context.Context, connectionID, text string) error {
	gw, err := r.route(connectionID)
	if err != nil {
		return err
	}
	return gw.SendText(ctx, connectionID, text)
}

func (r *channelRouter) SendMenuUpdate(ctx context.Context, connectionID string, menu dialog.Menu) error {
	gw, err := r.route(connectionID)
	if err != nil {
		return err
	}
	return gw.SendMenuUpdate(ctx, connectionID, menu)
}

func (r *channelRouter) SendProofRequest(ctx context.Context, connectionID, credentialDefinitionID string) error {
	gw, err := r.route(connectionID)
	if err != nil {
		return err
	}
	return gw.SendProofRequest(ctx, connectionID, credentialDefinitionID)
}

// SupportsProofs asks the owning channel, defaulting to true for channels
// that do not say.
func (r *channelRouter) SupportsProofs(connectionID string) bool {
	gw, err := r.route(connectionID)
	if err != nil {
		return false
	}
	if pc, ok := gw.(dialog.ProofCapability); ok {
		return pc.SupportsProofs(connectionID)
	}
	return true
}
