// ABOUTME: Outbound VS Agent client implementing the dialog messaging gateway
// ABOUTME: Posts text, contextual menu updates, and proof requests to the agent admin API

package vsagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-concierge/internal/dialog"
)

const (
	messagePath    = "/v1/message"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// Client sends messages through the VS Agent admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a Client for the admin API at baseURL. A nil httpClient
// gets a client with a default timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "vsagent"),
		now:        time.Now,
	}
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, connectionID, text string) error {
	return c.send(ctx, textMessage{
		envelope: c.envelope(TypeText, connectionID),
		Content:  text,
	})
}

// SendMenuUpdate replaces the contextual menu shown to the user.
func (c *Client) SendMenuUpdate(ctx context.Context, connectionID string, menu dialog.Menu) error {
	options := make([]menuOption, 0, len(menu.Options))
	for _, o := range menu.Options {
		options = append(options, menuOption{ID: o.ID, Title: o.Title})
	}
	return c.send(ctx, menuUpdateMessage{
		envelope: c.envelope(TypeContextualMenuUpdate, connectionID),
		Title:    menu.Title,
		Options:  options,
	})
}

// SendProofRequest asks the user's wallet for a verifiable credential.
func (c *Client) SendProofRequest(ctx context.Context, connectionID, credentialDefinitionID string) error {
	return c.send(ctx, proofRequestMessage{
		envelope: c.envelope(TypeIdentityProofRequest, connectionID),
		RequestedProofItems: []requestedProofItem{{
			ID:                     "1",
			Type:                   ProofItemVerifiableCred,
			CredentialDefinitionID: credentialDefinitionID,
		}},
	})
}

func (c *Client) envelope(msgType, connectionID string) envelope {
	return envelope{
		ID:           uuid.NewString(),
		Type:         msgType,
		ConnectionID: connectionID,
		Timestamp:    c.now().UTC(),
	}
}

func (c *Client) send(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("vs agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
