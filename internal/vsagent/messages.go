// ABOUTME: VS Agent wire types for outbound messages and inbound webhook payloads
// ABOUTME: Field names follow the agent's JSON API (camelCase)

package vsagent

import (
	"encoding/json"
	"time"
)

// Message types exchanged with the VS Agent.
const (
	TypeText                  = "text"
	TypeMedia                 = "media"
	TypeProfile               = "profile"
	TypeReceipts              = "receipts"
	TypeContextualMenuSelect  = "contextual-menu-select"
	TypeContextualMenuUpdate  = "contextual-menu-update"
	TypeIdentityProofRequest  = "identity-proof-request"
	TypeIdentityProofSubmit   = "identity-proof-submit"
	ProofItemVerifiableCred   = "verifiable-credential"
	ConnectionStateCompleted  = "completed"
	ConnectionStateTerminated = "terminated"
)

// envelope holds the fields every outbound message carries.
type envelope struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	ConnectionID string    `json:"connectionId"`
	Timestamp    time.Time `json:"timestamp"`
}

type textMessage struct {
	envelope
	Content string `json:"content"`
}

type menuOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type menuUpdateMessage struct {
	envelope
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Options     []menuOption `json:"options"`
}

type requestedProofItem struct {
	ID                     string `json:"id"`
	Type                   string `json:"type"`
	CredentialDefinitionID string `json:"credentialDefinitionId"`
}

type proofRequestMessage struct {
	envelope
	RequestedProofItems []requestedProofItem `json:"requestedProofItems"`
}

// inboundMessage is the union of the inbound message fields the dialog consumes.
type inboundMessage struct {
	ID                  string               `json:"id"`
	Type                string               `json:"type"`
	ConnectionID        string               `json:"connectionId"`
	Content             string               `json:"content"`
	SelectionID         string               `json:"selectionId"`
	PreferredLanguage   string               `json:"preferredLanguage"`
	SubmittedProofItems []submittedProofItem `json:"submittedProofItems"`
}

type submittedProofItem struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	ErrorCode string  `json:"errorCode"`
	Claims    []claim `json:"claims"`
}

// claim values are usually strings but wallets may send numbers or booleans.
type claim struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type messageReceived struct {
	Timestamp string         `json:"timestamp"`
	Message   inboundMessage `json:"message"`
}

type connectionStateUpdated struct {
	ConnectionID string `json:"connectionId"`
	State        string `json:"state"`
}
