// ABOUTME: Inbound dialog events as a closed set of concrete types
// ABOUTME: Channel adapters translate their wire formats into these before dispatch

package dialog

// Event is an inbound event for one connection. The set of implementations
// is closed: only types in this package satisfy it.
type Event interface {
	Connection() string
	isEvent()
}

// Keyed is implemented by events that carry a channel message ID usable for
// duplicate suppression.
type Keyed interface {
	MessageKey() string
}

// TextEvent is a free-text message from the user. Media and other
// content-less messages arrive as a TextEvent with empty Text.
type TextEvent struct {
	ConnectionID string
	MessageID    string
	Text         string
}

// MenuSelectEvent is a contextual menu selection.
type MenuSelectEvent struct {
	ConnectionID string
	MessageID    string
	SelectionID  string
}

// ProfileEvent carries profile updates, currently only the preferred language.
type ProfileEvent struct {
	ConnectionID      string
	MessageID         string
	PreferredLanguage string
}

// ProofSubmitEvent is the user's answer to a credential-proof request.
type ProofSubmitEvent struct {
	ConnectionID string
	MessageID    string
	Items        []ProofItem
}

// ProofItem is one submitted proof. A non-empty ErrorCode means the user or
// their wallet declined or failed the request.
type ProofItem struct {
	ID        string
	Type      string
	ErrorCode string
	Claims    []Claim
}

// Claim is a disclosed credential attribute.
type Claim struct {
	Name  string
	Value string
}

// ConnectionOpenEvent signals a newly established connection.
type ConnectionOpenEvent struct {
	ConnectionID string
}

// ConnectionCloseEvent signals a terminated connection.
type ConnectionCloseEvent struct {
	ConnectionID string
}

// UnknownEvent stands in for message types the dialog does not understand.
// It changes nothing but still refreshes the menu.
type UnknownEvent struct {
	ConnectionID string
	Type         string
}

func (e TextEvent) Connection() string            { return e.ConnectionID }
func (e MenuSelectEvent) Connection() string      { return e.ConnectionID }
func (e ProfileEvent) Connection() string         { return e.ConnectionID }
func (e ProofSubmitEvent) Connection() string     { return e.ConnectionID }
func (e ConnectionOpenEvent) Connection() string  { return e.ConnectionID }
func (e ConnectionCloseEvent) Connection() string { return e.ConnectionID }
func (e UnknownEvent) Connection() string         { return e.ConnectionID }

func (TextEvent) isEvent()            {}
func (MenuSelectEvent) isEvent()      {}
func (ProfileEvent) isEvent()         {}
func (ProofSubmitEvent) isEvent()     {}
func (ConnectionOpenEvent) isEvent()  {}
func (ConnectionCloseEvent) isEvent() {}
func (UnknownEvent) isEvent()         {}

func (e TextEvent) MessageKey() string        { return e.MessageID }
func (e MenuSelectEvent) MessageKey() string  { return e.MessageID }
func (e ProfileEvent) MessageKey() string     { return e.MessageID }
func (e ProofSubmitEvent) MessageKey() string { return e.MessageID }
