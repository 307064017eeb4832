// ABOUTME: Translates Matrix room messages into dialog events
// ABOUTME: Bang commands stand in for the VS Agent's menu, profile, and selection messages

package matrix

import (
	"strings"

	"github.com/2389/coven-concierge/internal/dialog"
)

// Commands understood in a room.
const (
	CommandMenu   = "!menu"
	CommandSelect = "!select"
	CommandLang   = "!lang"
)

// ParseMessage maps a text body to a dialog event. The room is the connection.
func ParseMessage(roomID, eventID, body string) dialog.Event {
	trimmed := strings.TrimSpace(body)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return dialog.TextEvent{ConnectionID: roomID, MessageID: eventID}
	}

	switch strings.ToLower(fields[0]) {
	case CommandMenu:
		return dialog.UnknownEvent{ConnectionID: roomID, Type: "menu"}
	case CommandSelect:
		var selection string
		if len(fields) > 1 {
			selection = fields[1]
		}
		return dialog.MenuSelectEvent{ConnectionID: roomID, MessageID: eventID, SelectionID: selection}
	case CommandLang:
		var lang string
		if len(fields) > 1 {
			lang = fields[1]
		}
		return dialog.ProfileEvent{ConnectionID: roomID, MessageID: eventID, PreferredLanguage: lang}
	default:
		return dialog.TextEvent{ConnectionID: roomID, MessageID: eventID, Text: trimmed}
	}
}
