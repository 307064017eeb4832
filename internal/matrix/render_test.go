// ABOUTME: Tests for Matrix menu and proof-request rendering
// ABOUTME: Checks the markdown text and the goldmark HTML body

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-concierge/internal/dialog"
)

func TestMenuMarkdown(t *testing.T) {
	menu := dialog.Menu{
		Title: "Concierge Ada!",
		Options: []dialog.MenuOption{
			{ID: "logout", Title: "Logout"},
			{ID: "help", Title: "Help"},
		},
	}

	want := "**Concierge Ada!**\n\n- `!select logout`: Logout\n- `!select help`: Help\n"
	assert.Equal(t, want, MenuMarkdown(menu))
	assert.Equal(t, "**Concierge**\n", MenuMarkdown(dialog.Menu{Title: "Concierge"}))
}

func TestFormattedMenuHTML(t *testing.T) {
	content := formatted(event.MsgNotice, MenuMarkdown(dialog.Menu{
		Title:   "Menu",
		Options: []dialog.MenuOption{{ID: "authenticate", Title: "Authenticate"}},
	}))

	assert.Equal(t, event.MsgNotice, content.MsgType)
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "<strong>Menu</strong>")
	assert.Contains(t, content.FormattedBody, "<li><code>!select authenticate</code>: Authenticate</li>")
}
