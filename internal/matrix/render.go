// ABOUTME: Renders menus and answers as Matrix message content
// ABOUTME: Markdown is converted to HTML with goldmark for the formatted body

package matrix

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-concierge/internal/dialog"
)

// MenuMarkdown renders the contextual menu as a markdown list of select commands.
func MenuMarkdown(menu dialog.Menu) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**\n", menu.Title)
	if len(menu.Options) > 0 {
		sb.WriteString("\n")
	}
	for _, o := range menu.Options {
		fmt.Fprintf(&sb, "- `%s %s`: %s\n", CommandSelect, o.ID, o.Title)
	}
	return sb.String()
}

func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// formatted builds message content with an HTML body when the markdown renders.
func formatted(msgType event.MessageType, md string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: msgType,
		Body:    md,
	}
	if html := renderMarkdown(md); html != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content
}
