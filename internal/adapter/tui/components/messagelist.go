package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"llama-chat/internal/adapter/tui/theme"
	"llama-chat/internal/domain"
)

// ChatMessage is one transcript entry as the view renders it.
type ChatMessage struct {
	Index     int
	Role      domain.Role
	Content   string
	Streaming bool   // the message is receiving deltas
	Rendered  string // cached wrapped body; empty means not yet rendered
}

// FromDomain converts transcript messages. streamingIndex marks the message
// receiving deltas, or -1.
func FromDomain(msgs []domain.Message, streamingIndex int) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ChatMessage{
			Index:     m.Index,
			Role:      m.Role,
			Content:   m.Text,
			Streaming: m.Index == streamingIndex,
		}
	}
	return out
}

// MessageListModel renders the transcript as plain wrapped text.
type MessageListModel struct {
	Messages []ChatMessage
	width    int
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and clears cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// SetMessages replaces the transcript. Cached renders survive for messages
// whose text did not change.
func (m *MessageListModel) SetMessages(msgs []ChatMessage) {
	for i := range msgs {
		if i < len(m.Messages) && !msgs[i].Streaming && m.Messages[i].Content == msgs[i].Content &&
			m.Messages[i].Role == msgs[i].Role && !m.Messages[i].Streaming {
			msgs[i].Rendered = m.Messages[i].Rendered
		}
	}
	m.Messages = msgs
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
}

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  No messages yet. Type below to start, or /help.")
	}

	width := ContentWidth(m.width)
	var sb strings.Builder
	for i := range m.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.Messages[i], width))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	header := roleLabel(msg.Role) + " " + theme.Index.Render(fmt.Sprintf("#%d", msg.Index))
	if msg.Streaming {
		header += " " + theme.Streaming.Render(theme.SymbolSpinner)
	}

	body := msg.Rendered
	if body == "" || msg.Streaming {
		body = "  " + wrapText(msg.Content, width-2)
		if !msg.Streaming {
			msg.Rendered = body
		}
	}

	if strings.TrimSpace(body) == "" {
		return header
	}
	return header + "\n" + body
}

func roleLabel(role domain.Role) string {
	if role == domain.RoleBot {
		return theme.BotLabel.Render(theme.SymbolBot)
	}
	return theme.UserLabel.Render(theme.SymbolUser)
}

// wrapText wraps s at width runes, indenting continuation lines by two
// spaces. Existing newlines are kept.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		out = append(out, wrapLine(line, width)...)
	}
	return strings.Join(out, "\n  ")
}

func wrapLine(s string, width int) []string {
	runes := []rune(s)
	if len(runes) <= width {
		return []string{s}
	}
	var lines []string
	for len(runes) > width {
		idx := -1
		for i := width - 1; i > 0; i-- {
			if runes[i] == ' ' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			idx = width
		}
		lines = append(lines, string(runes[:idx]))
		runes = runes[idx:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}

// ContentWidth calculates the content width respecting MaxContentWidth.
func ContentWidth(termWidth int) int {
	return theme.Clamp(termWidth-4, 40, theme.MaxContentWidth)
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
