package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"llama-chat/internal/adapter/tui/theme"
	"llama-chat/internal/domain"
)

// NoticeLevel picks the color of the status bar notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeError
)

// StatusBarModel is the one-line footer: conversation, model, token count,
// generation and transport state on the left, the last notice on the right.
type StatusBarModel struct {
	Conversation string
	Offline      bool
	Model        string
	Tokens       int
	State        domain.GenerationState
	Transport    domain.TransportState
	Notice       string
	NoticeLevel  NoticeLevel
	width        int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{State: domain.Idle(), Transport: domain.TransportClosed}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// SetNotice replaces the notice.
func (m *StatusBarModel) SetNotice(level NoticeLevel, text string) {
	m.NoticeLevel = level
	m.Notice = text
}

func (m StatusBarModel) left() string {
	sep := " " + theme.Dim.Render(theme.SymbolBullet) + " "

	conv := m.Conversation
	if conv == "" {
		conv = "no conversation"
	}
	parts := []string{theme.StatusKey.Render(conv)}
	if m.Offline {
		parts = append(parts, theme.TextWarning.Render("offline"))
	}
	if m.Model != "" {
		parts = append(parts, m.Model)
	}
	parts = append(parts, fmt.Sprintf("%d tokens", m.Tokens))

	state := m.State.String()
	if m.State.IsStreaming() {
		state = theme.Streaming.Render(theme.SymbolSpinner + " " + state)
	}
	parts = append(parts, state)

	if m.Conversation != "" && !m.Offline {
		ts := m.Transport.String()
		if m.Transport != domain.TransportOpen {
			ts = theme.TextWarning.Render(ts)
		}
		parts = append(parts, ts)
	}
	return strings.Join(parts, sep)
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	left := m.left()

	var right string
	if m.Notice != "" {
		switch m.NoticeLevel {
		case NoticeError:
			right = theme.TextError.Render(theme.SymbolError + " " + m.Notice)
		case NoticeSuccess:
			right = theme.TextSuccess.Render(theme.SymbolSuccess + " " + m.Notice)
		default:
			right = theme.TextInfo.Render(m.Notice)
		}
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
