package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"llama-chat/internal/adapter/tui/theme"
)

// PickerItem is one row of a picker listing.
type PickerItem struct {
	Label   string
	Detail  string // rendered muted after the label
	Current bool   // the open conversation or the active model
}

// PickedMsg reports the row chosen with Enter.
type PickedMsg struct {
	Listing string
	Index   int
}

// ModalModel is a full-screen overlay. It shows either read-only text (help)
// or a numbered picker over conversations or models.
type ModalModel struct {
	Viewport viewport.Model
	Title    string
	Visible  bool

	listing string // empty in text mode
	items   []PickerItem
	hint    string
	cursor  int

	width  int
	height int
}

// NewModal creates a hidden modal.
func NewModal() ModalModel {
	return ModalModel{}
}

// Open shows read-only text under title.
func (m *ModalModel) Open(title, content string) {
	m.show(title)
	m.listing, m.items, m.hint, m.cursor = "", nil, "", 0
	m.Viewport.SetContent(content)
}

// OpenPicker shows items under title. The cursor starts on the current item.
// hint is shown below the rows, or alone when there are none.
func (m *ModalModel) OpenPicker(listing, title string, items []PickerItem, hint string) {
	m.show(title)
	m.listing, m.items, m.hint, m.cursor = listing, items, hint, 0
	for i, it := range items {
		if it.Current {
			m.cursor = i
			break
		}
	}
	m.renderRows()
}

func (m *ModalModel) show(title string) {
	m.Title = title
	m.Visible = true
	w, h := 80, 24
	if m.width > 0 {
		w, h = m.width-4, m.height-4
	}
	m.Viewport = viewport.New(w, h)
	m.Viewport.MouseWheelEnabled = true
}

// Close hides the modal.
func (m *ModalModel) Close() {
	m.Visible = false
}

// Picking reports whether the modal shows a picker.
func (m ModalModel) Picking() bool {
	return m.Visible && m.listing != ""
}

// Cursor returns the highlighted picker row.
func (m ModalModel) Cursor() int {
	return m.cursor
}

// SetSize updates the modal dimensions.
func (m *ModalModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.Visible {
		m.Viewport.Width = w - 4
		m.Viewport.Height = h - 4
		if m.listing != "" {
			m.renderRows()
		}
	}
}

// Update handles modal keys. Esc and q close. In a picker, j/k and the arrows
// move the cursor and Enter picks the row; over text Enter closes and j/k
// scroll.
func (m ModalModel) Update(msg tea.Msg) (ModalModel, tea.Cmd) {
	if !m.Visible {
		return m, nil
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.Viewport, cmd = m.Viewport.Update(msg)
		return m, cmd
	}

	switch keyMsg.String() {
	case "esc", "q":
		m.Close()
		return m, nil
	}

	if m.listing == "" {
		switch keyMsg.String() {
		case "enter":
			m.Close()
		case "j", "down":
			m.Viewport.LineDown(3)
		case "k", "up":
			m.Viewport.LineUp(3)
		case "g":
			m.Viewport.GotoTop()
		case "G":
			m.Viewport.GotoBottom()
		}
		return m, nil
	}

	switch keyMsg.String() {
	case "enter":
		if len(m.items) == 0 {
			m.Close()
			return m, nil
		}
		picked := PickedMsg{Listing: m.listing, Index: m.cursor}
		m.Close()
		return m, func() tea.Msg { return picked }
	case "j", "down":
		m.moveCursor(m.cursor + 1)
	case "k", "up":
		m.moveCursor(m.cursor - 1)
	case "g", "home":
		m.moveCursor(0)
	case "G", "end":
		m.moveCursor(len(m.items) - 1)
	}
	return m, nil
}

func (m *ModalModel) moveCursor(to int) {
	if len(m.items) == 0 {
		return
	}
	m.cursor = min(max(to, 0), len(m.items)-1)
	m.renderRows()
}

// renderRows redraws the picker and scrolls the cursor row into view.
func (m *ModalModel) renderRows() {
	var sb strings.Builder
	for i, it := range m.items {
		marker := "  "
		if it.Current {
			marker = theme.TextInfo.Render(theme.SymbolArrowR) + " "
		}
		row := fmt.Sprintf("%3d. %s", i+1, it.Label)
		if i == m.cursor {
			row = theme.Bold.Reverse(true).Render(row)
		}
		sb.WriteString(marker + row)
		if it.Detail != "" {
			sb.WriteString(" " + theme.TextMuted.Render(it.Detail))
		}
		sb.WriteString("\n")
	}
	if m.hint != "" {
		if len(m.items) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.hint)
	}
	m.Viewport.SetContent(sb.String())

	if m.cursor < m.Viewport.YOffset {
		m.Viewport.SetYOffset(m.cursor)
	} else if h := m.Viewport.Height; h > 0 && m.cursor >= m.Viewport.YOffset+h {
		m.Viewport.SetYOffset(m.cursor - h + 1)
	}
}

// View renders the overlay.
func (m ModalModel) View() string {
	if !m.Visible {
		return ""
	}

	titleBar := theme.Bold.Render("  " + m.Title)
	keys := "  Esc/q: close  j/k: scroll  g/G: top/bottom"
	if m.listing != "" {
		keys = "  Enter: choose  j/k: move  Esc/q: close"
	}
	footer := theme.Dim.Render(keys)
	if m.listing == "" {
		footer += "  " + theme.TextMuted.Render(fmt.Sprintf(" %.0f%%", m.Viewport.ScrollPercent()*100))
	}

	inner := lipgloss.JoinVertical(lipgloss.Left, titleBar, m.Viewport.View(), footer)

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1).
		Width(max(m.width-2, 0)).
		Height(max(m.height-2, 0)).
		Render(inner)
}
