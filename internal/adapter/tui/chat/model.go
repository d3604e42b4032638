package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"llama-chat/internal/adapter/tui/components"
	"llama-chat/internal/adapter/tui/theme"
	"llama-chat/internal/adapter/tui/uxerror"
	"llama-chat/internal/domain"
	"llama-chat/internal/usecase"
)

// Controller is what the chat model drives. *usecase.SessionManager
// satisfies it.
type Controller interface {
	Snapshot() usecase.Snapshot
	Submit(ctx context.Context, text string) error
	Stop(ctx context.Context) error
	Regenerate(ctx context.Context, index int) error
	Edit(ctx context.Context, index int, text string) error
	Create(ctx context.Context) (domain.ConversationSummary, error)
	Open(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, ids ...string) ([]string, error)
	List(ctx context.Context) ([]domain.ConversationSummary, error)
	Models(ctx context.Context) ([]string, error)
	DefaultModel(ctx context.Context) (string, error)
	SetModel(ctx context.Context, name string) error
}

var _ Controller = (*usecase.SessionManager)(nil)

// ModelDeps are dependencies injected into the chat model.
type ModelDeps struct {
	Controller Controller
	Logger     *slog.Logger
	Context    context.Context
	OpenOnInit string // conversation to open at startup
}

// Model is the root Bubble Tea model for the chat TUI. It holds no
// transcript of its own: every bus event re-reads the controller snapshot.
type Model struct {
	deps ModelDeps
	ctx  context.Context

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model
	modal     components.ModalModel

	snap      usecase.Snapshot
	pending   bool     // a submit is on its way to the session
	listing   []string // conversation ids of the last /list, for "n" refs
	models    []string // names of the last /models
	modelName string

	width    int
	height   int
	quitting bool
}

// NewModel creates the root chat model.
func NewModel(deps ModelDeps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx := deps.Context
	if ctx == nil {
		ctx = context.Background()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	chatView := components.NewChatView()

	input := components.NewInputArea()
	input.Autocomplete = components.NewAutocomplete(commandDefs)

	m := Model{
		deps:      deps,
		ctx:       ctx,
		chatView:  chatView,
		input:     input,
		statusBar: components.NewStatusBar(),
		spinner:   s,
		modal:     components.NewModal(),
	}
	m.sync()
	return m
}

// Init starts the spinner, asks for the default model and opens the
// startup conversation.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, defaultModelCmd(m.ctx, m.deps.Controller)}
	if id := strings.TrimSpace(m.deps.OpenOnInit); id != "" {
		cmds = append(cmds, openCmd(m.ctx, m.deps.Controller, id))
	}
	return tea.Batch(cmds...)
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.modal.SetSize(m.width, m.height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case BusEventMsg:
		m.handleEvent(msg.Event)
		return m, nil

	case CommandDoneMsg:
		m.pending = false
		switch {
		case msg.Err != nil:
			m.showError(msg.Err)
		case msg.Notice != "":
			m.statusBar.SetNotice(components.NoticeSuccess, msg.Notice)
		}
		m.sync()
		return m, nil

	case ListLoadedMsg:
		m.listing = make([]string, 0, len(msg.Items))
		for _, c := range msg.Items {
			m.listing = append(m.listing, c.ID)
		}
		if msg.Show {
			m.modal.SetSize(m.width, m.height)
			m.modal.OpenPicker(pickConversation, "Conversations", m.conversationItems(msg.Items),
				listHint(len(msg.Items), "/delete <n ...> to delete.", "No conversations yet. Use /new to start one."))
		}
		return m, nil

	case ModelsLoadedMsg:
		m.models = msg.Models
		m.modal.SetSize(m.width, m.height)
		m.modal.OpenPicker(pickModel, "Models", m.modelItems(),
			listHint(len(m.models), "/model <n> also switches.", "The backend reported no models."))
		return m, nil

	case components.PickedMsg:
		return m, m.picked(msg)

	case ModelChangedMsg:
		m.modelName = msg.Name
		m.statusBar.Model = msg.Name
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the whole UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}
	if m.modal.Visible {
		return m.modal.View()
	}

	inputView := m.input.View()
	if m.streaming() {
		inputView = m.spinner.View() + " " + theme.Streaming.Render(m.snap.State.String()) +
			theme.Dim.Render("  Enter/Esc: stop") + "\n" + inputView
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		components.Divider(m.width),
		inputView,
		m.statusBar.View(),
	)
}

func (m *Model) layout() {
	const inputH, statusH, dividerH, streamH = 3, 1, 1, 1
	contentH := max(m.height-inputH-statusH-dividerH-streamH, 5)

	m.statusBar.SetWidth(m.width)
	m.chatView.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

func (m Model) streaming() bool {
	return m.snap.State.IsStreaming()
}

// sync re-reads the controller snapshot into the sub-models.
func (m *Model) sync() {
	m.snap = m.deps.Controller.Snapshot()

	m.statusBar.Conversation = m.snap.Name
	if m.statusBar.Conversation == "" {
		m.statusBar.Conversation = m.snap.ConversationID
	}
	m.statusBar.Offline = m.snap.Offline
	m.statusBar.Tokens = m.snap.TokenCount
	m.statusBar.State = m.snap.State
	m.statusBar.Transport = m.snap.Transport
	m.statusBar.Model = m.modelName

	m.chatView.SetMessages(components.FromDomain(m.snap.Messages, streamingIndex(m.snap)))
	m.input.SetEnabled(m.snap.State.IsIdle() && !m.pending)
}

// streamingIndex returns the index of the message receiving deltas, or -1.
func streamingIndex(s usecase.Snapshot) int {
	switch s.State.Mode {
	case domain.GenerationStreamingRegenerate:
		return s.State.TargetIndex
	case domain.GenerationStreamingNew:
		if n := len(s.Messages); n > 0 && s.Messages[n-1].IsBot() {
			return s.Messages[n-1].Index
		}
	}
	return -1
}

func (m *Model) handleEvent(ev domain.Event) {
	if ev.Type == domain.EventSessionError {
		var p domain.ErrorPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			fe := uxerror.HumanizeCode(p.Code, p.Error, "")
			m.statusBar.SetNotice(components.NoticeError, fe.Notice())
			m.deps.Logger.Debug("session error", "op", p.Op, "code", p.Code, "error", p.Error)
		}
	}
	m.sync()
}

func (m *Model) showError(err error) {
	fe := uxerror.Humanize(err)
	m.statusBar.SetNotice(components.NoticeError, fe.Notice())
	m.deps.Logger.Debug("command failed", "code", fe.Code, "error", fe.Raw)
}

func (m *Model) openModal(title, content string) {
	m.modal.SetSize(m.width, m.height)
	m.modal.Open(title, content)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.modal.Visible {
		var cmd tea.Cmd
		m.modal, cmd = m.modal.Update(msg)
		return m, cmd
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.streaming() {
			return m, stopCmd(m.ctx, m.deps.Controller)
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		if m.streaming() {
			return m, stopCmd(m.ctx, m.deps.Controller)
		}

	case tea.KeyEnter:
		if m.streaming() && !msg.Alt {
			return m, stopCmd(m.ctx, m.deps.Controller)
		}

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, rest, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, rest)
	}
	if !m.snap.State.IsIdle() || m.pending {
		return m, nil
	}
	m.pending = true
	m.input.SetEnabled(false)
	m.statusBar.SetNotice(components.NoticeInfo, "")
	create := m.snap.ConversationID == ""
	return m, submitCmd(m.ctx, m.deps.Controller, value, create)
}

func (m Model) handleSlashCommand(cmd, rest string) (tea.Model, tea.Cmd) {
	ctx, c := m.ctx, m.deps.Controller
	args := strings.Fields(rest)

	switch cmd {
	case "/help":
		m.openModal("Help", helpText())
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/new":
		return m, createCmd(ctx, c)

	case "/list":
		return m, listCmd(ctx, c, true)

	case "/open":
		if len(args) != 1 {
			m.showError(usageError("chat.open", "/open <id|n>"))
			return m, nil
		}
		return m, openCmd(ctx, c, resolveRef(args[0], m.listing))

	case "/rename":
		if rest == "" {
			m.showError(usageError("chat.rename", "/rename <name>"))
			return m, nil
		}
		if m.snap.ConversationID == "" {
			m.showError(domain.NewDomainError("chat.rename", domain.ErrNoConversation, ""))
			return m, nil
		}
		return m, tea.Batch(renameCmd(ctx, c, m.snap.ConversationID, rest), listCmd(ctx, c, false))

	case "/delete":
		ids := make([]string, 0, len(args))
		for _, a := range args {
			ids = append(ids, resolveRef(a, m.listing))
		}
		if len(ids) == 0 {
			if m.snap.ConversationID == "" {
				m.showError(domain.NewDomainError("chat.delete", domain.ErrNoConversation, ""))
				return m, nil
			}
			ids = []string{m.snap.ConversationID}
		}
		return m, deleteCmd(ctx, c, ids)

	case "/regen":
		if len(args) != 1 {
			m.showError(usageError("chat.regen", "/regen <index>"))
			return m, nil
		}
		idx, err := parseIndex("chat.regen", args[0])
		if err != nil {
			m.showError(err)
			return m, nil
		}
		return m, regenerateCmd(ctx, c, idx)

	case "/edit":
		idxArg, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if idxArg == "" || text == "" {
			m.showError(usageError("chat.edit", "/edit <index> <text>"))
			return m, nil
		}
		idx, err := parseIndex("chat.edit", idxArg)
		if err != nil {
			m.showError(err)
			return m, nil
		}
		return m, editCmd(ctx, c, idx, text)

	case "/stop":
		return m, stopCmd(ctx, c)

	case "/models":
		return m, modelsCmd(ctx, c)

	case "/model":
		if len(args) != 1 {
			m.showError(usageError("chat.model", "/model <name|n>"))
			return m, nil
		}
		return m, setModelCmd(ctx, c, resolveRef(args[0], m.models))

	default:
		m.showError(domain.NewDomainError("chat", domain.ErrInvalidInput,
			fmt.Sprintf("unknown command %s", cmd)))
		return m, nil
	}
}

const (
	pickConversation = "conversation"
	pickModel        = "model"
)

func (m Model) conversationItems(items []domain.ConversationSummary) []components.PickerItem {
	rows := make([]components.PickerItem, 0, len(items))
	for _, c := range items {
		rows = append(rows, components.PickerItem{Label: c.Name, Detail: c.ID, Current: c.ID == m.snap.ConversationID})
	}
	return rows
}

func (m Model) modelItems() []components.PickerItem {
	rows := make([]components.PickerItem, 0, len(m.models))
	for _, name := range m.models {
		rows = append(rows, components.PickerItem{Label: name, Current: name == m.modelName})
	}
	return rows
}

func listHint(n int, some, none string) string {
	if n == 0 {
		return none
	}
	return some
}

// picked turns a picker choice into the command /open or /model would run.
func (m Model) picked(msg components.PickedMsg) tea.Cmd {
	switch msg.Listing {
	case pickConversation:
		if msg.Index < len(m.listing) {
			return openCmd(m.ctx, m.deps.Controller, m.listing[msg.Index])
		}
	case pickModel:
		if msg.Index < len(m.models) {
			return setModelCmd(m.ctx, m.deps.Controller, m.models[msg.Index])
		}
	}
	return nil
}
