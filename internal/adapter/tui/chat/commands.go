package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"llama-chat/internal/adapter/tui/components"
	"llama-chat/internal/domain"
)

var commandDefs = []components.CommandDef{
	{Name: "/help", Description: "Show commands and keys"},
	{Name: "/new", Description: "Start a new conversation"},
	{Name: "/list", Description: "List conversations"},
	{Name: "/open", Args: "<id|n>", Description: "Open a conversation by id or list number"},
	{Name: "/rename", Args: "<name>", Description: "Rename the open conversation"},
	{Name: "/delete", Args: "[id|n ...]", Description: "Delete conversations (default: the open one)"},
	{Name: "/regen", Args: "<index>", Description: "Regenerate a bot message"},
	{Name: "/edit", Args: "<index> <text>", Description: "Replace the text of a message"},
	{Name: "/stop", Description: "Stop the streaming reply"},
	{Name: "/models", Description: "List backend models"},
	{Name: "/model", Args: "<name|n>", Description: "Switch the backend model"},
	{Name: "/quit", Description: "Exit llama-chat"},
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, c := range commandDefs {
		sb.WriteString(fmt.Sprintf("  %-22s %s\n", c.Usage(), c.Description))
	}
	sb.WriteString(`
Keys:
  Enter        Send, or stop the reply while streaming
  Esc          Stop the reply while streaming
  Alt+Enter    New line
  PgUp/PgDn    Scroll the transcript
  Ctrl+C       Stop while streaming, otherwise quit

Message numbers (#n) are the indexes used by /regen and /edit.
List numbers (n) refer to the last /list or /models output.`)
	return sb.String()
}

// submitCmd sends text, creating a conversation first when none is open.
func submitCmd(ctx context.Context, c Controller, text string, create bool) tea.Cmd {
	return func() tea.Msg {
		if create {
			if _, err := c.Create(ctx); err != nil {
				return CommandDoneMsg{Err: err}
			}
		}
		return CommandDoneMsg{Err: c.Submit(ctx, text)}
	}
}

func stopCmd(ctx context.Context, c Controller) tea.Cmd {
	return func() tea.Msg {
		return CommandDoneMsg{Err: c.Stop(ctx)}
	}
}

func createCmd(ctx context.Context, c Controller) tea.Cmd {
	return func() tea.Msg {
		conv, err := c.Create(ctx)
		if err != nil {
			return CommandDoneMsg{Err: err}
		}
		return CommandDoneMsg{Notice: "Started " + conv.Name}
	}
}

func openCmd(ctx context.Context, c Controller, id string) tea.Cmd {
	return func() tea.Msg {
		if err := c.Open(ctx, id); err != nil {
			return CommandDoneMsg{Err: err}
		}
		return CommandDoneMsg{Notice: "Opened " + id}
	}
}

func listCmd(ctx context.Context, c Controller, show bool) tea.Cmd {
	return func() tea.Msg {
		items, err := c.List(ctx)
		if err != nil {
			return CommandDoneMsg{Err: err}
		}
		return ListLoadedMsg{Items: items, Show: show}
	}
}

func renameCmd(ctx context.Context, c Controller, id, name string) tea.Cmd {
	return func() tea.Msg {
		if err := c.Rename(ctx, id, name); err != nil {
			return CommandDoneMsg{Err: err}
		}
		return CommandDoneMsg{Notice: "Renamed to " + strings.TrimSpace(name)}
	}
}

func deleteCmd(ctx context.Context, c Controller, ids []string) tea.Cmd {
	return func() tea.Msg {
		deleted, err := c.Delete(ctx, ids...)
		if err != nil {
			return CommandDoneMsg{Err: err}
		}
		return CommandDoneMsg{Notice: fmt.Sprintf("Deleted %d conversation(s)", len(deleted))}
	}
}

func regenerateCmd(ctx context.Context, c Controller, index int) tea.Cmd {
	return func() tea.Msg {
		return CommandDoneMsg{Err: c.Regenerate(ctx, index)}
	}
}

func editCmd(ctx context.Context, c Controller, index int, text string) tea.Cmd {
	return func() tea.Msg {
		if err := c.Edit(ctx, index, text); err != nil {
			return CommandDoneMsg{Err: err}
		}
		return CommandDoneMsg{Notice: fmt.Sprintf("Edited #%d", index)}
	}
}

func modelsCmd(ctx context.Context, c Controller) tea.Cmd {
	return func() tea.Msg {
		models, err := c.Models(ctx)
		if err != nil {
			return CommandDoneMsg{Err: err}
		}
		return ModelsLoadedMsg{Models: models}
	}
}

func defaultModelCmd(ctx context.Context, c Controller) tea.Cmd {
	return func() tea.Msg {
		name, err := c.DefaultModel(ctx)
		if err != nil || name == "" {
			return nil
		}
		return ModelChangedMsg{Name: name}
	}
}

func setModelCmd(ctx context.Context, c Controller, name string) tea.Cmd {
	return func() tea.Msg {
		if err := c.SetModel(ctx, name); err != nil {
			return CommandDoneMsg{Err: err}
		}
		return ModelChangedMsg{Name: name}
	}
}

// parseIndex parses a message index argument.
func parseIndex(op, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("%q is not a message index", s))
	}
	return n, nil
}

// resolveRef maps a 1-based list number to an entry of names. Anything else
// is returned as is.
func resolveRef(ref string, names []string) string {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(names) {
		return names[n-1]
	}
	return ref
}

func usageError(op, usage string) error {
	return domain.NewDomainError(op, domain.ErrInvalidInput, "usage: "+usage)
}
