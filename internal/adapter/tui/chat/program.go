package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"llama-chat/internal/domain"
)

// Run starts the Bubble Tea program and blocks until it exits. Every bus
// event is forwarded into the update loop. Cancelling ctx quits the program.
func Run(ctx context.Context, deps ModelDeps, bus domain.EventBus, opts ...tea.ProgramOption) error {
	deps.Context = ctx
	model := NewModel(deps)

	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}
	}
	program := tea.NewProgram(model, opts...)

	if bus != nil {
		unsub := bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			program.Send(BusEventMsg{Event: event})
		})
		defer unsub()
	}

	stop := context.AfterFunc(ctx, func() {
		program.Send(QuitMsg{})
	})
	defer stop()

	_, err := program.Run()
	return err
}
