// Package chat is the Bubble Tea front end of llama-chat.
package chat

import "llama-chat/internal/domain"

// BusEventMsg carries an event from the event bus into the update loop. The
// model treats every event as a prompt to re-read the session snapshot.
type BusEventMsg struct {
	Event domain.Event
}

// CommandDoneMsg reports the outcome of a background command. Notice is
// shown on success; Err is humanized into the status bar.
type CommandDoneMsg struct {
	Notice string
	Err    error
}

// ListLoadedMsg carries the conversation list. Show opens it in the modal.
type ListLoadedMsg struct {
	Items []domain.ConversationSummary
	Show  bool
}

// ModelsLoadedMsg carries the models the backend can load.
type ModelsLoadedMsg struct {
	Models []string
}

// ModelChangedMsg reports the active model name.
type ModelChangedMsg struct {
	Name string
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
