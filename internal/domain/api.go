package domain

import "context"

// ConversationAPI is the backend's REST surface.
type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
	CreateConversation(ctx context.Context) (ConversationSummary, error)
	GetConversation(ctx context.Context, id string) (*ConversationDetail, error)
	RenameConversation(ctx context.Context, id, name string) error
	DeleteConversation(ctx context.Context, id string) error

	// PostUserMessage persists a user turn and returns the authoritative
	// message list of the conversation.
	PostUserMessage(ctx context.Context, conversationID, text string) ([]Message, error)
	EditMessage(ctx context.Context, conversationID string, msg Message) error
	TokenCount(ctx context.Context, conversationID string) (int, error)

	ListModels(ctx context.Context) ([]string, error)
	SetModel(ctx context.Context, name string) error
	DefaultModel(ctx context.Context) (string, error)
}

// TranscriptCache keeps the last known transcript of each conversation.
type TranscriptCache interface {
	Save(ctx context.Context, t Transcript) error
	// Load returns ErrNotFound if nothing is cached for the conversation.
	Load(ctx context.Context, conversationID string) (*Transcript, error)
	Delete(ctx context.Context, conversationID string) error
}
