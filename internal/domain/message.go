package domain

import (
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Wire author names. The backend stores any author other than "bot" as a
// user turn; the client posts its own turns as "You".
const (
	WireUserName = "You"
	WireBotName  = "bot"
)

// RoleFromWire maps a backend author name to a Role.
func RoleFromWire(user string) Role {
	if strings.EqualFold(user, WireBotName) {
		return RoleBot
	}
	return RoleUser
}

// WireName returns the author name the backend expects for r.
func (r Role) WireName() string {
	if r == RoleBot {
		return WireBotName
	}
	return WireUserName
}

// Message is a single turn in a conversation. Index is its position in the
// conversation and is the key for edit and regenerate.
type Message struct {
	Role  Role   `json:"role"`
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// IsBot reports whether the message was authored by the model.
func (m Message) IsBot() bool { return m.Role == RoleBot }

// Conversation is a named, server-owned sequence of messages.
type Conversation struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ConversationDetail is a loaded conversation together with its token count.
// TotalLength is -1 when the backend did not report one.
type ConversationDetail struct {
	Conversation Conversation `json:"conversation"`
	TotalLength  int          `json:"total_length"`
}

// Transcript is a locally cached snapshot of a conversation.
type Transcript struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	TokenCount     int       `json:"token_count"`
	SavedAt        time.Time `json:"saved_at"`
}

// Reindex returns a copy of msgs with Index set to each message's position.
func Reindex(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		m.Index = i
		out[i] = m
	}
	return out
}
