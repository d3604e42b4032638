package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventGenerationState      EventType = "generation.state"
	EventTranscriptUpdated    EventType = "transcript.updated"
	EventTokensUpdated        EventType = "tokens.updated"
	EventTransportState       EventType = "transport.state"
	EventSessionError         EventType = "session.error"
	EventConversationSwitched EventType = "conversation.switched"
	EventConversationsChanged EventType = "conversations.changed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	SessionID      string          `json:"session_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides publish/subscribe for session notifications.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
	Close()
}

// GenerationStatePayload is the payload of EventGenerationState.
type GenerationStatePayload struct {
	Mode        string `json:"mode"`
	TargetIndex int    `json:"target_index"`
}

// TranscriptPayload is the payload of EventTranscriptUpdated.
type TranscriptPayload struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// TokensPayload is the payload of EventTokensUpdated.
type TokensPayload struct {
	Total int `json:"total"`
}

// TransportStatePayload is the payload of EventTransportState.
type TransportStatePayload struct {
	State string `json:"state"`
}

// ErrorPayload is the payload of EventSessionError.
type ErrorPayload struct {
	Op    string    `json:"op"`
	Code  ErrorCode `json:"code"`
	Error string    `json:"error"`
}

// SwitchedPayload is the payload of EventConversationSwitched. An empty ID
// means no conversation is selected. Offline marks a transcript served from
// the local cache.
type SwitchedPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Offline bool   `json:"offline,omitempty"`
}

// NewEvent builds an event, marshalling payload when it is non-nil.
func NewEvent(t EventType, conversationID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), ConversationID: conversationID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}
