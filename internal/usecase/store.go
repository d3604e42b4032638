package usecase

import (
	"fmt"
	"sync"

	"llama-chat/internal/domain"
)

// ConversationStore is the in-memory message list of the conversation that
// is currently open, plus its last known token count.
//
// Only the owning GenerationSession (or the SessionManager while no session
// is running) writes to the store. Readers on other goroutines get copies.
type ConversationStore struct {
	mu         sync.RWMutex
	messages   []domain.Message
	tokenCount int
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{}
}

// Append adds msg at the end and returns its index.
func (s *ConversationStore) Append(msg domain.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Index = len(s.messages)
	s.messages = append(s.messages, msg)
	return msg.Index
}

// ReplaceAt overwrites the message at index. The stored index is kept.
func (s *ConversationStore) ReplaceAt(index int, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.messages) {
		return domain.NewDomainError("Store.ReplaceAt", domain.ErrInvalidInput,
			fmt.Sprintf("index %d out of range [0,%d)", index, len(s.messages)))
	}
	msg.Index = index
	s.messages[index] = msg
	return nil
}

// AppendText concatenates delta onto the message at index.
func (s *ConversationStore) AppendText(index int, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.messages) {
		return domain.NewDomainError("Store.AppendText", domain.ErrInvalidInput,
			fmt.Sprintf("index %d out of range [0,%d)", index, len(s.messages)))
	}
	s.messages[index].Text += delta
	return nil
}

// AppendDelta appends delta to the last message if it is a bot message,
// otherwise starts a new bot message. Returns the index written.
func (s *ConversationStore) AppendDelta(delta string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.messages); n > 0 && s.messages[n-1].IsBot() {
		s.messages[n-1].Text += delta
		return n - 1
	}
	idx := len(s.messages)
	s.messages = append(s.messages, domain.Message{Role: domain.RoleBot, Text: delta, Index: idx})
	return idx
}

// Reset discards all messages and the token count.
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.tokenCount = 0
}

// Load replaces the contents with msgs, reindexed from zero.
func (s *ConversationStore) Load(msgs []domain.Message, tokenCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = domain.Reindex(msgs)
	s.tokenCount = tokenCount
}

// Reconcile merges the authoritative list returned by the backend. Messages
// past the local length are appended. If the backend list is shorter than the
// local one the store is rebuilt from it. Returns the number of messages
// appended, or -1 after a rebuild.
func (s *ConversationStore) Reconcile(server []domain.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(server) < len(s.messages) {
		s.messages = domain.Reindex(server)
		return -1
	}
	added := 0
	for _, m := range server[len(s.messages):] {
		m.Index = len(s.messages)
		s.messages = append(s.messages, m)
		added++
	}
	return added
}

// Messages returns a copy of the message list.
func (s *ConversationStore) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// At returns the message at index.
func (s *ConversationStore) At(index int) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.messages) {
		return domain.Message{}, false
	}
	return s.messages[index], true
}

// Len returns the number of messages.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// TokenCount returns the cached token count.
func (s *ConversationStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenCount
}

// SetTokenCount updates the cached token count.
func (s *ConversationStore) SetTokenCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCount = n
}
