package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"llama-chat/internal/domain"
)

// maxConcurrentDeletes bounds bulk delete fan-out.
const maxConcurrentDeletes = 4

// ManagerDeps are the collaborators of a SessionManager. Cache and Bus may
// be nil.
type ManagerDeps struct {
	API    domain.ConversationAPI
	Dialer domain.TransportDialer
	Bus    domain.EventBus
	Cache  domain.TranscriptCache
	Logger *slog.Logger
}

// SessionManager owns the store and the single GenerationSession of the
// conversation that is currently open. Switching conversations closes the
// old session before the new one opens its transport.
type SessionManager struct {
	deps   ManagerDeps
	cfg    SessionConfig
	store  *ConversationStore
	logger *slog.Logger

	opMu sync.Mutex // serializes Switch, Clear, Delete and Close

	mu      sync.RWMutex
	current *GenerationSession
	name    string
	offline bool
	closed  bool
}

// NewSessionManager creates a manager with no open conversation.
func NewSessionManager(deps ManagerDeps, cfg SessionConfig) *SessionManager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &SessionManager{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		store:  NewConversationStore(),
		logger: deps.Logger.With("component", "session_manager"),
	}
}

// Store returns the store of the open conversation.
func (m *SessionManager) Store() *ConversationStore { return m.store }

// Current returns the open session, or nil.
func (m *SessionManager) Current() *GenerationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CurrentID returns the id of the open conversation, or "".
func (m *SessionManager) CurrentID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.ConversationID()
}

// CurrentName returns the display name of the open conversation.
func (m *SessionManager) CurrentName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Offline reports whether the open transcript was served from the cache.
func (m *SessionManager) Offline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offline
}

// Switch opens conversation id. The current session is closed first. When
// the backend cannot be reached the cached transcript is shown instead.
func (m *SessionManager) Switch(ctx context.Context, id string) (*GenerationSession, error) {
	const op = "Manager.Switch"
	if strings.TrimSpace(id) == "" {
		return nil, m.fail(op, "", domain.NewDomainError(op, domain.ErrInvalidInput, "empty conversation id"))
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.isClosed() {
		return nil, domain.ErrSessionClosed
	}

	m.closeCurrent()

	msgs, tokens, name, offline, err := m.load(ctx, id)
	if err != nil {
		m.publish(domain.EventConversationSwitched, "", domain.SwitchedPayload{})
		return nil, m.fail(op, id, err)
	}
	m.store.Load(msgs, tokens)

	sess := NewGenerationSession(id, SessionDeps{
		API:    m.deps.API,
		Dialer: m.deps.Dialer,
		Store:  m.store,
		Bus:    m.deps.Bus,
		Cache:  m.deps.Cache,
		Logger: m.deps.Logger,
	}, m.cfg)

	m.mu.Lock()
	m.current = sess
	m.name = name
	m.offline = offline
	m.mu.Unlock()

	if !offline {
		if err := sess.Connect(ctx); err != nil {
			m.logger.Warn("connect failed", "conversation", id, "error", err)
		}
	}

	m.logger.Info("conversation opened", "conversation", id, "messages", len(msgs), "offline", offline)
	m.publish(domain.EventConversationSwitched, id, domain.SwitchedPayload{ID: id, Name: name, Offline: offline})
	return sess, nil
}

// load fetches a conversation, falling back to the cache when the backend
// fails for any reason other than the conversation not existing.
func (m *SessionManager) load(ctx context.Context, id string) ([]domain.Message, int, string, bool, error) {
	rctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	detail, err := m.deps.API.GetConversation(rctx, id)
	if err == nil {
		conv := detail.Conversation
		tokens := detail.TotalLength
		if tokens < 0 {
			if n, terr := m.deps.API.TokenCount(rctx, id); terr == nil {
				tokens = n
			} else {
				m.logger.Debug("token count unavailable", "conversation", id, "error", terr)
				tokens = 0
			}
		}
		name := conv.Name
		if name == "" {
			name = id
		}
		m.saveSnapshot(ctx, id, conv.Messages, tokens)
		return conv.Messages, tokens, name, false, nil
	}

	if m.deps.Cache == nil || errors.Is(err, domain.ErrNotFound) {
		return nil, 0, "", false, err
	}
	t, cerr := m.deps.Cache.Load(ctx, id)
	if cerr != nil {
		return nil, 0, "", false, err
	}
	m.logger.Warn("backend unavailable, showing cached transcript",
		"conversation", id, "saved_at", t.SavedAt.Format(time.RFC3339), "error", err)
	return t.Messages, t.TokenCount, id, true, nil
}

func (m *SessionManager) saveSnapshot(ctx context.Context, id string, msgs []domain.Message, tokens int) {
	if m.deps.Cache == nil {
		return
	}
	err := m.deps.Cache.Save(ctx, domain.Transcript{
		ConversationID: id,
		Messages:       msgs,
		TokenCount:     tokens,
		SavedAt:        time.Now(),
	})
	if err != nil {
		m.logger.Warn("transcript snapshot failed", "conversation", id, "error", err)
	}
}

// Create starts a new conversation on the backend and opens it.
func (m *SessionManager) Create(ctx context.Context) (domain.ConversationSummary, error) {
	const op = "Manager.Create"
	rctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	conv, err := m.deps.API.CreateConversation(rctx)
	cancel()
	if err != nil {
		return domain.ConversationSummary{}, m.fail(op, "", err)
	}
	m.publish(domain.EventConversationsChanged, conv.ID, nil)
	if _, err := m.Switch(ctx, conv.ID); err != nil {
		return conv, err
	}
	return conv, nil
}

// Rename changes the display name of conversation id.
func (m *SessionManager) Rename(ctx context.Context, id, name string) error {
	const op = "Manager.Rename"
	name = strings.TrimSpace(name)
	if name == "" {
		return m.fail(op, id, domain.NewDomainError(op, domain.ErrInvalidInput, "name is empty"))
	}
	if id == "" {
		return m.fail(op, "", domain.NewDomainError(op, domain.ErrNoConversation, ""))
	}

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	if err := m.deps.API.RenameConversation(rctx, id, name); err != nil {
		return m.fail(op, id, err)
	}

	m.mu.Lock()
	isCurrent := m.current != nil && m.current.ConversationID() == id
	if isCurrent {
		m.name = name
	}
	m.mu.Unlock()

	m.publish(domain.EventConversationsChanged, id, nil)
	if isCurrent {
		m.publish(domain.EventConversationSwitched, id, domain.SwitchedPayload{ID: id, Name: name})
	}
	return nil
}

// Delete removes conversations concurrently. If the open conversation is
// among them it is closed. Returns the ids that were deleted and the first
// error.
func (m *SessionManager) Delete(ctx context.Context, ids ...string) ([]string, error) {
	const op = "Manager.Delete"
	if len(ids) == 0 {
		return nil, nil
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	deleted := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDeletes)
	for i, id := range ids {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, m.cfg.RequestTimeout)
			defer cancel()
			if err := m.deps.API.DeleteConversation(rctx, id); err != nil {
				return err
			}
			deleted[i] = true
			return nil
		})
	}
	err := g.Wait()

	var out []string
	current := m.CurrentID()
	clearCurrent := false
	for i, ok := range deleted {
		if !ok {
			continue
		}
		id := ids[i]
		out = append(out, id)
		if id == current {
			clearCurrent = true
		}
		if m.deps.Cache != nil {
			if cerr := m.deps.Cache.Delete(ctx, id); cerr != nil {
				m.logger.Warn("cache delete failed", "conversation", id, "error", cerr)
			}
		}
	}
	if clearCurrent {
		m.closeCurrent()
		m.publish(domain.EventConversationSwitched, "", domain.SwitchedPayload{})
	}
	if len(out) > 0 {
		m.publish(domain.EventConversationsChanged, "", nil)
	}
	if err != nil {
		return out, m.fail(op, "", err)
	}
	return out, nil
}

// List returns the conversations known to the backend.
func (m *SessionManager) List(ctx context.Context) ([]domain.ConversationSummary, error) {
	rctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	list, err := m.deps.API.ListConversations(rctx)
	if err != nil {
		return nil, m.fail("Manager.List", "", err)
	}
	return list, nil
}

// Models returns the models the backend can load.
func (m *SessionManager) Models(ctx context.Context) ([]string, error) {
	rctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	models, err := m.deps.API.ListModels(rctx)
	if err != nil {
		return nil, m.fail("Manager.Models", "", err)
	}
	return models, nil
}

// DefaultModel returns the model the backend loads on startup.
func (m *SessionManager) DefaultModel(ctx context.Context) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	name, err := m.deps.API.DefaultModel(rctx)
	if err != nil {
		return "", m.fail("Manager.DefaultModel", "", err)
	}
	return name, nil
}

// SetModel switches the backend model.
func (m *SessionManager) SetModel(ctx context.Context, name string) error {
	const op = "Manager.SetModel"
	name = strings.TrimSpace(name)
	if name == "" {
		return m.fail(op, "", domain.NewDomainError(op, domain.ErrInvalidInput, "model name is empty"))
	}
	if err := m.deps.API.SetModel(ctx, name); err != nil {
		return m.fail(op, "", err)
	}
	m.logger.Info("model changed", "model", name)
	return nil
}

// Clear closes the open conversation, if any.
func (m *SessionManager) Clear() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.closeCurrent() {
		m.publish(domain.EventConversationSwitched, "", domain.SwitchedPayload{})
	}
}

// Close closes the open session. Further Switch calls fail.
func (m *SessionManager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeCurrent()
	return nil
}

func (m *SessionManager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// closeCurrent closes the open session and empties the store. Callers hold
// opMu.
func (m *SessionManager) closeCurrent() bool {
	m.mu.Lock()
	sess := m.current
	m.current = nil
	m.name = ""
	m.offline = false
	m.mu.Unlock()

	if sess == nil {
		return false
	}
	_ = sess.Close()
	m.store.Reset()
	return true
}

func (m *SessionManager) publish(t domain.EventType, convID string, payload any) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Publish(context.Background(), domain.NewEvent(t, convID, payload))
}

func (m *SessionManager) fail(op, convID string, err error) error {
	m.logger.Warn("manager operation failed", "op", op, "conversation", convID, "error", err)
	m.publish(domain.EventSessionError, convID, domain.ErrorPayload{
		Op:    op,
		Code:  domain.ErrorCodeOf(err),
		Error: err.Error(),
	})
	return err
}

// Snapshot is a consistent view of the open conversation for the UI.
type Snapshot struct {
	ConversationID string
	Name           string
	Offline        bool
	Messages       []domain.Message
	TokenCount     int
	State          domain.GenerationState
	Transport      domain.TransportState
}

// Snapshot returns the current conversation state. With nothing open the
// state is Idle and the transport Closed.
func (m *SessionManager) Snapshot() Snapshot {
	m.mu.RLock()
	sess, name, offline := m.current, m.name, m.offline
	m.mu.RUnlock()

	snap := Snapshot{
		Name:       name,
		Offline:    offline,
		Messages:   m.store.Messages(),
		TokenCount: m.store.TokenCount(),
		State:      domain.Idle(),
		Transport:  domain.TransportClosed,
	}
	if sess != nil {
		snap.ConversationID = sess.ConversationID()
		snap.State = sess.State()
		snap.Transport = sess.TransportState()
	}
	return snap
}

// Open is Switch for callers that do not need the session handle.
func (m *SessionManager) Open(ctx context.Context, id string) error {
	_, err := m.Switch(ctx, id)
	return err
}

// session returns the open session or ErrNoConversation.
func (m *SessionManager) session(op string) (*GenerationSession, error) {
	if sess := m.Current(); sess != nil {
		return sess, nil
	}
	return nil, m.fail(op, "", domain.NewDomainError(op, domain.ErrNoConversation, ""))
}

// Submit sends text to the open conversation.
func (m *SessionManager) Submit(ctx context.Context, text string) error {
	sess, err := m.session("Manager.Submit")
	if err != nil {
		return err
	}
	return sess.Submit(ctx, text)
}

// Stop stops the stream of the open conversation.
func (m *SessionManager) Stop(ctx context.Context) error {
	sess, err := m.session("Manager.Stop")
	if err != nil {
		return err
	}
	return sess.Stop(ctx)
}

// Regenerate regenerates the bot message at index in the open conversation.
func (m *SessionManager) Regenerate(ctx context.Context, index int) error {
	sess, err := m.session("Manager.Regenerate")
	if err != nil {
		return err
	}
	return sess.Regenerate(ctx, index)
}

// Edit replaces the text of the message at index in the open conversation.
func (m *SessionManager) Edit(ctx context.Context, index int, text string) error {
	sess, err := m.session("Manager.Edit")
	if err != nil {
		return err
	}
	return sess.Edit(ctx, index, text)
}
