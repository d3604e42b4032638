package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"llama-chat/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- transport ---

type fakeTransport struct {
	convID string
	sink   domain.FrameSink

	mu      sync.Mutex
	state   domain.TransportState
	sent    []domain.Command
	closed  bool
	openErr error
}

func (t *fakeTransport) ConversationID() string { return t.convID }

func (t *fakeTransport) State() domain.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) Send(cmd domain.Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.TransportOpen {
		return domain.ErrTransportNotReady
	}
	t.sent = append(t.sent, cmd)
	return nil
}

func (t *fakeTransport) WaitOpen(ctx context.Context) error {
	t.mu.Lock()
	state, err := t.state, t.openErr
	t.mu.Unlock()
	switch {
	case state == domain.TransportOpen:
		return nil
	case err != nil:
		return err
	default:
		<-ctx.Done()
		return ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.state = domain.TransportClosed
	return nil
}

func (t *fakeTransport) Sent() []domain.Command {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Command(nil), t.sent...)
}

func (t *fakeTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// emit delivers frames as the read loop would.
func (t *fakeTransport) emit(frames ...string) {
	for _, f := range frames {
		t.sink.OnFrame(t, f)
	}
}

// drop simulates the backend closing the connection.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	t.state = domain.TransportClosed
	t.mu.Unlock()
	t.sink.OnClosed(t, err)
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failOpen   error
}

func (d *fakeDialer) Open(conversationID string, sink domain.FrameSink) domain.Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeTransport{convID: conversationID, sink: sink, state: domain.TransportOpen}
	if d.failOpen != nil {
		t.state = domain.TransportConnecting
		t.openErr = d.failOpen
	}
	d.transports = append(d.transports, t)
	return t
}

func (d *fakeDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) Last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) At(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

// --- REST ---

type fakeAPI struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	tokens        int
	getErr        error
	postErr       error
	deleteErr     map[string]error
	postEmpty     bool
	edits         []domain.Message
	renames       map[string]string
	deleted       []string
	models        []string
	model         string

	// mirror stands in for the backend's copy of the transcript, which
	// also holds the bot replies persisted by the streaming endpoint.
	mirror *ConversationStore

	postCalls  atomic.Int32
	tokenCalls atomic.Int32
	getCalls   atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		conversations: map[string]*domain.Conversation{},
		renames:       map[string]string{},
		deleteErr:     map[string]error{},
		tokens:        10,
		models:        []string{"a.gguf", "b.gguf"},
		model:         "a.gguf",
	}
}

func (a *fakeAPI) add(id, name string, msgs ...domain.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversations[id] = &domain.Conversation{ID: id, Name: name, Messages: domain.Reindex(msgs)}
}

func (a *fakeAPI) ListConversations(context.Context) ([]domain.ConversationSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.ConversationSummary
	for _, c := range a.conversations {
		out = append(out, domain.ConversationSummary{ID: c.ID, Name: c.Name})
	}
	return out, nil
}

func (a *fakeAPI) CreateConversation(context.Context) (domain.ConversationSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := "conv-" + string(rune('a'+len(a.conversations)))
	a.conversations[id] = &domain.Conversation{ID: id, Name: "conversation_" + id}
	return domain.ConversationSummary{ID: id, Name: "conversation_" + id}, nil
}

func (a *fakeAPI) GetConversation(_ context.Context, id string) (*domain.ConversationDetail, error) {
	a.getCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.getErr != nil {
		return nil, a.getErr
	}
	c, ok := a.conversations[id]
	if !ok {
		return nil, domain.NewDomainError("fake.Get", domain.ErrNotFound, id)
	}
	return &domain.ConversationDetail{
		Conversation: domain.Conversation{ID: c.ID, Name: c.Name, Messages: append([]domain.Message(nil), c.Messages...)},
		TotalLength:  a.tokens,
	}, nil
}

func (a *fakeAPI) RenameConversation(_ context.Context, id, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Name = name
	a.renames[id] = name
	return nil
}

func (a *fakeAPI) DeleteConversation(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.deleteErr[id]; err != nil {
		return err
	}
	delete(a.conversations, id)
	a.deleted = append(a.deleted, id)
	return nil
}

func (a *fakeAPI) PostUserMessage(_ context.Context, id, text string) ([]domain.Message, error) {
	a.postCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.postErr != nil {
		return nil, a.postErr
	}
	c, ok := a.conversations[id]
	if !ok {
		c = &domain.Conversation{ID: id}
		a.conversations[id] = c
	}
	if a.mirror != nil {
		c.Messages = a.mirror.Messages()
	}
	c.Messages = append(c.Messages, domain.Message{Role: domain.RoleUser, Text: text, Index: len(c.Messages)})
	if a.postEmpty {
		return nil, nil
	}
	return append([]domain.Message(nil), c.Messages...), nil
}

func (a *fakeAPI) EditMessage(_ context.Context, _ string, msg domain.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, msg)
	return nil
}

func (a *fakeAPI) TokenCount(context.Context, string) (int, error) {
	a.tokenCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokens, nil
}

func (a *fakeAPI) ListModels(context.Context) ([]string, error) { return a.models, nil }

func (a *fakeAPI) SetModel(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = name
	return nil
}

func (a *fakeAPI) DefaultModel(context.Context) (string, error) { return "a.gguf", nil }

// --- cache ---

type memCache struct {
	mu    sync.Mutex
	items map[string]domain.Transcript
	saves atomic.Int32
}

func newMemCache() *memCache { return &memCache{items: map[string]domain.Transcript{}} }

func (c *memCache) Save(_ context.Context, t domain.Transcript) error {
	c.saves.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[t.ConversationID] = t
	return nil
}

func (c *memCache) Load(_ context.Context, id string) (*domain.Transcript, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (c *memCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	return nil
}

func (c *memCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// --- bus ---

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) OfType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBus) ErrorCodes() []domain.ErrorCode {
	var codes []domain.ErrorCode
	for _, ev := range b.OfType(domain.EventSessionError) {
		var p domain.ErrorPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			codes = append(codes, p.Code)
		}
	}
	return codes
}

// --- session harness ---

type harness struct {
	api    *fakeAPI
	dialer *fakeDialer
	store  *ConversationStore
	bus    *recordingBus
	cache  *memCache
	sess   *GenerationSession
}

func newHarness(t *testing.T, msgs ...domain.Message) *harness {
	t.Helper()
	h := &harness{
		api:    newFakeAPI(),
		dialer: &fakeDialer{},
		store:  NewConversationStore(),
		bus:    &recordingBus{},
		cache:  newMemCache(),
	}
	h.api.add("c1", "chat", msgs...)
	h.api.mirror = h.store
	h.store.Load(msgs, 0)
	h.sess = NewGenerationSession("c1", SessionDeps{
		API:    h.api,
		Dialer: h.dialer,
		Store:  h.store,
		Bus:    h.bus,
		Cache:  h.cache,
		Logger: discardLogger(),
	}, SessionConfig{ConnectTimeout: 200 * time.Millisecond, RequestTimeout: time.Second})
	t.Cleanup(func() { h.sess.Close() })
	return h
}

// flush waits until every callback queued before it has been handled.
func flush(t *testing.T, s *GenerationSession) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.do(ctx, func() error { return nil })
	if err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		require.NoError(t, err)
	}
}

func texts(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
