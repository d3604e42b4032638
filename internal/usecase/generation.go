package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"llama-chat/internal/domain"
	"llama-chat/internal/infra/tracer"
)

// SessionConfig tunes a GenerationSession.
type SessionConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	InboxSize      int
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultInboxSize      = 256
)

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	return c
}

// SessionDeps are the collaborators of a GenerationSession. Cache may be nil.
type SessionDeps struct {
	API    domain.ConversationAPI
	Dialer domain.TransportDialer
	Store  *ConversationStore
	Bus    domain.EventBus
	Cache  domain.TranscriptCache
	Logger *slog.Logger
}

// GenerationSession drives streaming generation for one conversation.
//
// Every command and every transport callback runs on a single loop
// goroutine, so the generation state, the owned transport and writes to the
// store are never touched concurrently. Frames are routed by the state as it
// is when each frame is handled, and frames from any transport other than
// the one the session currently owns are dropped.
type GenerationSession struct {
	id             string
	conversationID string
	deps           SessionDeps
	cfg            SessionConfig
	logger         *slog.Logger

	inbox     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// Owned by the loop goroutine.
	transport domain.Transport
	opened    bool // transport reached Open at least once
	state     domain.GenerationState
	drain     drainState

	// Copies published for readers on other goroutines.
	mu             sync.RWMutex
	published      domain.GenerationState
	transportState domain.TransportState
}

// drainState tracks a stream that was stopped with stop_generation. The
// backend may still deliver deltas for it before its sentinel arrives.
type drainState struct {
	active bool
	index  int // bot message receiving late deltas, -1 if none yet
	length int // store length when the stream was stopped
}

// NewGenerationSession creates a session for conversationID and starts its
// loop. The transport is not opened until Connect or the first command that
// needs it.
func NewGenerationSession(conversationID string, deps SessionDeps, cfg SessionConfig) *GenerationSession {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	id := generateULID(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	s := &GenerationSession{
		id:             id,
		conversationID: conversationID,
		deps:           deps,
		cfg:            cfg,
		logger:         deps.Logger.With("session", id, "conversation", conversationID),
		inbox:          make(chan func(), cfg.InboxSize),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		state:          domain.Idle(),
		published:      domain.Idle(),
		transportState: domain.TransportClosed,
	}
	go s.loop()
	return s
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ID returns the session instance id.
func (s *GenerationSession) ID() string { return s.id }

// ConversationID returns the conversation this session is bound to.
func (s *GenerationSession) ConversationID() string { return s.conversationID }

// State returns the current generation state.
func (s *GenerationSession) State() domain.GenerationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// TransportState returns the state of the session's transport.
func (s *GenerationSession) TransportState() domain.TransportState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transportState
}

// Connect opens the session's transport without waiting for it.
func (s *GenerationSession) Connect(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.transport == nil || s.transport.State() == domain.TransportClosed {
			s.openTransport()
		}
		return nil
	})
}

// Submit handles the send action. In Idle a non-blank text is persisted and
// a new generation is requested; blank text is ignored. While streaming,
// Submit stops the current generation regardless of text.
func (s *GenerationSession) Submit(ctx context.Context, text string) error {
	ctx, span := tracer.StartSpanWithAttrs(ctx, "session.submit",
		tracer.StringAttr("conversation.id", s.conversationID),
	)
	defer span.End()

	err := s.do(ctx, func() error {
		switch s.state.Mode {
		case domain.GenerationStreamingNew, domain.GenerationStreamingRegenerate:
			return s.stopLocked()
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return s.startNew(ctx, text)
	})
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

// Stop ends the current generation. It is a no-op when Idle.
func (s *GenerationSession) Stop(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.state.IsIdle() {
			return nil
		}
		return s.stopLocked()
	})
}

// Regenerate asks the backend to produce message index again. The message
// text is cleared before the request is sent.
func (s *GenerationSession) Regenerate(ctx context.Context, index int) error {
	ctx, span := tracer.StartSpanWithAttrs(ctx, "session.regenerate",
		tracer.StringAttr("conversation.id", s.conversationID),
		tracer.IntAttr("message.index", index),
	)
	defer span.End()

	err := s.do(ctx, func() error {
		const op = "Session.Regenerate"
		switch s.state.Mode {
		case domain.GenerationStreamingRegenerate:
			return s.fail(op, domain.NewDomainError(op, domain.ErrRegenerateInFlight,
				fmt.Sprintf("message %d", s.state.TargetIndex)))
		case domain.GenerationStreamingNew:
			return s.fail(op, domain.NewDomainError(op, domain.ErrGenerationBusy, ""))
		}

		msg, ok := s.deps.Store.At(index)
		if !ok {
			return s.fail(op, domain.NewDomainError(op, domain.ErrInvalidInput,
				fmt.Sprintf("no message at index %d", index)))
		}
		if !msg.IsBot() {
			return s.fail(op, domain.NewDomainError(op, domain.ErrInvalidInput,
				fmt.Sprintf("message %d was not written by the model", index)))
		}
		s.abandonDrain()
		if err := s.ensureTransport(ctx, op); err != nil {
			return err
		}

		previous := msg.Text
		msg.Text = ""
		if err := s.deps.Store.ReplaceAt(index, msg); err != nil {
			return s.fail(op, err)
		}
		if err := s.transport.Send(domain.RegenerateCommand(index)); err != nil {
			msg.Text = previous
			_ = s.deps.Store.ReplaceAt(index, msg)
			return s.fail(op, domain.NewDomainError(op, domain.ErrTransportNotReady, err.Error()))
		}
		s.publishTranscript(index)
		s.setState(domain.StreamingRegenerate(index))
		return nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

// Edit replaces the text of message index on the backend and locally.
func (s *GenerationSession) Edit(ctx context.Context, index int, text string) error {
	return s.do(ctx, func() error {
		const op = "Session.Edit"
		if !s.state.IsIdle() {
			return s.fail(op, domain.NewDomainError(op, domain.ErrGenerationBusy, ""))
		}
		if strings.TrimSpace(text) == "" {
			return s.fail(op, domain.NewDomainError(op, domain.ErrInvalidInput, "text is empty"))
		}
		msg, ok := s.deps.Store.At(index)
		if !ok {
			return s.fail(op, domain.NewDomainError(op, domain.ErrInvalidInput,
				fmt.Sprintf("no message at index %d", index)))
		}
		msg.Text = text

		rctx, cancel := s.scoped(ctx)
		defer cancel()
		if err := s.deps.API.EditMessage(rctx, s.conversationID, msg); err != nil {
			return s.fail(op, err)
		}
		if err := s.deps.Store.ReplaceAt(index, msg); err != nil {
			return s.fail(op, err)
		}
		s.publishTranscript(index)
		s.saveSnapshot()
		return nil
	})
}

// Close stops the loop and closes the transport. Close is idempotent and
// returns once the transport is closed.
func (s *GenerationSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.quit)
	})
	<-s.done
	return nil
}

// OnFrame implements domain.FrameSink.
func (s *GenerationSession) OnFrame(t domain.Transport, frame string) {
	s.enqueue(func() { s.handleFrame(t, frame) })
}

// OnClosed implements domain.FrameSink.
func (s *GenerationSession) OnClosed(t domain.Transport, err error) {
	s.enqueue(func() { s.handleClosed(t, err) })
}

var _ domain.FrameSink = (*GenerationSession)(nil)

// --- loop ---

func (s *GenerationSession) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

func (s *GenerationSession) shutdown() {
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	s.drain = drainState{}
	s.setState(domain.Idle())
	s.setTransportState(domain.TransportClosed)
	s.logger.Debug("generation session closed")
}

func (s *GenerationSession) enqueue(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the loop goroutine and returns its result.
func (s *GenerationSession) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.inbox <- func() { errCh <- fn() }:
	case <-s.quit:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		select {
		case err := <-errCh:
			return err
		default:
			return domain.ErrSessionClosed
		}
	}
}

// scoped bounds a REST call by the request timeout and by the session's
// lifetime.
func (s *GenerationSession) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// --- commands (loop goroutine only) ---

func (s *GenerationSession) startNew(ctx context.Context, text string) error {
	const op = "Session.Submit"

	rctx, cancel := s.scoped(ctx)
	msgs, err := s.deps.API.PostUserMessage(rctx, s.conversationID, text)
	cancel()
	if err != nil {
		return s.fail(op, err)
	}
	if len(msgs) == 0 {
		idx := s.deps.Store.Append(domain.Message{Role: domain.RoleUser, Text: text})
		s.publishTranscript(idx)
	} else {
		before := s.deps.Store.Len()
		if added := s.deps.Store.Reconcile(msgs); added < 0 {
			s.logger.Warn("local transcript diverged from backend, rebuilt", "local", before, "backend", len(msgs))
			s.publishTranscript(0)
		} else if added > 0 {
			s.publishTranscript(before)
		}
	}

	s.abandonDrain()
	if err := s.ensureTransport(ctx, op); err != nil {
		return err
	}
	if err := s.transport.Send(domain.MessageCommand(text)); err != nil {
		return s.fail(op, domain.NewDomainError(op, domain.ErrTransportNotReady, err.Error()))
	}
	s.setState(domain.StreamingNew())
	return nil
}

// stopLocked handles a stop request while streaming. A new-message stream is
// stopped with stop_generation. A regeneration is abandoned by retiring the
// transport so no stale frame can reach the regenerated message.
func (s *GenerationSession) stopLocked() error {
	const op = "Session.Stop"
	switch s.state.Mode {
	case domain.GenerationStreamingNew:
		s.beginDrain()
		s.setState(domain.Idle())
		if s.transport == nil {
			return s.fail(op, domain.NewDomainError(op, domain.ErrTransportNotReady, "no transport"))
		}
		if err := s.transport.Send(domain.StopCommand()); err != nil {
			s.drain = drainState{}
			return s.fail(op, domain.NewDomainError(op, domain.ErrTransportNotReady, err.Error()))
		}
	case domain.GenerationStreamingRegenerate:
		s.setState(domain.Idle())
		s.retireTransport()
	}
	return nil
}

func (s *GenerationSession) beginDrain() {
	d := drainState{active: true, index: -1, length: s.deps.Store.Len()}
	if n := d.length; n > 0 {
		if last, ok := s.deps.Store.At(n - 1); ok && last.IsBot() {
			d.index = n - 1
		}
	}
	s.drain = d
}

// abandonDrain gives up on a stopped stream whose sentinel never came. The
// transport is retired so its leftover frames cannot land in the next stream.
func (s *GenerationSession) abandonDrain() {
	if !s.drain.active {
		return
	}
	s.drain = drainState{}
	s.logger.Debug("stopped stream never settled, retiring transport")
	s.retireTransport()
}

// ensureTransport opens a transport if there is none and waits for it to
// connect, bounded by the connect timeout.
func (s *GenerationSession) ensureTransport(ctx context.Context, op string) error {
	if s.transport == nil || s.transport.State() == domain.TransportClosed {
		s.openTransport()
	}
	if s.transport.State() == domain.TransportOpen {
		s.opened = true
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := s.transport.WaitOpen(wctx); err != nil {
		return s.fail(op, domain.NewDomainError(op, domain.ErrTransportNotReady, err.Error()))
	}
	s.opened = true
	s.setTransportState(s.transport.State())
	return nil
}

func (s *GenerationSession) openTransport() {
	t := s.deps.Dialer.Open(s.conversationID, s)
	s.transport = t
	s.opened = false
	s.setTransportState(t.State())
	go s.watchOpen(t)
}

// watchOpen reports the outcome of a dial back to the loop.
func (s *GenerationSession) watchOpen(t domain.Transport) {
	if err := t.WaitOpen(s.ctx); err != nil && s.ctx.Err() != nil {
		return
	}
	s.enqueue(func() {
		if t != s.transport {
			return
		}
		if t.State() == domain.TransportOpen {
			s.opened = true
		}
		s.setTransportState(t.State())
	})
}

// retireTransport closes the current transport and opens a fresh one for
// the same conversation.
func (s *GenerationSession) retireTransport() {
	if s.transport != nil {
		_ = s.transport.Close()
	}
	s.openTransport()
}

// --- inbound ---

func (s *GenerationSession) handleFrame(t domain.Transport, frame string) {
	if t != s.transport {
		s.logger.Debug("dropping frame from retired transport", "bytes", len(frame))
		return
	}
	s.opened = true
	if domain.IsSentinelFrame(frame) {
		s.handleSentinel(frame)
		return
	}
	if s.drain.active {
		s.applyDrainDelta(frame)
		return
	}

	switch s.state.Mode {
	case domain.GenerationStreamingNew:
		idx := s.deps.Store.AppendDelta(frame)
		s.publishTranscript(idx)
	case domain.GenerationStreamingRegenerate:
		if err := s.deps.Store.AppendText(s.state.TargetIndex, frame); err != nil {
			s.logger.Warn("regenerate target vanished", "index", s.state.TargetIndex, "error", err)
			return
		}
		s.publishTranscript(s.state.TargetIndex)
	default:
		s.logger.Debug("dropping delta while idle", "bytes", len(frame))
	}
}

// applyDrainDelta attributes a delta that arrives after a stop, and before
// that stream's sentinel, to the stopped message.
func (s *GenerationSession) applyDrainDelta(frame string) {
	if s.drain.index < 0 {
		if s.deps.Store.Len() != s.drain.length {
			s.logger.Debug("dropping late delta, transcript moved on", "bytes", len(frame))
			return
		}
		s.drain.index = s.deps.Store.Append(domain.Message{Role: domain.RoleBot, Text: frame})
		s.publishTranscript(s.drain.index)
		return
	}
	if err := s.deps.Store.AppendText(s.drain.index, frame); err != nil {
		s.logger.Debug("dropping late delta", "error", err)
		return
	}
	s.publishTranscript(s.drain.index)
}

func (s *GenerationSession) handleSentinel(frame string) {
	if s.drain.active {
		// Sentinel of a stream that was already stopped locally.
		s.drain = drainState{}
		s.logger.Debug("stopped stream settled", "frame", frame)
		s.refreshTokens()
		return
	}

	switch s.state.Mode {
	case domain.GenerationStreamingRegenerate:
		s.setState(domain.Idle())
		s.retireTransport()
	case domain.GenerationStreamingNew:
		s.setState(domain.Idle())
	default:
		s.logger.Debug("sentinel while idle", "frame", frame)
	}
	s.refreshTokens()
}

func (s *GenerationSession) handleClosed(t domain.Transport, err error) {
	if t != s.transport {
		return
	}
	wasActive := s.state.IsStreaming() || s.drain.active
	opened := s.opened
	s.transport = nil
	s.opened = false
	s.drain = drainState{}
	s.setState(domain.Idle())
	s.setTransportState(domain.TransportClosed)

	// A failed dial was already reported by the command waiting on it.
	const op = "Transport.Closed"
	switch {
	case err != nil && !opened:
		s.logger.Warn("transport failed to connect", "error", err)
	case err != nil:
		s.fail(op, domain.NewDomainError(op, domain.ErrTransportFailure, err.Error()))
	default:
		s.logger.Info("transport closed by backend")
	}
	if wasActive {
		s.refreshTokens()
	}
}

// refreshTokens fetches the token count once and snapshots the transcript.
func (s *GenerationSession) refreshTokens() {
	ctx, cancel := s.scoped(s.ctx)
	defer cancel()
	n, err := s.deps.API.TokenCount(ctx, s.conversationID)
	if err != nil {
		s.fail("Session.RefreshTokens", err)
		return
	}
	s.deps.Store.SetTokenCount(n)
	s.publish(domain.EventTokensUpdated, domain.TokensPayload{Total: n})
	s.saveSnapshot()
}

func (s *GenerationSession) saveSnapshot() {
	if s.deps.Cache == nil {
		return
	}
	ctx, cancel := s.scoped(s.ctx)
	defer cancel()
	err := s.deps.Cache.Save(ctx, domain.Transcript{
		ConversationID: s.conversationID,
		Messages:       s.deps.Store.Messages(),
		TokenCount:     s.deps.Store.TokenCount(),
		SavedAt:        time.Now(),
	})
	if err != nil {
		s.logger.Warn("transcript snapshot failed", "error", err)
	}
}

// --- state and notifications ---

func (s *GenerationSession) setState(st domain.GenerationState) {
	if s.state == st {
		return
	}
	s.state = st
	s.mu.Lock()
	s.published = st
	s.mu.Unlock()
	s.logger.Debug("generation state", "state", st.String())
	s.publish(domain.EventGenerationState, domain.GenerationStatePayload{
		Mode:        st.Mode.String(),
		TargetIndex: st.TargetIndex,
	})
}

func (s *GenerationSession) setTransportState(ts domain.TransportState) {
	s.mu.Lock()
	changed := s.transportState != ts
	s.transportState = ts
	s.mu.Unlock()
	if changed {
		s.publish(domain.EventTransportState, domain.TransportStatePayload{State: ts.String()})
	}
}

func (s *GenerationSession) publishTranscript(index int) {
	s.publish(domain.EventTranscriptUpdated, domain.TranscriptPayload{
		Index: index,
		Count: s.deps.Store.Len(),
	})
}

func (s *GenerationSession) publish(t domain.EventType, payload any) {
	if s.deps.Bus == nil {
		return
	}
	ev := domain.NewEvent(t, s.conversationID, payload)
	ev.SessionID = s.id
	s.deps.Bus.Publish(context.Background(), ev)
}

// fail logs err, publishes it for the UI and returns it.
func (s *GenerationSession) fail(op string, err error) error {
	code := domain.ErrorCodeOf(err)
	s.logger.Warn("session operation failed", "op", op, "code", string(code), "error", err)
	s.publish(domain.EventSessionError, domain.ErrorPayload{Op: op, Code: code, Error: err.Error()})
	return err
}
