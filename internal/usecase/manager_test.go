package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llama-chat/internal/domain"
)

type managerHarness struct {
	api    *fakeAPI
	dialer *fakeDialer
	bus    *recordingBus
	cache  *memCache
	mgr    *SessionManager
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()
	h := &managerHarness{
		api:    newFakeAPI(),
		dialer: &fakeDialer{},
		bus:    &recordingBus{},
		cache:  newMemCache(),
	}
	h.mgr = NewSessionManager(ManagerDeps{
		API:    h.api,
		Dialer: h.dialer,
		Bus:    h.bus,
		Cache:  h.cache,
		Logger: discardLogger(),
	}, SessionConfig{ConnectTimeout: 200 * time.Millisecond, RequestTimeout: time.Second})
	h.api.mirror = h.mgr.Store()
	t.Cleanup(func() { h.mgr.Close() })
	return h
}

func TestManagerSwitchLoadsConversation(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first", userMsg("hi"), botMsg("hello"))
	h.api.tokens = 33

	sess, err := h.mgr.Switch(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, "c1", sess.ConversationID())
	assert.Equal(t, "c1", h.mgr.CurrentID())
	assert.Equal(t, "first", h.mgr.CurrentName())
	assert.False(t, h.mgr.Offline())
	assert.Equal(t, []string{"hi", "hello"}, texts(h.mgr.Store().Messages()))
	assert.Equal(t, 33, h.mgr.Store().TokenCount())
	assert.Equal(t, 1, h.dialer.Count(), "switch opens the transport")
	assert.True(t, h.cache.Has("c1"), "loaded conversation is snapshotted")

	switched := h.bus.OfType(domain.EventConversationSwitched)
	require.NotEmpty(t, switched)
	var p domain.SwitchedPayload
	require.NoError(t, json.Unmarshal(switched[len(switched)-1].Payload, &p))
	assert.Equal(t, domain.SwitchedPayload{ID: "c1", Name: "first"}, p)
}

func TestManagerSwitchClosesPreviousSession(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first", userMsg("one"))
	h.api.add("c2", "second", userMsg("two"))
	ctx := context.Background()

	first, err := h.mgr.Switch(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, first.Submit(ctx, "streaming"))
	oldTransport := h.dialer.Last()

	_, err = h.mgr.Switch(ctx, "c2")
	require.NoError(t, err)

	assert.True(t, oldTransport.IsClosed())
	assert.Equal(t, "c2", h.mgr.CurrentID())
	assert.Equal(t, 2, h.dialer.Count())
	assert.Equal(t, "c2", h.dialer.Last().ConversationID())

	// A frame from the old conversation's transport must not leak in.
	oldTransport.emit("leak", domain.FrameGenerationComplete)
	flush(t, h.mgr.Current())
	assert.Equal(t, []string{"two"}, texts(h.mgr.Store().Messages()))
	assert.ErrorIs(t, first.Submit(ctx, "x"), domain.ErrSessionClosed)
}

func TestManagerSwitchFallsBackToCache(t *testing.T) {
	h := newManagerHarness(t)
	require.NoError(t, h.cache.Save(context.Background(), domain.Transcript{
		ConversationID: "c1",
		Messages:       []domain.Message{userMsg("cached"), botMsg("reply")},
		TokenCount:     5,
	}))
	h.api.getErr = domain.NewDomainError("fake.Get", domain.ErrBackendUnavailable, "down")

	_, err := h.mgr.Switch(context.Background(), "c1")
	require.NoError(t, err)

	assert.True(t, h.mgr.Offline())
	assert.Equal(t, []string{"cached", "reply"}, texts(h.mgr.Store().Messages()))
	assert.Equal(t, 5, h.mgr.Store().TokenCount())
	assert.Equal(t, 0, h.dialer.Count(), "offline transcripts do not dial")
}

func TestManagerSwitchNotFoundSkipsCache(t *testing.T) {
	h := newManagerHarness(t)
	require.NoError(t, h.cache.Save(context.Background(), domain.Transcript{ConversationID: "gone"}))

	_, err := h.mgr.Switch(context.Background(), "gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, h.mgr.Current())
	assert.Contains(t, h.bus.ErrorCodes(), domain.CodeNotFound)
}

func TestManagerSwitchWithoutCacheFails(t *testing.T) {
	h := newManagerHarness(t)
	h.api.getErr = domain.NewDomainError("fake.Get", domain.ErrBackendUnavailable, "down")

	_, err := h.mgr.Switch(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	assert.Equal(t, "", h.mgr.CurrentID())
}

func TestManagerSwitchRejectsEmptyID(t *testing.T) {
	h := newManagerHarness(t)
	_, err := h.mgr.Switch(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, int32(0), h.api.getCalls.Load())
}

func TestManagerCreateOpensNewConversation(t *testing.T) {
	h := newManagerHarness(t)

	conv, err := h.mgr.Create(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, conv.ID, h.mgr.CurrentID())
	assert.Equal(t, 0, h.mgr.Store().Len())
	assert.NotEmpty(t, h.bus.OfType(domain.EventConversationsChanged))
}

func TestManagerRename(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first")
	ctx := context.Background()
	_, err := h.mgr.Switch(ctx, "c1")
	require.NoError(t, err)

	assert.ErrorIs(t, h.mgr.Rename(ctx, "c1", "   "), domain.ErrInvalidInput)
	assert.Empty(t, h.api.renames)

	require.NoError(t, h.mgr.Rename(ctx, "c1", "  renamed "))
	assert.Equal(t, "renamed", h.api.renames["c1"])
	assert.Equal(t, "renamed", h.mgr.CurrentName())
}

func TestManagerDeleteCurrentClearsSession(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first", userMsg("hi"))
	h.api.add("c2", "second")
	h.api.add("c3", "third")
	ctx := context.Background()

	_, err := h.mgr.Switch(ctx, "c1")
	require.NoError(t, err)
	tr := h.dialer.Last()

	deleted, err := h.mgr.Delete(ctx, "c1", "c2", "c3")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, deleted)

	assert.Nil(t, h.mgr.Current())
	assert.Equal(t, 0, h.mgr.Store().Len())
	assert.True(t, tr.IsClosed())
	assert.False(t, h.cache.Has("c1"), "cached transcript goes with the conversation")
}

func TestManagerDeleteOtherKeepsSession(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first")
	h.api.add("c2", "second")
	ctx := context.Background()

	_, err := h.mgr.Switch(ctx, "c1")
	require.NoError(t, err)

	deleted, err := h.mgr.Delete(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, deleted)
	assert.Equal(t, "c1", h.mgr.CurrentID())
}

func TestManagerDeletePartialFailure(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first")
	h.api.deleteErr["bad"] = domain.NewDomainError("fake.Delete", domain.ErrNotFound, "bad")

	deleted, err := h.mgr.Delete(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, deleted)
}

func TestManagerModels(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	models, err := h.mgr.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.gguf", "b.gguf"}, models)

	def, err := h.mgr.DefaultModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a.gguf", def)

	require.NoError(t, h.mgr.SetModel(ctx, "b.gguf"))
	assert.Equal(t, "b.gguf", h.api.model)
	assert.ErrorIs(t, h.mgr.SetModel(ctx, ""), domain.ErrInvalidInput)
}

func TestManagerClearAndClose(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first", userMsg("hi"))
	ctx := context.Background()

	_, err := h.mgr.Switch(ctx, "c1")
	require.NoError(t, err)

	h.mgr.Clear()
	assert.Nil(t, h.mgr.Current())
	assert.Equal(t, 0, h.mgr.Store().Len())

	require.NoError(t, h.mgr.Close())
	_, err = h.mgr.Switch(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestManagerSubmitThroughSession(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first")
	ctx := context.Background()

	sess, err := h.mgr.Switch(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, sess.Submit(ctx, "Hello"))
	h.dialer.Last().emit("Hi", domain.FrameGenerationComplete)
	flush(t, sess)

	assert.Equal(t, []string{"Hello", "Hi"}, texts(h.mgr.Store().Messages()))
}

func TestManagerSnapshot(t *testing.T) {
	h := newManagerHarness(t)

	empty := h.mgr.Snapshot()
	assert.Equal(t, "", empty.ConversationID)
	assert.True(t, empty.State.IsIdle())
	assert.Equal(t, domain.TransportClosed, empty.Transport)

	h.api.add("c1", "first", userMsg("hi"), botMsg("hello"))
	h.api.tokens = 7
	require.NoError(t, h.mgr.Open(context.Background(), "c1"))

	snap := h.mgr.Snapshot()
	assert.Equal(t, "c1", snap.ConversationID)
	assert.Equal(t, "first", snap.Name)
	assert.False(t, snap.Offline)
	assert.Equal(t, []string{"hi", "hello"}, texts(snap.Messages))
	assert.Equal(t, 7, snap.TokenCount)
	assert.True(t, snap.State.IsIdle())
	assert.Equal(t, domain.TransportOpen, snap.Transport)
}

func TestManagerCommandsWithoutConversation(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.mgr.Submit(ctx, "hi"), domain.ErrNoConversation)
	assert.ErrorIs(t, h.mgr.Stop(ctx), domain.ErrNoConversation)
	assert.ErrorIs(t, h.mgr.Regenerate(ctx, 1), domain.ErrNoConversation)
	assert.ErrorIs(t, h.mgr.Edit(ctx, 0, "x"), domain.ErrNoConversation)
	assert.Contains(t, h.bus.ErrorCodes(), domain.CodeNoConversation)
	assert.Equal(t, int32(0), h.api.postCalls.Load())
}

func TestManagerStopDelegatesToSession(t *testing.T) {
	h := newManagerHarness(t)
	h.api.add("c1", "first")
	ctx := context.Background()
	require.NoError(t, h.mgr.Open(ctx, "c1"))

	require.NoError(t, h.mgr.Submit(ctx, "Hello"))
	assert.Equal(t, domain.GenerationStreamingNew, h.mgr.Snapshot().State.Mode)

	require.NoError(t, h.mgr.Stop(ctx))
	assert.True(t, h.mgr.Snapshot().State.IsIdle())
}
