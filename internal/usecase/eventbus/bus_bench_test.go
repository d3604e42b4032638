package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"llama-chat/internal/domain"
)

func benchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// BenchmarkPublishDelta measures the per-delta path while a reply streams:
// one transcript event fanned out to the UI subscriber.
func BenchmarkPublishDelta(b *testing.B) {
	bus := New(benchLogger())
	ctx := context.Background()
	bus.SubscribeAll(func(context.Context, domain.Event) {})

	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		bus.Publish(ctx, domain.NewEvent(domain.EventTranscriptUpdated, "bench",
			domain.TranscriptPayload{Index: i, Count: i + 1}))
	}
	bus.Close()
}

func BenchmarkPublishTypedSubscribers(b *testing.B) {
	bus := New(benchLogger())
	ctx := context.Background()
	for range 10 {
		bus.Subscribe(domain.EventTokensUpdated, func(context.Context, domain.Event) {})
	}
	event := domain.NewEvent(domain.EventTokensUpdated, "bench", domain.TokensPayload{Total: 42})

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

func BenchmarkPublishNoSubscribers(b *testing.B) {
	bus := New(benchLogger())
	ctx := context.Background()
	event := domain.NewEvent(domain.EventGenerationState, "bench", domain.GenerationStatePayload{Mode: "idle"})

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

func BenchmarkPublishParallel(b *testing.B) {
	bus := New(benchLogger())
	bus.SubscribeAll(func(context.Context, domain.Event) {})
	event := domain.NewEvent(domain.EventTransportState, "bench", domain.TransportStatePayload{State: "open"})

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			bus.Publish(ctx, event)
		}
	})
	bus.Close()
}

func BenchmarkUnsubscribe(b *testing.B) {
	bus := New(benchLogger())
	defer bus.Close()
	handler := func(context.Context, domain.Event) {}

	unsubs := make([]func(), b.N)
	for i := range unsubs {
		unsubs[i] = bus.Subscribe(domain.EventSessionError, handler)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		unsubs[i]()
	}
}
