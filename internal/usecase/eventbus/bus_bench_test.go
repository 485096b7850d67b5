package eventbus

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"agentroute/internal/domain"
)

func BenchmarkBusPublish(b *testing.B) {
	bus := New(slog.Default())
	ctx := context.Background()
	event := domain.Event{
		Type:       domain.EventTaskCompleted,
		Timestamp:  time.Now(),
		WorkflowID: "bench",
	}

	bus.Subscribe(domain.EventTaskCompleted, func(_ context.Context, _ domain.Event) {})
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {})

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		bus.Publish(ctx, event)
	}
	bus.Close()
}
