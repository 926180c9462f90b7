package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannelBus(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var received atomic.Int32
		var lastPayload atomic.Value

		sub, err := b.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			lastPayload.Store(string(msg.Payload))
			received.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if sub.Topic() != "test.topic" {
			t.Errorf("expected topic to round-trip, got %q", sub.Topic())
		}

		if err := b.Publish(ctx, "test.topic", []byte("hello")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, func() bool { return received.Load() == 1 })
		if got := lastPayload.Load(); got != "hello" {
			t.Errorf("expected payload hello, got %v", got)
		}
	})

	t.Run("TopicsAreIsolated", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var received atomic.Int32
		if _, err := b.Subscribe(ctx, "topic.a", func(ctx context.Context, msg *domain.Message) error {
			received.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, "topic.b", []byte("x")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if received.Load() != 0 {
			t.Errorf("expected no messages on an unrelated topic, got %d", received.Load())
		}
	})

	t.Run("MultipleSubscribersFanOut", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var received atomic.Int32
		for i := 0; i < 3; i++ {
			if _, err := b.Subscribe(ctx, "fan.out", func(ctx context.Context, msg *domain.Message) error {
				received.Add(1)
				return nil
			}); err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
		}

		if err := b.Publish(ctx, "fan.out", []byte("x")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		waitFor(t, func() bool { return received.Load() == 3 })
	})

	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) {
		b := NewChannelBus(16)
		defer b.Close()

		var received atomic.Int32
		sub, err := b.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			received.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)

		if err := b.Publish(ctx, "test.topic", []byte("x")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if received.Load() != 0 {
			t.Errorf("expected no delivery after unsubscribe, got %d", received.Load())
		}
	})

	t.Run("ClosedBusRejectsOperations", func(t *testing.T) {
		b := NewChannelBus(16)
		if err := b.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		if err := b.Publish(ctx, "test.topic", []byte("x")); err == nil {
			t.Error("expected publish on a closed bus to fail")
		}
		if _, err := b.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
			t.Error("expected subscribe on a closed bus to fail")
		}
		if err := b.Ping(ctx); err == nil {
			t.Error("expected ping on a closed bus to fail")
		}

		// Close is idempotent.
		if err := b.Close(); err != nil {
			t.Errorf("second Close failed: %v", err)
		}
	})
}

func TestNewFactory(t *testing.T) {
	t.Run("Channel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 16})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected channel bus, got %T", b)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unknown bus type")
		}
	})
}
