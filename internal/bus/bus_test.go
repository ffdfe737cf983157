package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func noop(ctx context.Context, msg *domain.Message) error { return nil }

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, "test.topic", []byte("hello")))

		select {
		case msg := <-got:
			assert.Equal(t, "hello", string(msg.Payload))
			assert.Equal(t, "test.topic", msg.Topic)
			assert.NotEmpty(t, msg.ID)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var a, b atomic.Int32
		_, _ = bus.Subscribe(ctx, "isolation.a", func(ctx context.Context, msg *domain.Message) error {
			a.Add(1)
			return nil
		})
		_, _ = bus.Subscribe(ctx, "isolation.b", func(ctx context.Context, msg *domain.Message) error {
			b.Add(1)
			return nil
		})

		_ = bus.Publish(ctx, "isolation.a", []byte("msg1"))

		assert.Eventually(t, func() bool { return a.Load() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int32(0), b.Load())
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, err := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)

		_ = bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, sub.Unsubscribe())
		_ = bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		assert.Equal(t, int32(1), count.Load())
		bus.mu.RLock()
		assert.Empty(t, bus.subscriptions["unsub.topic"])
		bus.mu.RUnlock()
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var c1, c2 atomic.Int32
		_, _ = bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			c1.Add(1)
			return nil
		})
		_, _ = bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			c2.Add(1)
			return nil
		})

		_ = bus.Publish(ctx, "multi.topic", []byte("broadcast"))

		assert.Eventually(t, func() bool {
			return c1.Load() == 1 && c2.Load() == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx, "my.topic", noop)
		require.NoError(t, err)
		assert.Equal(t, "my.topic", sub.Topic())
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, bus.Ping(ctx))
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	_, _ = bus.Subscribe(ctx, "close.topic", noop)
	require.NoError(t, bus.Close())

	assert.Error(t, bus.Publish(ctx, "close.topic", []byte("data")))
	assert.Error(t, bus.Ping(ctx))
	_, err := bus.Subscribe(ctx, "close.topic", noop)
	assert.Error(t, err)
	assert.NoError(t, bus.Close(), "second close is a no-op")
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		require.NoError(t, err)
		defer bus.Close()

		_, ok := bus.(*ChannelBus)
		assert.True(t, ok, "expected ChannelBus for channel type")
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "rabbitmq"})
		assert.Error(t, err)
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)
	_, _ = bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		_ = bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for messages")
	}
}
