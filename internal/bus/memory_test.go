package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PublishReachesSubscribers(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := m.Subscribe(ctx, "events")
	require.NoError(t, err)
	second, err := m.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "events", []byte("hello")))

	assert.Equal(t, []byte("hello"), <-first)
	assert.Equal(t, []byte("hello"), <-second)
}

func TestMemory_ChannelsAreIsolated(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orders, err := m.Subscribe(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "fills", []byte("nope")))
	require.NoError(t, m.Publish(ctx, "orders", []byte("yes")))

	assert.Equal(t, []byte("yes"), <-orders)
	select {
	case extra := <-orders:
		t.Fatalf("unexpected payload %q", extra)
	default:
	}
}

func TestMemory_PublishWithoutSubscribersOK(t *testing.T) {
	m := NewMemory()
	assert.NoError(t, m.Publish(context.Background(), "events", []byte("x")))
}

func TestMemory_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := m.Subscribe(ctx, "events")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			_ = m.Publish(ctx, "events", []byte{byte(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	assert.Len(t, ch, subscriberBuffer)
}

func TestMemory_CancelClosesAndUnsubscribes(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := m.Subscribe(ctx, "events")
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Empty(t, m.subs["events"])
}
