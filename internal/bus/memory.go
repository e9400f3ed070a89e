// Package bus provides an in-process signal bus used when Redis is not
// configured. It mirrors the pub/sub contract: subscribers receive payloads
// published to their channel after they subscribe, and slow subscribers
// drop messages rather than block publishers.
package bus

import (
	"context"
	"sync"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

const subscriberBuffer = 256

// Memory is an in-process implementation of domain.SignalBus.
type Memory struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewMemory returns an empty bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]chan []byte)}
}

// Publish delivers payload to every current subscriber of channel. Full
// subscriber buffers are skipped.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads for the given channel name. The
// subscription ends and the channel closes when ctx is cancelled.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		subs := m.subs[channel]
		for i, c := range subs {
			if c == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

var _ domain.SignalBus = (*Memory)(nil)
