// Package bus is an in-process domain.SignalBus used when no Redis server is
// configured.
package bus

import (
	"context"
	"sync"

	"github.com/kayyshop/donorboard/internal/domain"
)

// Memory fans payloads out to subscribers of the same channel. Each
// subscriber holds at most one pending payload; newer payloads replace it.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewMemory creates an empty bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish delivers payload to every current subscriber of channel. It never
// blocks on slow subscribers.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[channel] {
		cp := append([]byte(nil), payload...)
		select {
		case ch <- cp:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cp:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber for channel. The returned channel is
// closed once ctx is done.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 1)

	m.mu.Lock()
	set, ok := m.subs[channel]
	if !ok {
		set = make(map[chan []byte]struct{})
		m.subs[channel] = set
	}
	set[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[channel], ch)
		if len(m.subs[channel]) == 0 {
			delete(m.subs, channel)
		}
		close(ch)
		m.mu.Unlock()
	}()

	return ch, nil
}

var _ domain.SignalBus = (*Memory)(nil)
