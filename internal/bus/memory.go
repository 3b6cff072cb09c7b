package bus

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryBus delivers within one process.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	bus   *MemoryBus
	topic string
	ch    chan []byte
	once  sync.Once
}

func (s *memorySub) C() <-chan []byte { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if subs, ok := s.bus.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.topics, s.topic)
			}
		}
		close(s.ch)
	})
	return nil
}

func (b *MemoryBus) Publish(_ context.Context, topic string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- slices.Clone(data):
		default:
			log.Warn().Str("topic", topic).Msg("subscriber buffer full, dropping message")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{bus: b, topic: topic, ch: make(chan []byte, SubscriptionBuffer)}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySub]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*memorySub
	for _, set := range b.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
