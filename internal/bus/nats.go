package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const natsSubjectPrefix = "interview."

// NATSBus maps topics onto core NATS subjects.
type NATSBus struct {
	nc *nats.Conn
}

func ConnectNATS(url string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("interview-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(_ context.Context, topic string, data []byte) error {
	if err := b.nc.Publish(natsSubjectPrefix+topic, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	subject := natsSubjectPrefix + topic
	s := &natsSub{ch: make(chan []byte, SubscriptionBuffer)}

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		select {
		case s.ch <- msg.Data:
		default:
			log.Warn().Str("subject", subject).Msg("subscriber buffer full, dropping message")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	s.sub = sub

	// Flush so the server has registered interest before we return.
	if err := b.nc.FlushWithContext(ctx); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return s, nil
}

func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

type natsSub struct {
	sub    *nats.Subscription
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

func (s *natsSub) C() <-chan []byte { return s.ch }

func (s *natsSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return s.sub.Unsubscribe()
}
