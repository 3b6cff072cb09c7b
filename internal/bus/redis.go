package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisChannelPrefix = "interview:"

// RedisBus maps topics onto Redis pub/sub channels.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.client.Publish(ctx, redisChannelPrefix+topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	channel := redisChannelPrefix + topic
	pubsub := b.client.Subscribe(ctx, channel)

	// Wait for the subscribe confirmation before handing the subscription out.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan []byte, SubscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(channel, pubsub.Channel())

	log.Debug().Str("channel", channel).Msg("redis pubsub subscribed")
	return sub, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBus) Close() error { return nil }

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) C() <-chan []byte { return s.ch }

func (s *redisSub) pump(channel string, in <-chan *redis.Message) {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			default:
				log.Warn().Str("channel", channel).Msg("subscriber buffer full, dropping message")
			}
		}
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
