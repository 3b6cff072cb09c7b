// Package bus carries opaque messages between server instances on named
// topics. Delivery is at-most-once: a slow subscriber loses messages rather
// than blocking publishers.
package bus

import (
	"context"
	"errors"
)

// SubscriptionBuffer is the per-subscription queue depth.
const SubscriptionBuffer = 64

var ErrClosed = errors.New("bus closed")

type Bus interface {
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe returns once the subscription is active, so a message
	// published after Subscribe returns is eligible for delivery.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

type Subscription interface {
	// C is closed when the subscription ends.
	C() <-chan []byte
	Close() error
}
