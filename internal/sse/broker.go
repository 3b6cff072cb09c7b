package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/bus"
	"github.com/hireproctor/interview-server-go/internal/config"
	"github.com/hireproctor/interview-server-go/internal/metrics"
	"github.com/hireproctor/interview-server-go/internal/model"
)

const HeartbeatInterval = config.SSEHeartbeatInterval

// Live feed event types.
const (
	EventState    = "state"
	EventIncident = "incident"
	EventAlert    = "alert"
	EventCode     = "code"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans a session's bus topic out to the SSE clients connected to
// this instance. Each session with at least one local client holds exactly
// one bus subscription.
type Broker struct {
	bus     bus.Bus
	metrics *metrics.Metrics
	clients map[string]map[*Client]bool // sessionID -> set of clients
	subs    map[string]bus.Subscription
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(b bus.Bus, m *metrics.Metrics) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		bus:     b,
		metrics: m,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]bus.Subscription),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func Topic(sessionID string) string {
	return "session." + sessionID
}

func (b *Broker) Subscribe(ctx context.Context, sessionID string) (*Client, error) {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, 100),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clients[sessionID] == nil {
		sub, err := b.bus.Subscribe(ctx, Topic(sessionID))
		if err != nil {
			return nil, fmt.Errorf("subscribe session feed: %w", err)
		}
		b.clients[sessionID] = make(map[*Client]bool)
		b.subs[sessionID] = sub
		go b.pump(sessionID, sub)
	}
	b.clients[sessionID][client] = true
	b.metrics.SSEConnections.Inc()

	log.Info().
		Str("sessionId", sessionID).
		Int("clientCount", len(b.clients[sessionID])).
		Msg("sse client subscribed")

	return client, nil
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.SessionID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)
	b.metrics.SSEConnections.Dec()

	if len(clients) == 0 {
		delete(b.clients, client.SessionID)
		if sub, ok := b.subs[client.SessionID]; ok {
			delete(b.subs, client.SessionID)
			sub.Close()
		}
	}

	log.Info().
		Str("sessionId", client.SessionID).
		Int("clientCount", len(clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, sessionID string, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return err
	}
	return b.bus.Publish(ctx, Topic(sessionID), msg)
}

func (b *Broker) PublishState(ctx context.Context, state model.SessionState) error {
	return b.Publish(ctx, state.ID, EventState, state)
}

func (b *Broker) PublishCode(ctx context.Context, snap model.CodeSnapshot) error {
	return b.Publish(ctx, snap.SessionID, EventCode, snap)
}

func (b *Broker) PublishIncident(ctx context.Context, inc *model.Incident) error {
	if inc.SessionID == nil {
		return nil
	}
	return b.Publish(ctx, *inc.SessionID, EventIncident, inc)
}

func (b *Broker) PublishAlert(ctx context.Context, alert *model.Alert) error {
	return b.Publish(ctx, alert.SessionID, EventAlert, alert)
}

func (b *Broker) pump(sessionID string, sub bus.Subscription) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				b.dropSubscription(sessionID, sub)
				return
			}
			var event Event
			if err := json.Unmarshal(msg, &event); err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to unmarshal event")
				continue
			}
			b.broadcast(sessionID, event)
		}
	}
}

// dropSubscription disconnects the session's clients after the bus closed
// sub, so the next Subscribe opens a fresh one. It does nothing when sub is
// no longer the session's subscription.
func (b *Broker) dropSubscription(sessionID string, sub bus.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.subs[sessionID]; !ok || current != sub {
		return
	}
	delete(b.subs, sessionID)
	clients := b.clients[sessionID]
	delete(b.clients, sessionID)
	for client := range clients {
		close(client.Done)
		b.metrics.SSEConnections.Dec()
	}
	sub.Close()

	log.Warn().
		Str("sessionId", sessionID).
		Int("clientCount", len(clients)).
		Msg("session feed closed by bus, clients disconnected")
}

func (b *Broker) broadcast(sessionID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[sessionID] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("sessionId", sessionID).
				Str("type", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, clients := range b.clients {
		for client := range clients {
			close(client.Done)
			b.metrics.SSEConnections.Dec()
		}
		if sub, ok := b.subs[sessionID]; ok {
			sub.Close()
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.subs = make(map[string]bus.Subscription)
}

func (b *Broker) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
