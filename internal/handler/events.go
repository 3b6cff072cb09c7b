package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/service"
	"github.com/hireproctor/interview-server-go/internal/sse"
)

// EventsHandler streams a session's live feed. Interviewers receive every
// event; anyone else sees state and code only.
type EventsHandler struct {
	broker    *sse.Broker
	sessions  *service.SessionService
	heartbeat time.Duration
}

func NewEventsHandler(broker *sse.Broker, sessions *service.SessionService) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		sessions:  sessions,
		heartbeat: sse.HeartbeatInterval,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionId")
	actor := actorFrom(r)

	var (
		sess *model.Session
		err  error
	)
	if actor.IsInterviewer() {
		sess, err = h.sessions.GetForInterviewer(ctx, actor, sessionID)
	} else {
		sess, err = h.sessions.Get(ctx, sessionID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	client, err := h.broker.Subscribe(ctx, sess.ID)
	if err != nil {
		httputil.WriteError(w, apperrors.External("live feed", err))
		return
	}
	defer h.broker.Unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	log.Info().
		Str("sessionId", sess.ID).
		Bool("interviewer", actor.IsInterviewer()).
		Msg("sse connection established")

	// The snapshot goes out after subscribing so no transition falls between
	// the two.
	if err := h.sendEvent(w, flusher, sse.EventState, h.sessions.StateOf(sess)); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("sessionId", sess.ID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("sessionId", sess.ID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if !visibleTo(event, actor) {
				continue
			}
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Debug().Err(err).Str("sessionId", sess.ID).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", sess.ID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func visibleTo(event sse.Event, actor service.Actor) bool {
	switch event.Type {
	case sse.EventIncident, sse.EventAlert:
		return actor.IsInterviewer()
	default:
		return true
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
