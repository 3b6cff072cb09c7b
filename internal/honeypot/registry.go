// Package honeypot binds unguessable trap tokens to sessions and records
// access to the trap endpoints.
package honeypot

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/audit"
	"github.com/hireproctor/interview-server-go/internal/detection"
	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/metrics"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/payload"
)

type SessionLookup interface {
	FindByHoneypotToken(ctx context.Context, token string) (*model.Session, error)
}

type Recorder interface {
	Ingest(ctx context.Context, sig detection.Signal) *model.Incident
}

// Trap identifies which endpoint was hit.
type Trap string

const (
	TrapDocument Trap = "document"
	TrapConfig   Trap = "config"
	TrapBeacon   Trap = "beacon"
)

// Access describes one request to a trap endpoint.
type Access struct {
	Trap      Trap
	Path      string
	OriginIP  string
	UserAgent string
	Host      string
	Referer   string
	Origin    string
	At        time.Time
}

type Registry struct {
	sessions      SessionLookup
	recorder      Recorder
	baseURL       string
	recordTimeout time.Duration
	metrics       *metrics.Metrics
	pending       sync.WaitGroup
}

func NewRegistry(
	sessions SessionLookup,
	recorder Recorder,
	baseURL string,
	recordTimeout time.Duration,
	m *metrics.Metrics,
) *Registry {
	return &Registry{
		sessions:      sessions,
		recorder:      recorder,
		baseURL:       strings.TrimRight(baseURL, "/"),
		recordTimeout: recordTimeout,
		metrics:       m,
	}
}

// Issue mints the session's token. A session carries exactly one token for
// its lifetime.
func (r *Registry) Issue(ctx context.Context, s *model.Session) (string, error) {
	if s.HoneypotToken != "" {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventInvariantViolation,
			SessionID: s.ID,
			Details:   map[string]any{"reason": "honeypot token already issued"},
		})
		return "", apperrors.TokenAlreadyIssued()
	}
	s.HoneypotToken = uuid.NewString()
	return s.HoneypotToken, nil
}

// Resolve finds the session bound to token by exact match. Every token,
// well-formed or not, goes through the same lookup.
func (r *Registry) Resolve(ctx context.Context, token string) (*model.Session, error) {
	s, err := r.sessions.FindByHoneypotToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if s == nil || s.HoneypotToken != token {
		r.metrics.HoneypotHits.WithLabelValues("unknown_token").Inc()
		return nil, apperrors.NotFound("Resource")
	}
	return s, nil
}

// RecordAccess classifies a resolved trap hit. The returned incident is nil
// when the request came from the platform's own render.
func (r *Registry) RecordAccess(ctx context.Context, s *model.Session, a Access) *model.Incident {
	sigType := detection.SignalHoneypot
	if a.Trap == TrapBeacon {
		sigType = detection.SignalImageBeacon
	}
	inc := r.recorder.Ingest(ctx, detection.Signal{
		Type:      sigType,
		SessionID: s.ID,
		At:        a.At,
		OriginIP:  a.OriginIP,
		UserAgent: a.UserAgent,
		Path:      a.Path,
		Host:      a.Host,
		Referer:   a.Referer,
		Origin:    a.Origin,
	})
	if inc == nil {
		r.metrics.HoneypotHits.WithLabelValues("suppressed").Inc()
		return nil
	}
	r.metrics.HoneypotHits.WithLabelValues("recorded").Inc()
	audit.Log(ctx, audit.Event{
		Type:      audit.EventHoneypotAccess,
		SessionID: s.ID,
		IP:        a.OriginIP,
		UserAgent: a.UserAgent,
		Details:   map[string]any{"trap": string(a.Trap), "incidentId": inc.ID},
	})
	return inc
}

// RecordAccessAsync records off the request path with its own timeout.
func (r *Registry) RecordAccessAsync(s *model.Session, a Access) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("sessionId", s.ID).Msg("honeypot recording panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.recordTimeout)
		defer cancel()
		r.RecordAccess(ctx, s, a)
	}()
}

// Wait blocks until every asynchronous recording has finished.
func (r *Registry) Wait() {
	r.pending.Wait()
}

// TrapURLs builds the session's trap endpoints.
func (r *Registry) TrapURLs(s *model.Session) payload.TrapURLs {
	if s.HoneypotToken == "" {
		return payload.TrapURLs{}
	}
	token := url.PathEscape(s.HoneypotToken)
	urls := payload.TrapURLs{
		Config: r.baseURL + "/api/v1/config/" + token,
		Beacon: r.baseURL + "/assets/" + token + "/pixel.png",
	}
	if s.ProblemID != "" {
		urls.Docs = r.baseURL + "/docs/" + token + "/" + url.PathEscape(s.ProblemID)
	}
	return urls
}
