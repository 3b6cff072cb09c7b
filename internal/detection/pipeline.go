package detection

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/metrics"
	"github.com/hireproctor/interview-server-go/internal/model"
)

type IncidentWriter interface {
	Create(ctx context.Context, inc *model.Incident) error
}

// Feed pushes classifier output to a session's live observers.
type Feed interface {
	PublishIncident(ctx context.Context, inc *model.Incident) error
	PublishAlert(ctx context.Context, alert *model.Alert) error
}

// Pipeline classifies signals and persists and publishes the result. Only
// classification decides what the caller sees; storage and push failures are
// logged and swallowed.
type Pipeline struct {
	classifier *Classifier
	store      IncidentWriter
	feed       Feed
	metrics    *metrics.Metrics
	seen       *lru.Cache[string, struct{}]
}

func NewPipeline(classifier *Classifier, store IncidentWriter, feed Feed, m *metrics.Metrics, dedupeSize int) (*Pipeline, error) {
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}
	return &Pipeline{
		classifier: classifier,
		store:      store,
		feed:       feed,
		metrics:    m,
		seen:       seen,
	}, nil
}

// Ingest runs one signal through the pipeline and returns the recorded
// incident, or nil when the signal was a duplicate or filtered.
func (p *Pipeline) Ingest(ctx context.Context, sig Signal) *model.Incident {
	p.metrics.SignalsTotal.WithLabelValues(string(sig.Type)).Inc()

	if sig.EventID != "" {
		if seen, _ := p.seen.ContainsOrAdd(sig.SessionID+":"+sig.EventID, struct{}{}); seen {
			p.metrics.DuplicateEvents.Inc()
			return nil
		}
	}

	out, err := p.classifier.Classify(ctx, sig)
	if err != nil {
		p.metrics.SideEffectFailed("classify")
		log.Warn().Err(err).Str("type", string(sig.Type)).Str("sessionId", sig.SessionID).Msg("failed to classify signal")
		return nil
	}

	if out.Alert != nil {
		p.metrics.AlertsTotal.WithLabelValues(string(out.Alert.Kind)).Inc()
		if err := p.feed.PublishAlert(ctx, out.Alert); err != nil {
			p.metrics.SideEffectFailed("alert_publish")
			log.Warn().Err(err).Str("sessionId", out.Alert.SessionID).Msg("failed to publish alert")
		}
	}

	inc := out.Incident
	if inc == nil {
		p.metrics.SuppressedTotal.WithLabelValues(string(sig.Type)).Inc()
		return nil
	}
	inc.CreatedAt = time.Now().UTC()

	if err := p.store.Create(ctx, inc); err != nil {
		p.metrics.SideEffectFailed("incident_persist")
		log.Error().Err(err).Str("kind", string(inc.Kind)).Str("incidentId", inc.ID).Msg("failed to persist incident")
	}
	p.metrics.IncidentsTotal.WithLabelValues(string(inc.Kind), string(inc.Severity)).Inc()

	if inc.SessionID != nil {
		if err := p.feed.PublishIncident(ctx, inc); err != nil {
			p.metrics.SideEffectFailed("incident_publish")
			log.Warn().Err(err).Str("sessionId", *inc.SessionID).Msg("failed to publish incident")
		}
	}

	log.Info().
		Str("incidentId", inc.ID).
		Str("kind", string(inc.Kind)).
		Str("severity", string(inc.Severity)).
		Msg("incident recorded")
	return inc
}
