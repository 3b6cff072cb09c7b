package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hireproctor/interview-server-go/internal/config"
	"github.com/hireproctor/interview-server-go/internal/detection"
	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/metrics"
	"github.com/hireproctor/interview-server-go/internal/model"
)

// Ingester classifies and records signals.
type Ingester interface {
	Ingest(ctx context.Context, sig detection.Signal) *model.Incident
}

var accepted = map[string]bool{"ok": true}

type CheatingEventsHandler struct {
	validator *detection.EventValidator
	ingester  Ingester
	metrics   *metrics.Metrics
}

func NewCheatingEventsHandler(validator *detection.EventValidator, ingester Ingester, m *metrics.Metrics) *CheatingEventsHandler {
	return &CheatingEventsHandler{validator: validator, ingester: ingester, metrics: m}
}

// POST /api/cheating-events
// Every well-formed event gets the same 202, whether or not it produced an
// incident.
func (h *CheatingEventsHandler) Post(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.InvalidEvents.Inc()
		httputil.WriteError(w, apperrors.ValidationError("Invalid event"))
		return
	}

	ev, err := h.validator.Parse(body)
	if err != nil {
		h.metrics.InvalidEvents.Inc()
		httputil.WriteError(w, err)
		return
	}

	// Recording outlives a client that hangs up after sending.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), config.HoneypotRecordTimeout)
	defer cancel()
	h.ingester.Ingest(ctx, ev.Signal(httputil.ClientIP(r), r.UserAgent(), time.Now().UTC()))

	writeJSON(w, http.StatusAccepted, accepted)
}

// Accepted answers like Post without doing anything. It stands in for Post
// when the caller is over its rate limit.
func (h *CheatingEventsHandler) Accepted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, accepted)
}
