package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/httputil"
)

type EventType string

const (
	EventSessionCreate      EventType = "session_create"
	EventSessionEnd         EventType = "session_end"
	EventInvariantViolation EventType = "invariant_violation"
	EventHoneypotAccess     EventType = "honeypot_access"
	EventAuthFailure        EventType = "auth_failure"
	EventForbidden          EventType = "forbidden"
	EventRateLimitExceed    EventType = "rate_limit_exceeded"
)

type Event struct {
	Type          EventType
	SessionID     string
	InterviewerID string
	IP            string
	UserAgent     string
	Details       map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.InterviewerID != "" {
		logger = logger.With().Str("interviewerId", event.InterviewerID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	if event.Type == EventInvariantViolation {
		logEvent = logger.Warn()
	}
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case error:
		return e.AnErr(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = httputil.ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}
