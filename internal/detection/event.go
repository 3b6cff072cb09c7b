package detection

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
)

//go:embed event_schema.json
var eventSchemaJSON string

// maxClockSkew bounds how far a client timestamp may drift from server time
// before it is replaced.
const maxClockSkew = 5 * time.Minute

// ClientEvent is the body of POST /api/cheating-events. Clients may send raw
// signals or their own classification; either way the server classifies.
type ClientEvent struct {
	EventID     string    `json:"eventId,omitempty"`
	Type        string    `json:"type"`
	SessionID   string    `json:"sessionId,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Direction   string    `json:"direction,omitempty"`
	FromProblem bool      `json:"fromProblem,omitempty"`
	Length      int       `json:"length,omitempty"`
	URL         string    `json:"url,omitempty"`
	Intervals   []float64 `json:"intervals,omitempty"`
}

// EventValidator checks client events against the embedded schema.
type EventValidator struct {
	schema *gojsonschema.Schema
}

func NewEventValidator() (*EventValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to load event schema: %w", err)
	}
	return &EventValidator{schema: schema}, nil
}

// Parse validates body and decodes it. Validation failures carry no detail
// beyond a generic message.
func (v *EventValidator) Parse(body []byte) (ClientEvent, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return ClientEvent{}, apperrors.ValidationError("Invalid event").WithCause(err)
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return ClientEvent{}, apperrors.ValidationError("Invalid event").
			WithCause(fmt.Errorf("schema: %s", strings.Join(reasons, "; ")))
	}

	var ev ClientEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ClientEvent{}, apperrors.ValidationError("Invalid event").WithCause(err)
	}
	return ev, nil
}

// Signal maps the event onto a raw signal. Client-side classifications are
// reduced to the signal they were derived from.
func (e ClientEvent) Signal(originIP, userAgent string, now time.Time) Signal {
	sig := Signal{
		EventID:     e.EventID,
		SessionID:   e.SessionID,
		At:          e.Timestamp,
		OriginIP:    originIP,
		UserAgent:   userAgent,
		FromProblem: e.FromProblem,
		Length:      e.Length,
		URL:         e.URL,
		Intervals:   e.Intervals,
	}
	if sig.At.IsZero() || sig.At.Sub(now).Abs() > maxClockSkew {
		sig.At = now
	}

	switch e.Type {
	case "copy-paste":
		if e.Direction == "copy" {
			sig.Type = SignalCopy
		} else {
			sig.Type = SignalPaste
		}
	case "llm-api-request":
		sig.Type = SignalNetworkRequest
	case "typing-pattern-anomaly":
		sig.Type = SignalKeystrokes
	default:
		sig.Type = SignalType(e.Type)
	}
	return sig
}
