package model

import (
	"encoding/json"
	"time"
)

// Incident is one classified suspicious-behavior record. Incidents are
// append-only.
type Incident struct {
	ID         string          `db:"id" json:"id"`
	Kind       IncidentKind    `db:"kind" json:"kind"`
	Severity   Severity        `db:"severity" json:"severity"`
	Suspicious bool            `db:"suspicious" json:"suspicious"`
	SessionID  *string         `db:"session_id" json:"sessionId,omitempty"`
	OriginIP   *string         `db:"origin_ip" json:"originIp,omitempty"`
	UserAgent  *string         `db:"user_agent" json:"userAgent,omitempty"`
	Details    json.RawMessage `db:"details" json:"details"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurredAt"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
}

// Correlation annotates an incident with session context. It is derived on
// every read and never stored.
type Correlation struct {
	DuringActiveWindow bool `json:"duringActiveWindow"`
	OriginMatches      bool `json:"originMatches"`
}

// IncidentView is an incident as served to interviewers.
type IncidentView struct {
	Incident
	Correlation *Correlation `json:"correlation,omitempty"`
}

// Alert is a real-time notification pushed to the interviewer feed. Alerts
// are throttled independently of incident logging.
type Alert struct {
	SessionID string       `json:"sessionId"`
	Kind      IncidentKind `json:"kind"`
	Count     int          `json:"count"`
	At        time.Time    `json:"at"`
}
