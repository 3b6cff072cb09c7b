package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttackConfig selects the payload techniques embedded into a session's
// problem text and clipboard data. Stored as a JSON column.
type AttackConfig struct {
	Techniques       []string `json:"techniques"`
	Hidden           bool     `json:"hidden"`
	DistractorText   string   `json:"distractorText,omitempty"`
	WatermarkPhrases []string `json:"watermarkPhrases,omitempty"`
}

// Value returns a string so lib/pq sends JSON text rather than bytea.
func (c AttackConfig) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *AttackConfig) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = AttackConfig{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("attack config: unsupported type %T", src)
	}
	return json.Unmarshal(data, c)
}

type Session struct {
	ID            string  `db:"id" json:"id"`
	HoneypotToken string  `db:"honeypot_token" json:"-"`
	CandidateID   *string `db:"candidate_id" json:"candidateId,omitempty"`
	CandidateName *string `db:"candidate_name" json:"candidateName,omitempty"`
	InterviewerID *string `db:"interviewer_id" json:"interviewerId,omitempty"`

	CandidateJoinRequested bool `db:"candidate_join_requested" json:"candidateJoinRequested"`
	Approved               bool `db:"approved" json:"approved"`
	InterviewerReady       bool `db:"interviewer_ready" json:"interviewerReady"`
	CandidateStarted       bool `db:"candidate_started" json:"candidateStarted"`
	Ended                  bool `db:"ended" json:"ended"`

	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	StartTime       *time.Time `db:"start_time" json:"startTime,omitempty"`
	DurationSeconds int        `db:"duration_seconds" json:"durationSeconds"`
	EndTime         *time.Time `db:"end_time" json:"endTime,omitempty"`

	ProblemID     string       `db:"problem_id" json:"problemId"`
	AttackConfig  AttackConfig `db:"attack_config" json:"-"`
	Code          string       `db:"code" json:"code"`
	Language      string       `db:"language" json:"language"`
	CodeUpdatedAt *time.Time   `db:"code_updated_at" json:"codeUpdatedAt,omitempty"`

	CandidateOrigin *string   `db:"candidate_origin" json:"-"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

func (s *Session) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

// StateKey identifies the lifecycle state for reconciliation. Two sessions
// with equal keys describe the same lifecycle state.
func (s *Session) StateKey() string {
	return s.State().StateKey()
}

// State returns the lifecycle view shared with observers.
func (s *Session) State() SessionState {
	return SessionState{
		ID:                     s.ID,
		CandidateName:          s.CandidateName,
		CandidateJoinRequested: s.CandidateJoinRequested,
		Approved:               s.Approved,
		InterviewerReady:       s.InterviewerReady,
		CandidateStarted:       s.CandidateStarted,
		Ended:                  s.Ended,
		StartTime:              s.StartTime,
		DurationSeconds:        s.DurationSeconds,
		EndTime:                s.EndTime,
		ProblemID:              s.ProblemID,
	}
}

// SessionState is what the poll endpoint and the push channel carry. The
// remaining time is never part of it; observers derive it from StartTime and
// DurationSeconds.
type SessionState struct {
	ID                     string     `json:"id"`
	CandidateName          *string    `json:"candidateName,omitempty"`
	CandidateJoinRequested bool       `json:"candidateJoinRequested"`
	Approved               bool       `json:"approved"`
	InterviewerReady       bool       `json:"interviewerReady"`
	CandidateStarted       bool       `json:"candidateStarted"`
	Ended                  bool       `json:"ended"`
	StartTime              *time.Time `json:"startTime,omitempty"`
	DurationSeconds        int        `json:"durationSeconds"`
	EndTime                *time.Time `json:"endTime,omitempty"`
	ProblemID              string     `json:"problemId"`

	// Sync timing the server asks observers to use. Not part of the state key.
	PollIntervalMS int `json:"pollIntervalMs,omitempty"`
	CodeDebounceMS int `json:"codeDebounceMs,omitempty"`
}

func (s SessionState) StateKey() string {
	return fmt.Sprintf("%s|%t%t%t%t%t|%t%t",
		s.ID,
		s.CandidateJoinRequested, s.Approved, s.InterviewerReady, s.CandidateStarted, s.Ended,
		s.StartTime != nil, s.EndTime != nil,
	)
}

type CreateSessionParams struct {
	ID              string
	CandidateID     *string
	InterviewerID   *string
	ProblemID       string
	DurationSeconds int
	AttackConfig    AttackConfig
}

// CodeSnapshot is a live code edit. Broadcast snapshots are never persisted.
type CodeSnapshot struct {
	SessionID string    `json:"sessionId"`
	Author    string    `json:"author,omitempty"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	EditedAt  time.Time `json:"editedAt"`
}
