package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hireproctor/interview-server-go/internal/model"
)

type IncidentRepository interface {
	Create(ctx context.Context, inc *model.Incident) error
	// ListBySession returns the session's incidents in occurrence order,
	// optionally only those created after since.
	ListBySession(ctx context.Context, sessionID string, since *time.Time) ([]model.Incident, error)
}

type incidentRepo struct {
	db *sqlx.DB
}

func NewIncidentRepository(db *sqlx.DB) IncidentRepository {
	return &incidentRepo{db: db}
}

func (r *incidentRepo) Create(ctx context.Context, inc *model.Incident) error {
	details := string(inc.Details)
	if details == "" {
		details = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, kind, severity, suspicious, session_id,
			origin_ip, user_agent, details, occurred_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, inc.ID, inc.Kind, inc.Severity, inc.Suspicious, inc.SessionID,
		inc.OriginIP, inc.UserAgent, details, inc.OccurredAt, inc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (r *incidentRepo) ListBySession(ctx context.Context, sessionID string, since *time.Time) ([]model.Incident, error) {
	incidents := []model.Incident{}
	err := r.db.SelectContext(ctx, &incidents, `
		SELECT id, kind, severity, suspicious, session_id,
			origin_ip, user_agent, details, occurred_at, created_at
		FROM incidents
		WHERE session_id = $1
		AND ($2::timestamptz IS NULL OR created_at > $2)
		ORDER BY occurred_at, id
	`, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incidents, nil
}
