package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hireproctor/interview-server-go/internal/database"
	"github.com/hireproctor/interview-server-go/internal/model"
)

// LifecycleFunc receives the locked current session and returns the
// session to store. Returning write=false leaves the row untouched.
type LifecycleFunc func(current model.Session) (next model.Session, write bool, err error)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindByHoneypotToken(ctx context.Context, token string) (*model.Session, error)
	// CreateOrGet inserts s unless a session with its id exists, in which
	// case the stored session is returned with created=false.
	CreateOrGet(ctx context.Context, s *model.Session) (stored *model.Session, created bool, err error)
	// UpdateLifecycle runs fn against the current row under a row lock and
	// writes back only the lifecycle columns. A missing session yields nil.
	UpdateLifecycle(ctx context.Context, id string, fn LifecycleFunc) (*model.Session, error)
	// SaveCode writes only the code columns, and only while the session is
	// live. It reports whether a row was written.
	SaveCode(ctx context.Context, id, code, language string, at time.Time) (bool, error)
	// ListExpired returns live sessions whose timer ran out before now.
	ListExpired(ctx context.Context, now time.Time) ([]model.Session, error)
}

type sessionRepo struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepo{db: db}
}

const sessionColumns = `
	id, honeypot_token, candidate_id, candidate_name, interviewer_id,
	candidate_join_requested, approved, interviewer_ready, candidate_started, ended,
	created_at, start_time, duration_seconds, end_time,
	problem_id, attack_config, code, language, code_updated_at,
	candidate_origin, updated_at`

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM interview_sessions WHERE id = $1`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByHoneypotToken(ctx context.Context, token string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM interview_sessions WHERE honeypot_token = $1`, token)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) CreateOrGet(ctx context.Context, s *model.Session) (*model.Session, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO interview_sessions (
			id, honeypot_token, candidate_id, interviewer_id,
			created_at, duration_seconds, problem_id, attack_config, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $5)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.HoneypotToken, s.CandidateID, s.InterviewerID,
		s.CreatedAt, s.DurationSeconds, s.ProblemID, s.AttackConfig)
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	stored, err := r.FindByID(ctx, s.ID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("session %s vanished after insert", s.ID)
	}
	return stored, inserted == 1, nil
}

func (r *sessionRepo) UpdateLifecycle(ctx context.Context, id string, fn LifecycleFunc) (*model.Session, error) {
	var result *model.Session
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current model.Session
		err := tx.GetContext(ctx, &current, `SELECT `+sessionColumns+` FROM interview_sessions WHERE id = $1 FOR UPDATE`, id)
		locked, err := HandleNotFound(&current, err)
		if err != nil || locked == nil {
			return err
		}

		next, write, err := fn(current)
		if err != nil {
			return err
		}
		if !write {
			result = &current
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE interview_sessions SET
				candidate_join_requested = $2,
				approved = $3,
				interviewer_ready = $4,
				candidate_started = $5,
				ended = $6,
				start_time = $7,
				end_time = $8,
				candidate_name = $9,
				candidate_origin = $10,
				updated_at = $11
			WHERE id = $1
		`, id, next.CandidateJoinRequested, next.Approved, next.InterviewerReady,
			next.CandidateStarted, next.Ended, next.StartTime, next.EndTime,
			next.CandidateName, next.CandidateOrigin, next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update lifecycle: %w", err)
		}

		// Code columns belong to SaveCode and are not written here.
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *sessionRepo) SaveCode(ctx context.Context, id, code, language string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE interview_sessions SET
			code = $2,
			language = $3,
			code_updated_at = $4
		WHERE id = $1 AND ended = FALSE
	`, id, code, language, at)
	if err != nil {
		return false, fmt.Errorf("save code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save code: %w", err)
	}
	return n == 1, nil
}

func (r *sessionRepo) ListExpired(ctx context.Context, now time.Time) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM interview_sessions
		WHERE ended = FALSE
		AND start_time IS NOT NULL
		AND start_time + make_interval(secs => duration_seconds) <= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	return sessions, nil
}
