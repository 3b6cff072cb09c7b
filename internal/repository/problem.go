package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/hireproctor/interview-server-go/internal/model"
)

// ProblemRepository is read-only; problems are authored elsewhere.
type ProblemRepository interface {
	FindByID(ctx context.Context, id string) (*model.Problem, error)
	ListPublic(ctx context.Context) ([]model.Problem, error)
}

type problemRepo struct {
	db *sqlx.DB
}

func NewProblemRepository(db *sqlx.DB) ProblemRepository {
	return &problemRepo{db: db}
}

func (r *problemRepo) FindByID(ctx context.Context, id string) (*model.Problem, error) {
	var problem model.Problem
	err := r.db.GetContext(ctx, &problem, `SELECT id, title, body, public FROM problems WHERE id = $1`, id)
	return HandleNotFound(&problem, err)
}

func (r *problemRepo) ListPublic(ctx context.Context) ([]model.Problem, error) {
	problems := []model.Problem{}
	err := r.db.SelectContext(ctx, &problems, `SELECT id, title, body, public FROM problems WHERE public = TRUE ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return problems, nil
}
