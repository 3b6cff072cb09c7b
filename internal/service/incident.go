package service

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hireproctor/interview-server-go/internal/correlation"
	apperrors "github.com/hireproctor/interview-server-go/internal/errors"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/repository"
)

type IncidentService struct {
	sessions  *SessionService
	incidents repository.IncidentRepository
}

func NewIncidentService(sessions *SessionService, incidents repository.IncidentRepository) *IncidentService {
	return &IncidentService{sessions: sessions, incidents: incidents}
}

// List returns the session's incidents for its interviewer, most severe
// first and oldest first within a severity. since, when set, limits the list
// to incidents recorded after it.
func (s *IncidentService) List(ctx context.Context, actor Actor, sessionID string, since *time.Time) ([]model.IncidentView, error) {
	sess, err := s.sessions.GetForInterviewer(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	incidents, err := s.incidents.ListBySession(ctx, sessionID, since)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	views := make([]model.IncidentView, 0, len(incidents))
	for _, inc := range incidents {
		views = append(views, correlation.View(inc, sess))
	}
	slices.SortStableFunc(views, func(a, b model.IncidentView) int {
		if c := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); c != 0 {
			return c
		}
		return a.OccurredAt.Compare(b.OccurredAt)
	})
	return views, nil
}
