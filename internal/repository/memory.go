package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hireproctor/interview-server-go/internal/model"
)

// In-memory stores for development and tests. They honor the same
// contracts as the Postgres repositories, including value semantics: callers
// never share memory with stored records.

type MemorySessionRepository struct {
	mu      sync.Mutex
	byID    map[string]model.Session
	byToken map[string]string
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		byID:    make(map[string]model.Session),
		byToken: make(map[string]string),
	}
}

func cloneSession(s model.Session) *model.Session {
	s.AttackConfig.Techniques = slices.Clone(s.AttackConfig.Techniques)
	s.AttackConfig.WatermarkPhrases = slices.Clone(s.AttackConfig.WatermarkPhrases)
	return &s
}

func (r *MemorySessionRepository) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (r *MemorySessionRepository) FindByHoneypotToken(_ context.Context, token string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, nil
	}
	return cloneSession(r.byID[id]), nil
}

func (r *MemorySessionRepository) CreateOrGet(_ context.Context, s *model.Session) (*model.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[s.ID]; ok {
		return cloneSession(existing), false, nil
	}
	stored := *cloneSession(*s)
	stored.UpdatedAt = stored.CreatedAt
	r.byID[s.ID] = stored
	r.byToken[s.HoneypotToken] = s.ID
	return cloneSession(stored), true, nil
}

func (r *MemorySessionRepository) UpdateLifecycle(_ context.Context, id string, fn LifecycleFunc) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	next, write, err := fn(*cloneSession(current))
	if err != nil {
		return nil, err
	}
	if !write {
		return cloneSession(current), nil
	}

	current.CandidateJoinRequested = next.CandidateJoinRequested
	current.Approved = next.Approved
	current.InterviewerReady = next.InterviewerReady
	current.CandidateStarted = next.CandidateStarted
	current.Ended = next.Ended
	current.StartTime = next.StartTime
	current.EndTime = next.EndTime
	current.CandidateName = next.CandidateName
	current.CandidateOrigin = next.CandidateOrigin
	current.UpdatedAt = next.UpdatedAt
	r.byID[id] = current
	return cloneSession(current), nil
}

func (r *MemorySessionRepository) SaveCode(_ context.Context, id, code, language string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok || current.Ended {
		return false, nil
	}
	current.Code = code
	current.Language = language
	current.CodeUpdatedAt = &at
	r.byID[id] = current
	return true, nil
}

func (r *MemorySessionRepository) ListExpired(_ context.Context, now time.Time) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Session
	for _, s := range r.byID {
		if s.Ended || s.StartTime == nil {
			continue
		}
		if !s.StartTime.Add(s.Duration()).After(now) {
			out = append(out, *cloneSession(s))
		}
	}
	return out, nil
}

type MemoryIncidentRepository struct {
	mu        sync.Mutex
	incidents []model.Incident
}

func NewMemoryIncidentRepository() *MemoryIncidentRepository {
	return &MemoryIncidentRepository{}
}

func (r *MemoryIncidentRepository) Create(_ context.Context, inc *model.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *inc
	stored.Details = slices.Clone(inc.Details)
	r.incidents = append(r.incidents, stored)
	return nil
}

func (r *MemoryIncidentRepository) ListBySession(_ context.Context, sessionID string, since *time.Time) ([]model.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []model.Incident{}
	for _, inc := range r.incidents {
		if inc.SessionID == nil || *inc.SessionID != sessionID {
			continue
		}
		if since != nil && !inc.CreatedAt.After(*since) {
			continue
		}
		out = append(out, inc)
	}
	slices.SortStableFunc(out, func(a, b model.Incident) int {
		return a.OccurredAt.Compare(b.OccurredAt)
	})
	return out, nil
}

type MemoryProblemRepository struct {
	problems map[string]model.Problem
}

func NewMemoryProblemRepository(problems ...model.Problem) *MemoryProblemRepository {
	r := &MemoryProblemRepository{problems: make(map[string]model.Problem)}
	for _, p := range problems {
		r.problems[p.ID] = p
	}
	return r
}

func (r *MemoryProblemRepository) FindByID(_ context.Context, id string) (*model.Problem, error) {
	p, ok := r.problems[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryProblemRepository) ListPublic(_ context.Context) ([]model.Problem, error) {
	out := []model.Problem{}
	for _, p := range r.problems {
		if p.Public {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.Problem) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// SampleProblems seeds development stores.
func SampleProblems() []model.Problem {
	return []model.Problem{
		{
			ID:     "two-sum",
			Title:  "Two Sum",
			Body:   "Given an array of integers nums and an integer target, return the indices of the two numbers that add up to target. Each input has exactly one solution and the same element may not be used twice.",
			Public: true,
		},
		{
			ID:     "lru-cache",
			Title:  "LRU Cache",
			Body:   "Design a data structure that follows the constraints of a least-recently-used cache. Implement get(key) and put(key, value), both in O(1) average time, evicting the least recently used key when capacity is exceeded.",
			Public: true,
		},
		{
			ID:     "interval-merge",
			Title:  "Merge Intervals",
			Body:   "Given a list of intervals, merge all overlapping intervals and return the non-overlapping intervals that cover every interval in the input, sorted by start.",
			Public: false,
		},
	}
}

var (
	_ SessionRepository  = (*MemorySessionRepository)(nil)
	_ IncidentRepository = (*MemoryIncidentRepository)(nil)
	_ ProblemRepository  = (*MemoryProblemRepository)(nil)
)
