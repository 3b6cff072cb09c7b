package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hireproctor/interview-server-go/internal/detection"
	"github.com/hireproctor/interview-server-go/internal/honeypot"
	"github.com/hireproctor/interview-server-go/internal/metrics"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/payload"
	"github.com/hireproctor/interview-server-go/internal/repository"
)

type MockFeed struct {
	mock.Mock
}

func (m *MockFeed) PublishState(ctx context.Context, state model.SessionState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockFeed) PublishCode(ctx context.Context, snap model.CodeSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

type MockSignalSink struct {
	mock.Mock
}

func (m *MockSignalSink) Ingest(ctx context.Context, sig detection.Signal) *model.Incident {
	args := m.Called(ctx, sig)
	inc, _ := args.Get(0).(*model.Incident)
	return inc
}

type fixture struct {
	svc       *SessionService
	incidents *IncidentService
	sessions  *repository.MemorySessionRepository
	incRepo   *repository.MemoryIncidentRepository
	feed      *MockFeed
	signals   *MockSignalSink
	metrics   *metrics.Metrics
	clock     *time.Time
}

var (
	alice = Actor{InterviewerID: "alice"}
	bob   = Actor{InterviewerID: "bob"}
	t0    = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	sessions := repository.NewMemorySessionRepository()
	incRepo := repository.NewMemoryIncidentRepository()
	signals := new(MockSignalSink)
	feed := new(MockFeed)

	composer, err := payload.NewComposer(payload.DefaultGroups)
	require.NoError(t, err)
	registry := honeypot.NewRegistry(sessions, signals, "https://interview.example.com", time.Second, m)

	svc := NewSessionService(
		sessions,
		repository.NewMemoryProblemRepository(repository.SampleProblems()...),
		registry, composer, feed, signals, m,
		Timing{DefaultDuration: 30 * time.Minute, PollInterval: 2 * time.Second, CodeDebounce: 2 * time.Second},
	)
	clock := t0
	svc.now = func() time.Time { return clock }

	return &fixture{
		svc:       svc,
		incidents: NewIncidentService(svc, incRepo),
		sessions:  sessions,
		incRepo:   incRepo,
		feed:      feed,
		signals:   signals,
		metrics:   m,
		clock:     &clock,
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) create(t *testing.T) *model.Session {
	t.Helper()
	s, created, err := f.svc.Create(context.Background(), alice, CreateSessionInput{ProblemID: "two-sum"})
	require.NoError(t, err)
	require.True(t, created)
	return s
}
