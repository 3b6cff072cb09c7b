package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hireproctor/interview-server-go/internal/bus"
	"github.com/hireproctor/interview-server-go/internal/detection"
	"github.com/hireproctor/interview-server-go/internal/honeypot"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/metrics"
	"github.com/hireproctor/interview-server-go/internal/middleware"
	"github.com/hireproctor/interview-server-go/internal/model"
	"github.com/hireproctor/interview-server-go/internal/payload"
	"github.com/hireproctor/interview-server-go/internal/repository"
	"github.com/hireproctor/interview-server-go/internal/service"
	"github.com/hireproctor/interview-server-go/internal/sse"
)

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, sig detection.Signal) *model.Incident {
	args := m.Called(ctx, sig)
	inc, _ := args.Get(0).(*model.Incident)
	return inc
}

type fixture struct {
	sessions  *service.SessionService
	incidents *repository.MemoryIncidentRepository
	registry  *honeypot.Registry
	broker    *sse.Broker
	ingester  *MockIngester
	metrics   *metrics.Metrics
	events    *EventsHandler
	router    chi.Router
}

const testBaseURL = "https://interview.example.com"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	sessionRepo := repository.NewMemorySessionRepository()
	incidentRepo := repository.NewMemoryIncidentRepository()
	problems := repository.NewMemoryProblemRepository(repository.SampleProblems()...)

	ingester := new(MockIngester)
	ingester.On("Ingest", mock.Anything, mock.Anything).Return(nil).Maybe()

	broker := sse.NewBroker(bus.NewMemoryBus(), m)
	t.Cleanup(broker.Close)

	composer, err := payload.NewComposer(payload.DefaultGroups)
	require.NoError(t, err)
	registry := honeypot.NewRegistry(sessionRepo, ingester, testBaseURL, time.Second, m)

	sessions := service.NewSessionService(sessionRepo, problems, registry, composer, broker, ingester, m, service.Timing{
		DefaultDuration: 30 * time.Minute,
		PollInterval:    2 * time.Second,
		CodeDebounce:    2 * time.Second,
	})
	events := NewEventsHandler(broker, sessions)
	events.heartbeat = 20 * time.Millisecond

	r := chi.NewRouter()
	r.Use(asInterviewerHeader)
	r.Mount("/api/sessions", NewSessionHandler(sessions, service.NewIncidentService(sessions, incidentRepo), events).Routes())
	NewTrapHandler(registry).Register(r)
	r.NotFound(httputil.NotFound)

	return &fixture{
		sessions:  sessions,
		incidents: incidentRepo,
		registry:  registry,
		broker:    broker,
		ingester:  ingester,
		metrics:   m,
		events:    events,
		router:    r,
	}
}

// asInterviewerHeader stands in for the auth middleware: X-Interviewer names
// the caller.
func asInterviewerHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Interviewer"); id != "" {
			r = r.WithContext(middleware.WithIdentity(r.Context(), &middleware.Identity{InterviewerID: id}))
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fixture) create(t *testing.T, interviewer string) *model.Session {
	t.Helper()
	s, _, err := f.sessions.Create(context.Background(), service.Actor{InterviewerID: interviewer}, service.CreateSessionInput{ProblemID: "two-sum"})
	require.NoError(t, err)
	return s
}
