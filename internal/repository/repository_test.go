package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireproctor/interview-server-go/internal/database"
	"github.com/hireproctor/interview-server-go/internal/model"
)

// setupTestDB connects to TEST_DATABASE_URL and applies the schema. Tests
// needing Postgres are skipped when it is not set.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

type stores struct {
	sessions  SessionRepository
	incidents IncidentRepository
}

func backends(t *testing.T) map[string]func(t *testing.T) stores {
	return map[string]func(t *testing.T) stores{
		"memory": func(t *testing.T) stores {
			return stores{NewMemorySessionRepository(), NewMemoryIncidentRepository()}
		},
		"postgres": func(t *testing.T) stores {
			db := setupTestDB(t)
			return stores{NewSessionRepository(db), NewIncidentRepository(db.DB)}
		},
	}
}

func newSession() *model.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Session{
		ID:              uuid.NewString(),
		HoneypotToken:   uuid.NewString(),
		CreatedAt:       now,
		DurationSeconds: 1800,
		ProblemID:       "two-sum",
		AttackConfig:    model.AttackConfig{Techniques: []string{"hidden-padding"}, Hidden: true},
	}
}

func TestSessionRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := open(t).sessions
			ctx := context.Background()

			t.Run("create or get is idempotent", func(t *testing.T) {
				s := newSession()
				stored, created, err := repo.CreateOrGet(ctx, s)
				require.NoError(t, err)
				assert.True(t, created)
				assert.Equal(t, s.HoneypotToken, stored.HoneypotToken)
				assert.Equal(t, []string{"hidden-padding"}, stored.AttackConfig.Techniques)

				again := *s
				again.HoneypotToken = uuid.NewString()
				stored2, created, err := repo.CreateOrGet(ctx, &again)
				require.NoError(t, err)
				assert.False(t, created)
				assert.Equal(t, s.HoneypotToken, stored2.HoneypotToken)
			})

			t.Run("concurrent creates agree", func(t *testing.T) {
				s := newSession()
				var wg sync.WaitGroup
				tokens := make([]string, 8)
				createdCount := make([]bool, 8)
				for i := range tokens {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						attempt := *s
						attempt.HoneypotToken = uuid.NewString()
						stored, created, err := repo.CreateOrGet(ctx, &attempt)
						if assert.NoError(t, err) {
							tokens[i] = stored.HoneypotToken
							createdCount[i] = created
						}
					}(i)
				}
				wg.Wait()
				n := 0
				for i := range tokens {
					assert.Equal(t, tokens[0], tokens[i])
					if createdCount[i] {
						n++
					}
				}
				assert.Equal(t, 1, n)
			})

			t.Run("finds by exact token", func(t *testing.T) {
				s := newSession()
				_, _, err := repo.CreateOrGet(ctx, s)
				require.NoError(t, err)

				got, err := repo.FindByHoneypotToken(ctx, s.HoneypotToken)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, s.ID, got.ID)

				got, err = repo.FindByHoneypotToken(ctx, s.HoneypotToken[:35])
				require.NoError(t, err)
				assert.Nil(t, got)

				got, err = repo.FindByID(ctx, uuid.NewString())
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("lifecycle and code columns do not clobber", func(t *testing.T) {
				s := newSession()
				_, _, err := repo.CreateOrGet(ctx, s)
				require.NoError(t, err)

				ok, err := repo.SaveCode(ctx, s.ID, "print(1)", "python", time.Now().UTC())
				require.NoError(t, err)
				assert.True(t, ok)

				// fn sees the state read before the code save landed in a
				// stale copy; the write must still keep the new code.
				updated, err := repo.UpdateLifecycle(ctx, s.ID, func(cur model.Session) (model.Session, bool, error) {
					cur.Code = "stale"
					cur.CandidateJoinRequested = true
					cur.UpdatedAt = time.Now().UTC()
					return cur, true, nil
				})
				require.NoError(t, err)
				assert.True(t, updated.CandidateJoinRequested)

				got, err := repo.FindByID(ctx, s.ID)
				require.NoError(t, err)
				assert.Equal(t, "print(1)", got.Code)
				assert.True(t, got.CandidateJoinRequested)
			})

			t.Run("lifecycle fn error rolls back", func(t *testing.T) {
				s := newSession()
				_, _, err := repo.CreateOrGet(ctx, s)
				require.NoError(t, err)

				boom := errors.New("boom")
				_, err = repo.UpdateLifecycle(ctx, s.ID, func(cur model.Session) (model.Session, bool, error) {
					cur.Ended = true
					return cur, true, boom
				})
				assert.ErrorIs(t, err, boom)

				got, _ := repo.FindByID(ctx, s.ID)
				assert.False(t, got.Ended)
			})

			t.Run("missing session yields nil", func(t *testing.T) {
				got, err := repo.UpdateLifecycle(ctx, uuid.NewString(), func(cur model.Session) (model.Session, bool, error) {
					t.Fatal("fn must not run")
					return cur, false, nil
				})
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("code save rejected after end", func(t *testing.T) {
				s := newSession()
				_, _, err := repo.CreateOrGet(ctx, s)
				require.NoError(t, err)
				_, err = repo.UpdateLifecycle(ctx, s.ID, func(cur model.Session) (model.Session, bool, error) {
					cur.Ended = true
					now := time.Now().UTC()
					cur.EndTime = &now
					return cur, true, nil
				})
				require.NoError(t, err)

				ok, err := repo.SaveCode(ctx, s.ID, "late", "go", time.Now().UTC())
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("lists expired sessions", func(t *testing.T) {
				s := newSession()
				s.DurationSeconds = 60
				_, _, err := repo.CreateOrGet(ctx, s)
				require.NoError(t, err)
				start := time.Now().UTC().Add(-2 * time.Minute).Truncate(time.Microsecond)
				_, err = repo.UpdateLifecycle(ctx, s.ID, func(cur model.Session) (model.Session, bool, error) {
					cur.InterviewerReady = true
					cur.CandidateStarted = true
					cur.StartTime = &start
					return cur, true, nil
				})
				require.NoError(t, err)

				expired, err := repo.ListExpired(ctx, time.Now().UTC())
				require.NoError(t, err)
				ids := make([]string, 0, len(expired))
				for _, e := range expired {
					ids = append(ids, e.ID)
				}
				assert.Contains(t, ids, s.ID)
			})
		})
	}
}

func TestIncidentRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			sessionID := uuid.NewString()
			base := time.Now().UTC().Truncate(time.Millisecond)

			mk := func(offset time.Duration, kind model.IncidentKind) *model.Incident {
				sid := sessionID
				return &model.Incident{
					ID:         uuid.NewString(),
					Kind:       kind,
					Severity:   model.SeverityHigh,
					Suspicious: true,
					SessionID:  &sid,
					Details:    []byte(`{"path":"/docs/x/1"}`),
					OccurredAt: base.Add(offset),
					CreatedAt:  base.Add(offset),
				}
			}

			require.NoError(t, st.incidents.Create(ctx, mk(2*time.Second, model.KindTabSwitch)))
			require.NoError(t, st.incidents.Create(ctx, mk(time.Second, model.KindHoneypotAccess)))

			all, err := st.incidents.ListBySession(ctx, sessionID, nil)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, model.KindHoneypotAccess, all[0].Kind)
			assert.JSONEq(t, `{"path":"/docs/x/1"}`, string(all[0].Details))

			since := base.Add(time.Second)
			recent, err := st.incidents.ListBySession(ctx, sessionID, &since)
			require.NoError(t, err)
			require.Len(t, recent, 1)
			assert.Equal(t, model.KindTabSwitch, recent[0].Kind)

			none, err := st.incidents.ListBySession(ctx, uuid.NewString(), nil)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestMemoryProblemRepository(t *testing.T) {
	repo := NewMemoryProblemRepository(SampleProblems()...)
	ctx := context.Background()

	public, err := repo.ListPublic(ctx)
	require.NoError(t, err)
	require.Len(t, public, 2)
	assert.Equal(t, "lru-cache", public[0].ID)

	p, err := repo.FindByID(ctx, "interval-merge")
	require.NoError(t, err)
	assert.False(t, p.Public)

	p, err = repo.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}
