package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/model"
)

const expiryRunTimeout = 30 * time.Second

type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time) ([]model.Session, error)
}

type SessionExpirer interface {
	Expire(ctx context.Context, id string) (bool, error)
}

// Collector drops detection state older than its window.
type Collector interface {
	GC(now time.Time)
}

// ExpiryJob ends sessions whose timer ran out and collects in-process
// detection windows.
type ExpiryJob struct {
	lister     ExpiredLister
	expirer    SessionExpirer
	collectors []Collector
	interval   time.Duration
	now        func() time.Time
	done       chan struct{}
	wg         sync.WaitGroup
}

func NewExpiryJob(lister ExpiredLister, expirer SessionExpirer, interval time.Duration, collectors ...Collector) *ExpiryJob {
	return &ExpiryJob{
		lister:     lister,
		expirer:    expirer,
		collectors: collectors,
		interval:   interval,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

func (j *ExpiryJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("expiry job started")
}

// Stop returns after the current run, if any, has finished.
func (j *ExpiryJob) Stop() {
	close(j.done)
	j.wg.Wait()
	log.Info().Msg("expiry job stopped")
}

func (j *ExpiryJob) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.tick()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *ExpiryJob) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), expiryRunTimeout)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce performs one pass and returns how many sessions it ended.
func (j *ExpiryJob) RunOnce(ctx context.Context) int {
	now := j.now()
	for _, c := range j.collectors {
		c.GC(now)
	}

	sessions, err := j.lister.ListExpired(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to list expired sessions")
		return 0
	}

	ended := 0
	for _, s := range sessions {
		ok, err := j.expirer.Expire(ctx, s.ID)
		if err != nil {
			log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to expire session")
			continue
		}
		if ok {
			ended++
		}
	}
	if ended > 0 {
		log.Info().Int("count", ended).Msg("ended expired sessions")
	}
	return ended
}
