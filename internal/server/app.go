// Package server assembles the interview service from its configuration.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/bus"
	"github.com/hireproctor/interview-server-go/internal/config"
	"github.com/hireproctor/interview-server-go/internal/database"
	"github.com/hireproctor/interview-server-go/internal/detection"
	"github.com/hireproctor/interview-server-go/internal/handler"
	"github.com/hireproctor/interview-server-go/internal/honeypot"
	"github.com/hireproctor/interview-server-go/internal/jobs"
	"github.com/hireproctor/interview-server-go/internal/metrics"
	"github.com/hireproctor/interview-server-go/internal/middleware"
	"github.com/hireproctor/interview-server-go/internal/payload"
	"github.com/hireproctor/interview-server-go/internal/policy"
	"github.com/hireproctor/interview-server-go/internal/redis"
	"github.com/hireproctor/interview-server-go/internal/repository"
	"github.com/hireproctor/interview-server-go/internal/service"
	"github.com/hireproctor/interview-server-go/internal/sse"
	"github.com/hireproctor/interview-server-go/internal/util"
)

// Options are the parts of the runtime that tests replace.
type Options struct {
	IsProduction bool
	// Registry receives the service metrics. A fresh registry is used when
	// nil.
	Registry *prometheus.Registry
}

// App is a fully wired server.
type App struct {
	Router   chi.Router
	Sessions *service.SessionService
	Honeypot *honeypot.Registry
	Expiry   *jobs.ExpiryJob
	Metrics  *metrics.Metrics

	started bool
	closers []func() error
}

// Build connects every backing store named by cfg and wires the services on
// top of them. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, opts Options) (app *App, err error) {
	app = &App{}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)
	app.Metrics = m

	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	patterns, err := detection.CompilePatterns(pol.LLMDomains, pol.BotUserAgents)
	if err != nil {
		return nil, fmt.Errorf("compile policy patterns: %w", err)
	}
	composer, err := payload.NewComposer(pol.TechniqueGroups)
	if err != nil {
		return nil, fmt.Errorf("technique groups: %w", err)
	}

	// Stores
	var (
		sessions  repository.SessionRepository
		incidents repository.IncidentRepository
		problems  repository.ProblemRepository
		ping      func(context.Context) error
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		app.closers = append(app.closers, db.Close)

		pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
		err = db.Ping(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		log.Info().Msg("database connected")

		sessions = repository.NewSessionRepository(db)
		incidents = repository.NewIncidentRepository(db.DB)
		problems = repository.NewProblemRepository(db.DB)
		ping = db.Ping
	default:
		sessions = repository.NewMemorySessionRepository()
		incidents = repository.NewMemoryIncidentRepository()
		problems = repository.NewMemoryProblemRepository(repository.SampleProblems()...)
		ping = func(context.Context) error { return nil }
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, redisClient.Close)
		log.Info().Msg("redis connected")
	}

	// Live feed transport
	var feedBus bus.Bus
	switch cfg.BusDriver {
	case config.BusDriverRedis:
		if redisClient == nil {
			return nil, errors.New("redis bus requires REDIS_URL")
		}
		feedBus = bus.NewRedisBus(redisClient.Client)
	case config.BusDriverNATS:
		nb, err := bus.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		feedBus = nb
		log.Info().Msg("nats connected")
	default:
		feedBus = bus.NewMemoryBus()
	}
	app.closers = append(app.closers, feedBus.Close)

	broker := sse.NewBroker(feedBus, m)
	app.closers = append(app.closers, func() error { broker.Close(); return nil })

	// Detection
	var (
		windows    detection.WindowStore
		throttle   detection.Throttle
		limiter    middleware.Limiter
		collectors []jobs.Collector
	)
	if redisClient != nil {
		windows = detection.NewRedisWindow(redisClient.Client)
		throttle = detection.NewRedisThrottle(redisClient.Client)
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	} else {
		mw := detection.NewMemoryWindow(max(cfg.Detection.TabSwitchWindow(), cfg.Detection.PasteBurstWindow()))
		windows = mw
		collectors = append(collectors, mw)
		mt, err := detection.NewMemoryThrottle(cfg.Detection.DedupeCacheSize)
		if err != nil {
			return nil, fmt.Errorf("throttle: %w", err)
		}
		throttle = mt
		limiter = middleware.NewMemoryRateLimiter()
	}
	typing, err := detection.NewTypingTracker(
		cfg.Detection.DedupeCacheSize,
		cfg.Detection.TypingWindowSize,
		cfg.Detection.TypingVarianceThresholdMS2,
		cfg.Detection.TypingMeanThresholdMS,
	)
	if err != nil {
		return nil, fmt.Errorf("typing tracker: %w", err)
	}
	classifier := detection.NewClassifier(cfg.Detection, windows, throttle, typing, patterns, cfg.PublicHost())
	pipeline, err := detection.NewPipeline(classifier, incidents, broker, m, cfg.Detection.DedupeCacheSize)
	if err != nil {
		return nil, err
	}
	validator, err := detection.NewEventValidator()
	if err != nil {
		return nil, err
	}

	registry := honeypot.NewRegistry(sessions, pipeline, cfg.PublicBaseURL, config.HoneypotRecordTimeout, m)
	app.Honeypot = registry
	app.closers = append(app.closers, func() error { registry.Wait(); return nil })

	sessionService := service.NewSessionService(
		sessions, problems, registry, composer, broker, pipeline, m,
		service.Timing{
			DefaultDuration: cfg.DefaultDuration(),
			PollInterval:    cfg.PollInterval(),
			CodeDebounce:    cfg.CodeDebounce(),
		},
	)
	incidentService := service.NewIncidentService(sessionService, incidents)
	app.Sessions = sessionService

	tokens := cfg.InterviewerTokens
	if tokens == "" && cfg.StoreDriver == config.StoreDriverMemory && !opts.IsProduction {
		devToken, err := util.GenerateToken()
		if err != nil {
			return nil, fmt.Errorf("generate dev token: %w", err)
		}
		tokens = "dev:" + devToken
		log.Warn().Str("token", devToken).Msg("INTERVIEWER_TOKENS is empty: interviewer \"dev\" gets a one-off token")
	}
	identities, err := middleware.ParseStaticTokens(tokens)
	if err != nil {
		return nil, fmt.Errorf("INTERVIEWER_TOKENS: %w", err)
	}

	eventsHandler := handler.NewEventsHandler(broker, sessionService)
	app.Router = NewRouter(Deps{
		IsProduction: opts.IsProduction,
		Gatherer:     reg,
		Ping:         ping,
		Auth:         middleware.NewAuthMiddleware(identities),
		Limiter:      limiter,
		Sessions:     handler.NewSessionHandler(sessionService, incidentService, eventsHandler),
		Trap:         handler.NewTrapHandler(registry),
		Cheating:     handler.NewCheatingEventsHandler(validator, pipeline, m),
		Problems:     handler.NewProblemsHandler(problems, pipeline),
	})

	app.Expiry = jobs.NewExpiryJob(sessions, sessionService, config.ExpiryJobInterval, collectors...)
	return app, nil
}

// Start launches background work.
func (a *App) Start() {
	a.Expiry.Start()
	a.started = true
}

// Close stops background work and releases connections in reverse order of
// acquisition.
func (a *App) Close() error {
	if a.started {
		a.Expiry.Stop()
		a.started = false
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
