package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hireproctor/interview-server-go/internal/config"
	"github.com/hireproctor/interview-server-go/internal/handler"
	"github.com/hireproctor/interview-server-go/internal/httputil"
	"github.com/hireproctor/interview-server-go/internal/middleware"
)

const healthTimeout = 2 * time.Second

// Deps are the handlers and middleware the router mounts.
type Deps struct {
	IsProduction bool
	Gatherer     prometheus.Gatherer
	Ping         func(context.Context) error
	Auth         *middleware.AuthMiddleware
	Limiter      middleware.Limiter
	Sessions     *handler.SessionHandler
	Trap         *handler.TrapHandler
	Cheating     *handler.CheatingEventsHandler
	Problems     *handler.ProblemsHandler
}

func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewSecurityHeadersMiddleware(d.IsProduction).Handler)
	r.Use(exceptStreams(chimiddleware.Timeout(config.ServerRequestTimeout)))

	// Unknown routes, unknown tokens and wrong methods are indistinguishable.
	r.NotFound(httputil.NotFound)
	r.MethodNotAllowed(httputil.NotFound)

	r.Get("/health", health(d.Ping))
	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	d.Trap.Register(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRateLimitMiddleware(d.Limiter, config.DefaultRateLimitPerMin, middleware.ByClientIP("problems")).Handler)
		r.Get("/problems", d.Problems.List)
	})

	r.Route("/api/cheating-events", func(r chi.Router) {
		r.Use(middleware.NewBodyLimitMiddleware(config.MaxJSONBodyBytes).Handler)
		r.Use(middleware.NewRateLimitMiddleware(d.Limiter, config.CheatingEventRateLimitPerMin, middleware.ByClientIP("events")).
			WithLimitedHandler(http.HandlerFunc(d.Cheating.Accepted)).Handler)
		r.Post("/", d.Cheating.Post)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(middleware.NewBodyLimitMiddleware(config.MaxCodeBodyBytes).Handler)
		r.Use(d.Auth.Optional)
		r.Use(middleware.NewRateLimitMiddleware(d.Limiter, config.SessionRateLimitPerMin, middleware.ByInterviewer("sessions")).Handler)
		r.Mount("/", d.Sessions.Routes())
	})

	return r
}

// exceptStreams applies mw to everything but the live event streams, which
// stay open for the life of the session.
func exceptStreams(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/events") {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

func health(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := ping(ctx); err != nil {
			log.Error().Err(err).Msg("health check failed")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":    "unavailable",
				"timestamp": time.Now().UnixMilli(),
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	}
}
