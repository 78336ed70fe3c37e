package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/handlers"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-interview/pkg/gateway/metrics"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
)

// Deps are the long-lived components the gateway routes to. Orchestrator and
// Directory are required; the rest fall back to defaults built from cfg.
type Deps struct {
	Orchestrator *session.Orchestrator
	Store        handlers.Pinger
	Directory    session.Directory
	Resolver     *plan.Resolver
	Billing      handlers.PlanSource
	Tracker      *sessions.Tracker
	Lifecycle    *lifecycle.Lifecycle
	Metrics      *metrics.Metrics
	Limiter      *ratelimit.Limiter
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	orch      *session.Orchestrator
	store     handlers.Pinger
	directory session.Directory
	resolver  *plan.Resolver
	billing   handlers.PlanSource
	tracker   *sessions.Tracker
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		orch:      deps.Orchestrator,
		store:     deps.Store,
		directory: deps.Directory,
		resolver:  deps.Resolver,
		billing:   deps.Billing,
		tracker:   deps.Tracker,
		lifecycle: deps.Lifecycle,
		metrics:   deps.Metrics,
		limiter:   deps.Limiter,
	}
	if s.lifecycle == nil {
		s.lifecycle = &lifecycle.Lifecycle{}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New(ratelimit.Config{
			RPS:                cfg.LimitRPS,
			Burst:              cfg.LimitBurst,
			MaxLiveConnections: cfg.WSMaxSessions,
		})
	}
	if s.tracker == nil {
		s.tracker = sessions.NewTracker(cfg.ReconnectGrace, s.expireSession)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Store: s.store, Lifecycle: s.lifecycle})
	if s.cfg.MetricsEnabled && s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	s.mux.Handle("/v1/jobs", &handlers.JobsHandler{
		Config:    s.cfg,
		Directory: s.directory,
		Resolver:  s.resolver,
		Billing:   s.billing,
		Logger:    s.logger,
	})
	s.mux.Handle("/v1/jobs/{id}", handlers.JobHandler{Directory: s.directory, Resolver: s.resolver})
	s.mux.Handle("/v1/jobs/{id}/candidates", &handlers.CandidatesHandler{
		Config:    s.cfg,
		Directory: s.directory,
		Resolver:  s.resolver,
		Logger:    s.logger,
	})

	s.mux.Handle("/v1/sessions", &handlers.SessionsHandler{
		Config:       s.cfg,
		Directory:    s.directory,
		Orchestrator: s.orch,
		Logger:       s.logger,
	})
	s.mux.Handle("/v1/sessions/{id}", handlers.SessionHandler{Directory: s.directory, Orchestrator: s.orch})

	live := handlers.LiveHandler{
		Config:       s.cfg,
		Orchestrator: s.orch,
		Logger:       s.logger,
		Limiter:      s.limiter,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.tracker,
	}
	if s.metrics != nil {
		live.Observer = s.metrics
	}
	s.mux.Handle("/v1/live/{id}", live)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.APIVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes readiness fail and refuses new live connections.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining tells every connected candidate the gateway is
// going away.
func (s *Server) WarnLiveSessionsDraining() int {
	return s.tracker.WarnAll("draining", "the interview service is restarting; reconnect to continue")
}

// WaitLiveSessions blocks until every live connection has closed or ctx ends.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.tracker.CancelAll()
}

// expireSession ends an interview whose candidate never came back.
func (s *Server) expireSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EvaluationTimeout+s.cfg.HandlerTimeout)
	defer cancel()
	if _, err := s.orch.AbruptEnd(ctx, sessionID); err != nil {
		s.logger.Warn("failed to end abandoned session", "session_id", sessionID, "error", err)
		return
	}
	s.logger.Info("reconnect grace expired; session failed", "session_id", sessionID)
}
