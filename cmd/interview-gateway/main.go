package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-interview/internal/dotenv"
	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/providers/gemini"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/gateway/billing"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/metrics"
	"github.com/vango-go/vai-interview/pkg/gateway/outbox"
	gatewayserver "github.com/vango-go/vai-interview/pkg/gateway/server"
	"github.com/vango-go/vai-interview/pkg/gateway/store/gormstore"
	"github.com/vango-go/vai-interview/pkg/gateway/store/pgstore"
)

// backend is what every store implementation provides.
type backend interface {
	session.Store
	session.Directory
	Ping(ctx context.Context) error
	Close() error
}

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(context.Context, config.Config, *slog.Logger) (backend, error)
	newReasoner  func(context.Context, config.Config, *slog.Logger) (conversation.Reasoner, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:  config.LoadFromEnv,
		openStore:   openStore,
		newReasoner: newReasoner,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Store {
	case config.StoreMemory, "":
		return session.NewMemoryStore(), nil
	case config.StorePostgres:
		s, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		results, err := s.Migrate(ctx)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info("database migrated", "applied", len(results))
		return s, nil
	case config.StoreGorm:
		return gormstore.Open(cfg.GormDialect, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}

// newReasoner returns a nil Reasoner when no model credentials are
// configured; the conversation engine then serves fallbacks only.
func newReasoner(ctx context.Context, cfg config.Config, logger *slog.Logger) (conversation.Reasoner, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("no reasoning credentials configured; interviews will use fallback questions and evaluations")
		return nil, nil
	}
	provider, err := gemini.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	engine := core.NewEngine(
		core.WithTierModel(plan.TierFast, cfg.FastModel),
		core.WithTierModel(plan.TierHigh, cfg.HighModel),
		core.WithTimeout(cfg.ReasoningTimeout),
		core.WithEngineLogger(logger),
	)
	engine.RegisterProvider(provider)
	return engine, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runGateway(ctx context.Context, stderr io.Writer, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openStore == nil || deps.newReasoner == nil {
		return errors.New("missing backend dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	table := plan.DefaultTable()
	if cfg.PlanTablePath != "" {
		table, err = plan.LoadTable(cfg.PlanTablePath)
		if err != nil {
			return fmt.Errorf("load plan table: %w", err)
		}
	}
	resolver := plan.NewResolver(table)

	reasoner, err := deps.newReasoner(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}

	store, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	var m *metrics.Metrics
	convOpts := []conversation.Option{
		conversation.WithConfig(conversation.Config{AckMaxWords: cfg.AckMaxWords}),
		conversation.WithLogger(logger),
	}
	if cfg.MetricsEnabled {
		m = metrics.New("")
		convOpts = append(convOpts, conversation.WithObserver(m.ObserveReasoning))
	}
	conv := conversation.New(reasoner, convOpts...)

	orchCfg := session.DefaultConfig()
	orchCfg.HighSeverityThreshold = cfg.HighSeverityThreshold
	orchCfg.EvaluationTimeout = cfg.EvaluationTimeout
	orch := session.New(store, conv,
		session.WithConfig(orchCfg),
		session.WithResolver(resolver),
		session.WithLogger(logger),
	)

	var srvDeps gatewayserver.Deps
	srvDeps.Orchestrator = orch
	srvDeps.Store = store
	srvDeps.Directory = store
	srvDeps.Resolver = resolver
	srvDeps.Metrics = m
	if cfg.StripeSecretKey != "" {
		srvDeps.Billing = billing.NewStripe(cfg.StripeSecretKey, cfg.StripePricePlans, logger)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers, workerCtx := errgroup.WithContext(workerCtx)

	if m != nil {
		m.RegisterBusDropped(orch.Bus().Dropped)
		events, unsubscribe := orch.SubscribeAll()
		defer unsubscribe()
		workers.Go(func() error { return m.Run(workerCtx, events) })
	}

	if cfg.AMQPURL != "" {
		pub, err := outbox.Dial(cfg.AMQPURL, cfg.AMQPQueue, outbox.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("outbox: %w", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("outbox close failed", "error", err)
			}
		}()
		events, unsubscribe := orch.SubscribeAll()
		defer unsubscribe()
		workers.Go(func() error { return pub.Run(workerCtx, events) })
	}

	gw := gatewayserver.New(cfg, logger, srvDeps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting interview gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"store", cfg.Store,
		"reasoning", reasoner != nil,
		"outbox", cfg.AMQPURL != "",
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		closeOrchestrator(orch, cfg, logger)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		closeOrchestrator(orch, cfg, logger)
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	warned := gw.WarnLiveSessionsDraining()
	logger.Info("draining live sessions", "warned", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		n := gw.CancelLiveSessions()
		logger.Warn("live sessions cancelled after grace period", "count", n)
	}

	closeOrchestrator(orch, cfg, logger)
	stopWorkers()
	if err := workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("background worker failed", "error", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("interview gateway stopped")
	return nil
}

func closeOrchestrator(orch *session.Orchestrator, cfg config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := orch.Close(ctx); err != nil {
		logger.Warn("orchestrator close timed out", "error", err)
	}
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.Load(dotenv.FilesFor(os.Getenv("VAI_INTERVIEW_ENV"))...); err != nil {
		fmt.Fprintf(stderr, "interview-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "interview-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
