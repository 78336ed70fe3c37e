package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-interview/pkg/gateway/server"
)

func smokeConfig() config.Config {
	return config.Config{
		Addr:                    "127.0.0.1:0",
		LogLevel:                "error",
		AuthMode:                config.AuthModeDisabled,
		APIKeys:                 map[string]string{},
		CORSAllowedOrigins:      map[string]struct{}{},
		MaxBodyBytes:            1 << 20,
		Store:                   config.StoreMemory,
		ReasoningTimeout:        time.Second,
		SilenceTimeout:          4 * time.Second,
		MinAutoSubmitLength:     3,
		InterruptionThreshold:   3,
		AckMaxWords:             30,
		HighSeverityThreshold:   3,
		EvaluationTimeout:       time.Second,
		ReconnectGrace:          time.Second,
		WSMaxSessions:           4,
		WSSamplesPerSecond:      30,
		WSSampleBurst:           60,
		LiveMaxJSONMessageBytes: 64 * 1024,
		LiveWSPingInterval:      20 * time.Second,
		LiveWSWriteTimeout:      time.Second,
		LiveHandshakeTimeout:    time.Second,
		MetricsEnabled:          true,
		ReadHeaderTimeout:       time.Second,
		ReadTimeout:             time.Second,
		HandlerTimeout:          time.Second,
		ShutdownGracePeriod:     2 * time.Second,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (backend, error) {
			t.Fatalf("openStore should not be called when config load fails")
			return nil, nil
		},
		newReasoner: func(context.Context, config.Config, *slog.Logger) (conversation.Reasoner, error) {
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunMain_ReturnsNonZeroWhenStoreFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) { return smokeConfig(), nil },
		openStore: func(context.Context, config.Config, *slog.Logger) (backend, error) {
			return nil, errors.New("database unreachable")
		},
		newReasoner: func(context.Context, config.Config, *slog.Logger) (conversation.Reasoner, error) {
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if !bytes.Contains(stderr.Bytes(), []byte("database unreachable")) {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestRunMain_StopsOnSignal(t *testing.T) {
	t.Parallel()

	exitCode := runMain(context.Background(), io.Discard, gatewayDeps{
		loadConfig: func() (config.Config, error) { return smokeConfig(), nil },
		openStore: func(context.Context, config.Config, *slog.Logger) (backend, error) {
			return session.NewMemoryStore(), nil
		},
		newReasoner: func(context.Context, config.Config, *slog.Logger) (conversation.Reasoner, error) {
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			c <- syscall.SIGTERM
		},
		signalStop: func(c chan<- os.Signal) {},
	})

	if exitCode != 0 {
		t.Fatalf("exitCode=%d, want 0", exitCode)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := openStore(context.Background(), config.Config{Store: config.StoreMemory}, logger)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := s.(*session.MemoryStore); !ok {
		t.Fatalf("store=%T, want *session.MemoryStore", s)
	}

	if _, err := openStore(context.Background(), config.Config{Store: "cassandra"}, logger); err == nil {
		t.Fatalf("expected error for unsupported store")
	}
}

func TestNewReasoner_WithoutKeyUsesFallbacks(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := newReasoner(context.Background(), config.Config{}, logger)
	if err != nil {
		t.Fatalf("newReasoner: %v", err)
	}
	if r != nil {
		t.Fatalf("reasoner=%T, want nil", r)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewMemoryStore()
	orch := session.New(store, conversation.New(nil), session.WithLogger(logger))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})
	gw := gatewayserver.New(smokeConfig(), logger, gatewayserver.Deps{
		Orchestrator: orch,
		Store:        store,
		Directory:    store,
	})

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}
