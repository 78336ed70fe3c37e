package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/plan"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
	StoreGorm     StoreKind = "gorm"
)

type Config struct {
	Addr     string
	LogLevel string

	AuthMode AuthMode
	// APIKeys maps a recruiter API key to the company it may act for. An
	// empty company means the key may act for any company.
	APIKeys map[string]string

	TrustProxyHeaders  bool
	CORSAllowedOrigins map[string]struct{} // empty => disabled
	MaxBodyBytes       int64

	// HTTP rate limit per principal. Zero RPS disables it.
	LimitRPS   float64
	LimitBurst int

	// Storage.
	Store       StoreKind
	DatabaseURL string
	GormDialect string

	// Plan table override (YAML or JSON); empty uses the built-in table.
	PlanTablePath string

	// Reasoning capability.
	GeminiAPIKey     string
	FastModel        string
	HighModel        string
	ReasoningTimeout time.Duration

	// Interview policy.
	SilenceTimeout        time.Duration
	MinAutoSubmitLength   int
	InterruptionThreshold int
	AckMaxWords           int
	HighSeverityThreshold int
	EvaluationTimeout     time.Duration

	// Live WebSocket mode (/v1/live).
	ReconnectGrace          time.Duration
	WSMaxSessions           int
	WSSamplesPerSecond      float64
	WSSampleBurst           int
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration
	LiveHandshakeTimeout    time.Duration

	// Finalized-session outbox. Empty URL disables it.
	AMQPURL   string
	AMQPQueue string

	// Billing. Empty key disables subscription lookups.
	StripeSecretKey  string
	StripePricePlans map[string]plan.Plan

	MetricsEnabled bool

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VAI_INTERVIEW_ADDR", ":8080"),
		LogLevel:                strings.ToLower(envOr("VAI_INTERVIEW_LOG_LEVEL", "info")),
		APIKeys:                 make(map[string]string),
		TrustProxyHeaders:       envBoolOr("VAI_INTERVIEW_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:      make(map[string]struct{}),
		MaxBodyBytes:            envInt64Or("VAI_INTERVIEW_MAX_BODY_BYTES", 1<<20), // 1 MiB
		LimitRPS:                envFloat64Or("VAI_INTERVIEW_RATE_LIMIT_RPS", 5.0),
		LimitBurst:              envIntOr("VAI_INTERVIEW_RATE_LIMIT_BURST", 10),
		Store:                   StoreKind(strings.ToLower(envOr("VAI_INTERVIEW_STORE", string(StoreMemory)))),
		DatabaseURL:             strings.TrimSpace(os.Getenv("VAI_INTERVIEW_DATABASE_URL")),
		GormDialect:             strings.ToLower(envOr("VAI_INTERVIEW_GORM_DIALECT", "sqlite")),
		PlanTablePath:           strings.TrimSpace(os.Getenv("VAI_INTERVIEW_PLAN_TABLE")),
		GeminiAPIKey:            strings.TrimSpace(os.Getenv("VAI_INTERVIEW_GEMINI_API_KEY")),
		FastModel:               envOr("VAI_INTERVIEW_FAST_MODEL", "gemini/gemini-2.5-flash"),
		HighModel:               envOr("VAI_INTERVIEW_HIGH_MODEL", "gemini/gemini-2.5-pro"),
		ReasoningTimeout:        envDurationOr("VAI_INTERVIEW_REASONING_TIMEOUT", 30*time.Second),
		SilenceTimeout:          envDurationOr("VAI_INTERVIEW_SILENCE_TIMEOUT", 4*time.Second),
		MinAutoSubmitLength:     envIntOr("VAI_INTERVIEW_MIN_AUTO_SUBMIT_LENGTH", 3),
		InterruptionThreshold:   envIntOr("VAI_INTERVIEW_INTERRUPTION_THRESHOLD", 3),
		AckMaxWords:             envIntOr("VAI_INTERVIEW_ACK_MAX_WORDS", 30),
		HighSeverityThreshold:   envIntOr("VAI_INTERVIEW_HIGH_SEVERITY_THRESHOLD", 3),
		EvaluationTimeout:       envDurationOr("VAI_INTERVIEW_EVALUATION_TIMEOUT", 2*time.Minute),
		ReconnectGrace:          envDurationOr("VAI_INTERVIEW_RECONNECT_GRACE", 30*time.Second),
		WSMaxSessions:           envIntOr("VAI_INTERVIEW_WS_MAX_SESSIONS", 500),
		WSSamplesPerSecond:      envFloat64Or("VAI_INTERVIEW_WS_SAMPLES_PER_SECOND", 30),
		WSSampleBurst:           envIntOr("VAI_INTERVIEW_WS_SAMPLE_BURST", 60),
		LiveMaxJSONMessageBytes: envInt64Or("VAI_INTERVIEW_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:      envDurationOr("VAI_INTERVIEW_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("VAI_INTERVIEW_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:       envDurationOr("VAI_INTERVIEW_LIVE_WS_READ_TIMEOUT", 0),
		LiveHandshakeTimeout:    envDurationOr("VAI_INTERVIEW_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		AMQPURL:                 strings.TrimSpace(os.Getenv("VAI_INTERVIEW_AMQP_URL")),
		AMQPQueue:               envOr("VAI_INTERVIEW_AMQP_QUEUE", "interview.sessions.finalized"),
		StripeSecretKey:         strings.TrimSpace(os.Getenv("VAI_INTERVIEW_STRIPE_SECRET_KEY")),
		StripePricePlans:        make(map[string]plan.Plan),
		MetricsEnabled:          envBoolOr("VAI_INTERVIEW_METRICS_ENABLED", true),
		ReadHeaderTimeout:       envDurationOr("VAI_INTERVIEW_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("VAI_INTERVIEW_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:          envDurationOr("VAI_INTERVIEW_HANDLER_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("VAI_INTERVIEW_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, entry := range splitCSV(os.Getenv("VAI_INTERVIEW_API_KEYS")) {
		key, company, _ := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return Config{}, fmt.Errorf("VAI_INTERVIEW_API_KEYS contains an empty key")
		}
		cfg.APIKeys[key] = strings.TrimSpace(company)
	}

	defaultAuth := AuthModeDisabled
	if len(cfg.APIKeys) > 0 {
		defaultAuth = AuthModeRequired
	}
	cfg.AuthMode = AuthMode(strings.ToLower(envOr("VAI_INTERVIEW_AUTH_MODE", string(defaultAuth))))
	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VAI_INTERVIEW_AUTH_MODE must be one of required|optional|disabled")
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_API_KEYS must be set when VAI_INTERVIEW_AUTH_MODE=required")
	}

	for _, origin := range splitCSV(os.Getenv("VAI_INTERVIEW_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	for _, entry := range splitCSV(os.Getenv("VAI_INTERVIEW_STRIPE_PRICE_PLANS")) {
		price, rawPlan, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(price) == "" {
			return Config{}, fmt.Errorf("VAI_INTERVIEW_STRIPE_PRICE_PLANS entries must be price_id=PLAN")
		}
		p, err := plan.Parse(rawPlan)
		if err != nil {
			return Config{}, fmt.Errorf("VAI_INTERVIEW_STRIPE_PRICE_PLANS: %w", err)
		}
		cfg.StripePricePlans[strings.TrimSpace(price)] = p
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LOG_LEVEL must be one of debug|info|warn|error")
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("VAI_INTERVIEW_DATABASE_URL must be set when VAI_INTERVIEW_STORE=postgres")
		}
	case StoreGorm:
		switch cfg.GormDialect {
		case "sqlite", "postgres", "mysql":
		default:
			return Config{}, fmt.Errorf("VAI_INTERVIEW_GORM_DIALECT must be one of sqlite|postgres|mysql")
		}
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("VAI_INTERVIEW_DATABASE_URL must be set when VAI_INTERVIEW_STORE=gorm")
		}
	default:
		return Config{}, fmt.Errorf("VAI_INTERVIEW_STORE must be one of memory|postgres|gorm")
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.ReasoningTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_REASONING_TIMEOUT must be > 0")
	}
	if cfg.SilenceTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_SILENCE_TIMEOUT must be > 0")
	}
	if cfg.MinAutoSubmitLength < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_MIN_AUTO_SUBMIT_LENGTH must be >= 0")
	}
	if cfg.InterruptionThreshold <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_INTERRUPTION_THRESHOLD must be > 0")
	}
	if cfg.AckMaxWords <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_ACK_MAX_WORDS must be > 0")
	}
	if cfg.HighSeverityThreshold < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_HIGH_SEVERITY_THRESHOLD must be >= 0")
	}
	if cfg.EvaluationTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_EVALUATION_TIMEOUT must be > 0")
	}
	if cfg.ReconnectGrace <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_RECONNECT_GRACE must be > 0")
	}
	if cfg.WSMaxSessions <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_WS_MAX_SESSIONS must be > 0")
	}
	if cfg.WSSamplesPerSecond <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_WS_SAMPLES_PER_SECOND must be > 0")
	}
	if cfg.WSSampleBurst <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_WS_SAMPLE_BURST must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.AMQPURL != "" && strings.TrimSpace(cfg.AMQPQueue) == "" {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_AMQP_QUEUE must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_INTERVIEW_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// OriginAllowed reports whether a browser origin may call the REST API or
// open a live socket. Entries are exact origins or a scheme plus a leading
// "*." wildcard, as in https://*.example.com, which matches any subdomain but
// not the bare domain.
func (c Config) OriginAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" || len(c.CORSAllowedOrigins) == 0 {
		return false
	}
	if _, ok := c.CORSAllowedOrigins[origin]; ok {
		return true
	}
	scheme, host, ok := strings.Cut(origin, "://")
	if !ok {
		return false
	}
	for pattern := range c.CORSAllowedOrigins {
		ps, suffix, ok := strings.Cut(pattern, "://*.")
		if !ok || ps != scheme {
			continue
		}
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
