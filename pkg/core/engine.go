package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/vai-interview/pkg/core/plan"
)

const tracerName = "github.com/vango-go/vai-interview/pkg/core"

// Engine routes reasoning requests to a registered provider, choosing the
// model from the request's tier when no model is named.
type Engine struct {
	registry ProviderRegistry
	tiers    map[plan.Tier]string
	timeout  time.Duration
	tracer   trace.Tracer
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTierModel maps a tier to a "provider/model-name" string.
func WithTierModel(tier plan.Tier, model string) EngineOption {
	return func(e *Engine) {
		if model = strings.TrimSpace(model); model != "" {
			e.tiers[tier] = model
		}
	}
}

// WithTimeout bounds every call. Zero disables the bound.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithTracer sets the tracer used for per-call spans.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an Engine with no providers registered.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		registry: NewProviderRegistry(),
		tiers:    make(map[plan.Tier]string),
		timeout:  30 * time.Second,
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterProvider adds a provider to the engine.
func (e *Engine) RegisterProvider(provider Provider) {
	e.registry.Register(provider)
}

// GetProvider returns a provider by name.
func (e *Engine) GetProvider(name string) (Provider, bool) {
	return e.registry.Get(name)
}

// ProviderNames returns the list of registered provider names.
func (e *Engine) ProviderNames() []string {
	return e.registry.List()
}

// ModelForTier returns the model configured for tier.
func (e *Engine) ModelForTier(tier plan.Tier) string {
	return e.tiers[tier]
}

// Reason routes req to its provider.
func (e *Engine) Reason(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, NewInvalidRequestError("request is required")
	}
	model := req.Model
	if model == "" {
		model = e.tiers[req.Tier]
	}
	if model == "" {
		return nil, NewInvalidRequestErrorWithParam(fmt.Sprintf("no model configured for tier %q", req.Tier), "tier")
	}

	providerName, modelName, err := ParseModelString(model)
	if err != nil {
		return nil, err
	}
	provider, ok := e.registry.Get(providerName)
	if !ok {
		return nil, NewCapabilityError(providerName, fmt.Errorf("provider not registered"))
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "reasoning."+providerName, trace.WithAttributes(
		attribute.String("reasoning.model", modelName),
		attribute.String("reasoning.tier", string(req.Tier)),
		attribute.String("reasoning.plan", string(req.Plan)),
		attribute.Bool("reasoning.structured", req.Schema != nil),
	))
	defer span.End()

	// Create a copy of the request with just the model name
	reqCopy := *req
	reqCopy.Model = modelName

	start := time.Now()
	resp, err := provider.Reason(ctx, &reqCopy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("reasoning call failed",
			"provider", providerName,
			"model", modelName,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, NewCapabilityError(providerName, err)
	}
	if resp == nil {
		span.SetStatus(codes.Error, "empty response")
		e.logger.Warn("reasoning call returned no response", "provider", providerName, "model", modelName)
		return nil, NewCapabilityError(providerName, fmt.Errorf("provider returned no response"))
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

// ParseModelString parses a model string in the format "provider/model-name".
func ParseModelString(model string) (provider string, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewInvalidRequestError(
			fmt.Sprintf("invalid model format: %q, expected 'provider/model-name'", model),
		)
	}
	return parts[0], parts[1], nil
}
