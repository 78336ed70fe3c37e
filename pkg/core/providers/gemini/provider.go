// Package gemini implements the reasoning provider for Google Gemini on top
// of the google.golang.org/genai client.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-interview/pkg/core"
)

const (
	// DefaultMaxTokens is the default max output tokens if not specified.
	DefaultMaxTokens = 4096
)

// contentGenerator is the slice of *genai.Models the provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements core.Provider for Gemini.
type Provider struct {
	models    contentGenerator
	maxTokens int32
}

// New creates a Gemini provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	cfg := &options{maxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(cfg)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.httpClient != nil {
		clientCfg.HTTPClient = cfg.httpClient
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Provider{models: client.Models, maxTokens: int32(cfg.maxTokens)}, nil
}

// newWithGenerator is used by tests to bypass the network client.
func newWithGenerator(g contentGenerator) *Provider {
	return &Provider{models: g, maxTokens: DefaultMaxTokens}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Reason sends one GenerateContent call.
func (p *Provider) Reason(ctx context.Context, req *core.Request) (*core.Response, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: p.maxTokens,
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toGenaiSchema(req.Schema)
	}

	resp, err := p.models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), config)
	if err != nil {
		return nil, mapError(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, &Error{Type: ErrEmptyResponse, Message: "no text in response"}
	}
	return &core.Response{Text: text, Model: "gemini/" + req.Model}, nil
}

func toGenaiSchema(s *core.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Required:    append([]string(nil), s.Required...),
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for _, name := range s.PropertyNames() {
			out.Properties[name] = toGenaiSchema(s.Properties[name])
		}
		out.PropertyOrdering = s.PropertyNames()
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
