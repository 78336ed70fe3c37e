package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/vango-go/vai-interview/pkg/core/plan"
)

// Request is a single call to the reasoning capability.
type Request struct {
	// Tier selects the model when Model is empty.
	Tier plan.Tier `json:"tier"`
	// Model is "provider/model-name". Filled from Tier by the Engine.
	Model  string    `json:"model,omitempty"`
	System string    `json:"system,omitempty"`
	Prompt string    `json:"prompt"`
	Plan   plan.Plan `json:"plan"`
	// Schema, when set, asks for JSON output conforming to it.
	Schema      *Schema  `json:"schema,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Schema is the subset of JSON Schema the providers understand.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// PropertyNames returns the schema's property names in a stable order.
func (s *Schema) PropertyNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Response is the capability's answer: free text, or JSON text when the
// request carried a schema.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// DecodeJSON strips code fences and surrounding prose before decoding the
// response into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil {
		return fmt.Errorf("nil response")
	}
	cleaned := CleanJSON(r.Text)
	if cleaned == "" {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("decode response json: %w", err)
	}
	return nil
}

// CleanJSON trims markdown fences and slices to the outermost JSON object.
func CleanJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end != -1 && end > start {
		content = content[start : end+1]
	}
	return strings.TrimSpace(content)
}

// Provider is the interface that all reasoning providers must implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "gemini").
	Name() string

	// Reason sends one request and returns the model's output.
	Reason(ctx context.Context, req *Request) (*Response, error)
}

// ProviderRegistry manages available providers.
type ProviderRegistry interface {
	// Register adds a provider to the registry.
	Register(provider Provider)

	// Get returns a provider by name.
	Get(name string) (Provider, bool)

	// List returns all registered provider names.
	List() []string
}

// defaultRegistry is the default provider registry.
type defaultRegistry struct {
	providers map[string]Provider
}

// NewProviderRegistry creates a new provider registry.
func NewProviderRegistry() ProviderRegistry {
	return &defaultRegistry{
		providers: make(map[string]Provider),
	}
}

func (r *defaultRegistry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

func (r *defaultRegistry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *defaultRegistry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
