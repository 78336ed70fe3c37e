package gemini

import "net/http"

type options struct {
	httpClient *http.Client
	maxTokens  int
}

// Option configures the Provider.
type Option func(*options)

// WithHTTPClient sets the HTTP client for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithMaxTokens sets the default max output tokens.
// Default: 4096
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}
