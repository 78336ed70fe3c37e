// Package principal identifies the caller a request budget is charged to:
// the recruiting company when the API key is scoped to one, otherwise the
// key itself, otherwise the client address.
package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindCompany Kind = "company"
	KindAPIKey  Kind = "api_key"
	KindIP      Kind = "ip"
	KindAnon    Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// CompanyID is set for API keys scoped to one company.
	CompanyID string
	// Key is a hashed identifier suitable for in-memory maps and logs.
	Key string
}

// Resolve charges every key of a company to one shared budget, so a company
// cannot multiply its allowance by minting keys. Unscoped keys get their own
// budget; anonymous callers are bucketed by client IP, honoring proxy headers
// only when cfg trusts them.
func Resolve(r *http.Request, cfg config.Config) Resolved {
	if r == nil {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}

	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		if p.CompanyID != "" {
			return Resolved{
				Kind:      KindCompany,
				CompanyID: p.CompanyID,
				Key:       ratelimit.PrincipalKeyFromCompany(p.CompanyID),
			}
		}
		return Resolved{Kind: KindAPIKey, Key: ratelimit.PrincipalKeyFromAPIKey(p.APIKey)}
	}

	ip := ClientIP(r, cfg.TrustProxyHeaders)
	if ip == "" {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}
	return Resolved{Kind: KindIP, Key: ratelimit.PrincipalKeyFromIP(ip)}
}

// ClientIP returns the caller's address. Candidates joining the live channel
// carry no API key, so this is also what their connections are logged under.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if r == nil {
		return ""
	}

	if trustProxyHeaders {
		if ip := parseIP(strings.TrimSpace(r.Header.Get("CF-Connecting-IP"))); ip != "" {
			return ip
		}
		if ip := parseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != "" {
			return ip
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// Left-most entry is the original client.
			first := strings.TrimSpace(strings.Split(raw, ",")[0])
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}
	}

	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return parseIP(host)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
