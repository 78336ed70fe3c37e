// Package auth carries the recruiter identity resolved from an API key.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Principal is an authenticated recruiter API key. CompanyID is empty for
// keys that may act for any company.
type Principal struct {
	APIKey    string
	CompanyID string
}

// CanActFor reports whether the principal may manage the given company's
// jobs and candidates.
func (p *Principal) CanActFor(companyID string) bool {
	if p == nil || p.CompanyID == "" {
		return true
	}
	return p.CompanyID == companyID
}

// Authenticate looks token up in keys (API key to company). Every configured
// key is compared in constant time so lookups do not leak key prefixes.
func Authenticate(keys map[string]string, token string) (*Principal, bool) {
	if token == "" {
		return nil, false
	}
	var (
		match   *Principal
		tokenBs = []byte(token)
	)
	for key, company := range keys {
		if subtle.ConstantTimeCompare([]byte(key), tokenBs) == 1 {
			match = &Principal{APIKey: key, CompanyID: company}
		}
	}
	return match, match != nil
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts the token of an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func ParseBearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
