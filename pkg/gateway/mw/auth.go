package mw

import (
	"net/http"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
)

// Auth authenticates recruiter API keys and attaches the principal. Probes
// and the candidate's live socket are exempt: the socket is addressed by its
// unguessable session id.
func Auth(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.AuthMode == config.AuthModeDisabled || !needsKey(r) {
			next.ServeHTTP(w, r)
			return
		}
		reqID, _ := RequestIDFrom(r.Context())

		token, ok := auth.ParseBearer(r)
		switch {
		case !ok && cfg.AuthMode == config.AuthModeOptional:
			next.ServeHTTP(w, r)
			return
		case !ok:
			writeJSONError(w, http.StatusUnauthorized, &core.Error{
				Type:      core.ErrAuthentication,
				Message:   "missing bearer token",
				Param:     "Authorization",
				RequestID: reqID,
			})
			return
		}

		p, ok := auth.Authenticate(cfg.APIKeys, token)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, &core.Error{
				Type:      core.ErrAuthentication,
				Message:   "invalid api key",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func needsKey(r *http.Request) bool {
	if isProbePath(r.URL.Path) {
		return false
	}
	return !(isLivePath(r.URL.Path) && isWebSocketUpgrade(r))
}

// Probes and the metrics scrape stay reachable without a key.
func isProbePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}
