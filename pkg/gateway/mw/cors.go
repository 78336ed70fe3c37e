package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-interview/pkg/gateway/config"
)

const corsMaxAge = "600"

// corsHeaders are fixed for the process: the REST surface is small and every
// route accepts the same request headers.
var corsHeaders = struct {
	methods, allow, expose string
}{
	methods: "GET, POST, OPTIONS",
	allow:   strings.Join([]string{"Authorization", "Content-Type", "X-Request-ID", apiVersionHeader}, ", "),
	expose:  strings.Join([]string{"X-Request-ID", apiVersionHeader, "Retry-After"}, ", "),
}

// CORS lets the recruiter dashboard and candidate page call the API from the
// origins in cfg (exact or https://*.domain). Unlisted origins get no CORS
// headers, and their preflights are refused.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		allowed := cfg.OriginAllowed(origin)

		if isPreflight(r) {
			if !allowed {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			setOrigin(w.Header(), origin)
			w.Header().Set("Access-Control-Allow-Methods", corsHeaders.methods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders.allow)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if allowed {
			setOrigin(w.Header(), origin)
			w.Header().Set("Access-Control-Expose-Headers", corsHeaders.expose)
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}

func setOrigin(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
}
