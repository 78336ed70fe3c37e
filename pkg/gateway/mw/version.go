package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-interview/pkg/core"
)

const (
	apiVersionHeader    = "X-Interview-Version"
	supportedAPIVersion = "1"

	apiPrefix  = "/v1/"
	livePrefix = "/v1/live/"
)

// APIVersion stamps X-Interview-Version on every REST response and rejects
// requests that pin any other version. The live socket negotiates its own
// protocol version in the handshake and is left alone.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isRESTRequest(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(apiVersionHeader, supportedAPIVersion)

		if v, ok := unsupportedVersion(r.Header); ok {
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   "unsupported API version " + v + "; this server speaks " + supportedAPIVersion,
				Param:     apiVersionHeader,
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// unsupportedVersion returns the first requested version this server does not
// serve. Repeated headers and comma lists are both accepted.
func unsupportedVersion(h http.Header) (string, bool) {
	for _, v := range headerTokens(h, apiVersionHeader) {
		if v != supportedAPIVersion {
			return v, true
		}
	}
	return "", false
}

func isRESTRequest(r *http.Request) bool {
	if r.Method == http.MethodOptions || isWebSocketUpgrade(r) {
		return false
	}
	return r.URL.Path == strings.TrimSuffix(apiPrefix, "/") || strings.HasPrefix(r.URL.Path, apiPrefix)
}

// isLivePath matches /v1/live/{session_id}.
func isLivePath(path string) bool {
	return len(path) > len(livePrefix) && strings.HasPrefix(path, livePrefix)
}

func isWebSocketUpgrade(r *http.Request) bool {
	upgrade := false
	for _, tok := range headerTokens(r.Header, "Connection") {
		if strings.EqualFold(tok, "upgrade") {
			upgrade = true
			break
		}
	}
	return upgrade && strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

// headerTokens splits every value of a list-valued header on commas and
// drops blanks.
func headerTokens(h http.Header, name string) []string {
	var out []string
	for _, value := range h.Values(name) {
		for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' }) {
			if tok := strings.TrimSpace(part); tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}
