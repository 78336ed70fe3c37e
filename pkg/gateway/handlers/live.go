package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/live"
	orch "github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-interview/pkg/gateway/live/session"
	"github.com/vango-go/vai-interview/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
)

// LiveObserver is notified as live connections open and close.
type LiveObserver interface {
	LiveOpened()
	LiveClosed(outcome string)
}

// LiveHandler handles GET /v1/live/{id}, the candidate's WebSocket channel.
// The unguessable session id is the credential.
type LiveHandler struct {
	Config       config.Config
	Orchestrator session.Orchestrator
	Logger       *slog.Logger
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	Observer     LiveObserver
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrAPI, Message: "gateway is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		NotFoundHandler{}.ServeHTTP(w, r)
		return
	}
	if _, err := h.Orchestrator.Snapshot(r.Context(), sessionID); err != nil {
		writeErr(w, reqID, err)
		return
	}

	if h.Limiter != nil {
		dec := h.Limiter.AcquireLive()
		if !dec.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrRateLimit, Message: "too many live interviews", Code: "live_capacity"}, http.StatusTooManyRequests)
			return
		}
		defer dec.Permit.Release()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", nil)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}
	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			var details map[string]any
			if de.Param != "" {
				details = map[string]any{"param": de.Param}
			}
			h.writeWSError(conn, de.Code, de.Message, details)
			return
		}
		h.writeWSError(conn, "bad_request", "invalid hello frame", nil)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	s, err := session.New(session.Dependencies{
		Conn:         conn,
		Logger:       h.logger(),
		Orchestrator: h.Orchestrator,
		Hello:        hello,
		SessionID:    sessionID,
		RequestID:    reqID,
		Config: session.Config{
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
			SamplesPerSecond:    h.Config.WSSamplesPerSecond,
			SampleBurst:         h.Config.WSSampleBurst,
			PingInterval:        h.Config.LiveWSPingInterval,
			WriteTimeout:        h.Config.LiveWSWriteTimeout,
			ReadTimeout:         h.Config.LiveWSReadTimeout,
			ReconnectGrace:      h.Config.ReconnectGrace,
			OutboundQueueSize:   128,
			Turn: live.TurnConfig{
				SilenceTimeout:        h.Config.SilenceTimeout,
				MinAutoSubmitLength:   h.Config.MinAutoSubmitLength,
				InterruptionThreshold: h.Config.InterruptionThreshold,
			},
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session", nil)
		return
	}

	unregister, resumed := h.LiveSessions.Register(sessionID, sessions.Handle{
		Cancel: s.Cancel,
		Warn:   s.SendWarning,
	})
	if resumed {
		h.logger().Info("live session reconnected", "session_id", sessionID, "request_id", reqID)
	}
	if h.Observer != nil {
		h.Observer.LiveOpened()
	}

	outcome, runErr := s.Run()
	unregister()
	if h.Observer != nil {
		h.Observer.LiveClosed(outcome.String())
	}
	if runErr != nil {
		h.logger().Warn("live session ended with error", "session_id", sessionID, "request_id", reqID, "outcome", outcome.String(), "error", runErr)
	}
	if outcome == session.OutcomeDisconnected {
		h.handleDisconnect(sessionID)
	}
}

// handleDisconnect pauses a running interview and starts the reconnect grace
// timer. Sessions that never started or already ended are left alone.
func (h LiveHandler) handleDisconnect(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.Orchestrator.Pause(ctx, sessionID); err != nil && !errors.Is(err, orch.ErrInvalidTransition) {
		if !errors.Is(err, orch.ErrEnded) {
			h.logger().Warn("failed to pause disconnected session", "session_id", sessionID, "error", err)
		}
		return
	}
	sess, err := h.Orchestrator.Snapshot(ctx, sessionID)
	if err != nil || sess.Status != types.SessionPaused {
		return
	}
	h.logger().Info("live session disconnected; waiting for reconnect", "session_id", sessionID, "grace", h.Config.ReconnectGrace.String())
	h.LiveSessions.Disconnected(sessionID)
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	return h.Config.OriginAllowed(origin)
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, details map[string]any) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Scope: "session", Code: code, Message: message, Close: true, Details: details})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func (h LiveHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
