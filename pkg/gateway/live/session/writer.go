package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second

	shutdownFlushWindow = 100 * time.Millisecond
	shutdownFlushFrames = 8
)

type socketWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// frameWriter owns every write to one candidate socket. Control frames
// (server errors, draining notices, speak cancels) are sent before any
// queued session event, and speak frames for superseded speech are skipped.
type frameWriter struct {
	ws      socketWriter
	ctx     context.Context
	ping    time.Duration
	timeout time.Duration
	control <-chan outboundFrame
	events  <-chan outboundFrame
	stale   func(speechID string) bool
}

func newFrameWriter(ctx context.Context, ws socketWriter, cfg Config, control, events <-chan outboundFrame, stale func(string) bool) *frameWriter {
	if ctx == nil {
		ctx = context.Background()
	}
	w := &frameWriter{
		ws:      ws,
		ctx:     ctx,
		ping:    cfg.PingInterval,
		timeout: cfg.WriteTimeout,
		control: control,
		events:  events,
		stale:   stale,
	}
	if w.ping <= 0 {
		w.ping = defaultPingInterval
	}
	if w.timeout <= 0 {
		w.timeout = defaultWriteTimeout
	}
	return w
}

// Run writes until the context ends or both queues are closed and empty.
func (w *frameWriter) Run() error {
	ticker := time.NewTicker(w.ping)
	defer ticker.Stop()

	for {
		if w.ctx.Err() != nil {
			return w.shutdown()
		}
		if err := w.sendControl(); err != nil {
			return err
		}
		if w.control == nil && w.events == nil {
			return nil
		}

		select {
		case <-w.ctx.Done():
			return w.shutdown()
		case <-ticker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.timeout)); err != nil {
				return err
			}
		case frame, ok := <-w.control:
			if !ok {
				w.control = nil
				continue
			}
			if err := w.send(frame); err != nil {
				return err
			}
		case frame, ok := <-w.events:
			if !ok {
				w.events = nil
				continue
			}
			// A control frame queued while this event waited still goes first.
			if err := w.sendControl(); err != nil {
				return err
			}
			if err := w.send(frame); err != nil {
				return err
			}
		}
	}
}

// sendControl writes every control frame that is queued right now.
func (w *frameWriter) sendControl() error {
	for w.control != nil {
		select {
		case frame, ok := <-w.control:
			if !ok {
				w.control = nil
				return nil
			}
			if err := w.send(frame); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

// shutdown gives pending control frames a short window, then closes the
// socket with a normal closure.
func (w *frameWriter) shutdown() error {
	window := shutdownFlushWindow
	if w.timeout < window {
		window = w.timeout
	}
	deadline := time.Now().Add(window)
flush:
	for i := 0; i < shutdownFlushFrames && w.control != nil && time.Now().Before(deadline); i++ {
		select {
		case frame, ok := <-w.control:
			if !ok {
				break flush
			}
			_ = w.send(frame)
		default:
			break flush
		}
	}

	closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.ws.WriteControl(websocket.CloseMessage, closing, time.Now().Add(w.timeout))
	_ = w.ws.Close()
	return nil
}

func (w *frameWriter) send(frame outboundFrame) error {
	if len(frame.payload) == 0 {
		return nil
	}
	if frame.speechID != "" && w.stale != nil && w.stale(frame.speechID) {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame.payload)
}
