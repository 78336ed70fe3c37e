package sessions

import (
	"context"
	"sync"
	"time"
)

// Handle lets the tracker act on a live connection.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

// Timer is the part of *time.Timer the tracker needs.
type Timer interface {
	Stop() bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithAfterFunc replaces time.AfterFunc for reconnect grace timers.
func WithAfterFunc(fn func(d time.Duration, f func()) Timer) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.afterFunc = fn
		}
	}
}

// Tracker is the registry of live interview connections, one per session.
// When a connection drops while its session is still running the caller
// starts a reconnect grace timer; if nobody reconnects in time onExpire runs.
type Tracker struct {
	grace     time.Duration
	onExpire  func(sessionID string)
	afterFunc func(d time.Duration, f func()) Timer

	mu       sync.Mutex
	sessions map[string]*trackedSession
	pending  map[string]*graceTimer
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

type graceTimer struct {
	timer Timer
}

// NewTracker creates a tracker. onExpire may be nil, which disables grace
// handling.
func NewTracker(grace time.Duration, onExpire func(sessionID string), opts ...Option) *Tracker {
	t := &Tracker{
		grace:    grace,
		onExpire: onExpire,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		sessions: make(map[string]*trackedSession),
		pending:  make(map[string]*graceTimer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register records the live connection for sessionID. A connection already
// registered for the same session is cancelled. resumed reports whether a
// reconnect grace timer was pending and has been stopped.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func(), resumed bool) {
	if t == nil {
		return func() {}, false
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	if g, ok := t.pending[sessionID]; ok {
		g.timer.Stop()
		delete(t.pending, sessionID)
		resumed = true
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }, resumed
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Disconnected starts the reconnect grace timer for sessionID. It is a no-op
// while another connection for the session is registered.
func (t *Tracker) Disconnected(sessionID string) {
	if t == nil || t.onExpire == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, live := t.sessions[sessionID]; live {
		return
	}
	if _, ok := t.pending[sessionID]; ok {
		return
	}
	g := &graceTimer{}
	g.timer = t.afterFunc(t.grace, func() { t.expire(sessionID, g) })
	t.pending[sessionID] = g
}

func (t *Tracker) expire(sessionID string, g *graceTimer) {
	t.mu.Lock()
	if t.pending[sessionID] != g {
		t.mu.Unlock()
		return
	}
	delete(t.pending, sessionID)
	t.mu.Unlock()

	t.onExpire(sessionID)
}

// Pending reports whether sessionID is waiting for a reconnect.
func (t *Tracker) Pending(sessionID string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[sessionID]
	return ok
}

// Count returns the number of live connections.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// handles copies the registered handles so callbacks run without the lock.
func (t *Tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.sessions))
	for _, entry := range t.sessions {
		if entry != nil {
			out = append(out, entry.handle)
		}
	}
	return out
}

// WarnAll sends a warning frame to every live candidate, for example before a
// drain. It returns how many connections were warned.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll closes every live connection and stops pending grace timers.
// Sessions whose timers are stopped here are left to Orchestrator.Close.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	for id, g := range t.pending {
		g.timer.Stop()
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, h := range t.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered connection has unregistered or ctx is
// done. It reports whether the tracker drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
