package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// allSessions is the subscription key that receives every session's events.
const allSessions = ""

type subscriber struct {
	id        uint64
	sessionID string
	ch        chan Envelope
}

// Bus fans session events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*subscriber
	closed  bool
	buffer  int
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewBus creates a bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of events for sessionID ("" for all sessions)
// and a cancel func. The channel is closed by cancel, by CloseSession for a
// per-session subscription, or by Close.
func (b *Bus) Subscribe(sessionID string) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Envelope, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	sub := &subscriber{id: b.nextID, sessionID: sessionID, ch: ch}
	b.subs[sub.id] = sub

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers env to every matching subscriber without blocking.
func (b *Bus) Publish(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.sessionID != allSessions && sub.sessionID != env.SessionID {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			n := b.dropped.Add(1)
			b.logger.Warn("session event dropped; subscriber is slow",
				"session_id", env.SessionID,
				"event", env.Event.EventType(),
				"seq", env.Seq,
				"dropped_total", n,
			)
		}
	}
}

// CloseSession closes every subscription scoped to sessionID.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if sub.sessionID == sessionID && sessionID != allSessions {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
}

// Close closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Dropped is the number of events dropped across all subscribers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
