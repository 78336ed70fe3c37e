package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type manualTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := !m.stopped
	m.stopped = true
	return was
}

func (m *manualTimer) fire() {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if !stopped {
		m.fn()
	}
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
	delays []time.Duration
}

func (c *manualClock) afterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm := &manualTimer{fn: f}
	c.timers = append(c.timers, tm)
	c.delays = append(c.delays, d)
	return tm
}

func (c *manualClock) last() *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker(time.Second, nil)
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1, _ := tr.Register("s1", Handle{})
	u2, _ := tr.Register("s2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
}

func TestTracker_SecondConnectionCancelsFirst(t *testing.T) {
	tr := NewTracker(time.Second, nil)
	var cancelled atomic.Int64
	tr.Register("s1", Handle{Cancel: func() { cancelled.Add(1) }})
	unregister, _ := tr.Register("s1", Handle{})
	if cancelled.Load() != 1 {
		t.Fatalf("old connection cancel calls=%d, want 1", cancelled.Load())
	}
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	unregister()
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_GraceExpiryCallsOnExpire(t *testing.T) {
	clock := &manualClock{}
	var expired []string
	tr := NewTracker(30*time.Second, func(id string) { expired = append(expired, id) }, WithAfterFunc(clock.afterFunc))

	unregister, _ := tr.Register("s1", Handle{})
	tr.Disconnected("s1")
	if clock.last() != nil {
		t.Fatalf("grace started while connection still registered")
	}
	unregister()
	tr.Disconnected("s1")
	tr.Disconnected("s1")
	if len(clock.timers) != 1 || clock.delays[0] != 30*time.Second {
		t.Fatalf("timers=%d delays=%v, want one 30s timer", len(clock.timers), clock.delays)
	}
	if !tr.Pending("s1") {
		t.Fatalf("expected s1 pending")
	}

	clock.last().fire()
	if len(expired) != 1 || expired[0] != "s1" {
		t.Fatalf("expired=%v, want [s1]", expired)
	}
	if tr.Pending("s1") {
		t.Fatalf("s1 still pending after expiry")
	}
}

func TestTracker_ReconnectStopsGrace(t *testing.T) {
	clock := &manualClock{}
	var expired atomic.Int64
	tr := NewTracker(30*time.Second, func(string) { expired.Add(1) }, WithAfterFunc(clock.afterFunc))

	tr.Disconnected("s1")
	timer := clock.last()
	_, resumed := tr.Register("s1", Handle{})
	if !resumed {
		t.Fatalf("resumed=false, want true after pending grace")
	}
	timer.fire()
	if expired.Load() != 0 {
		t.Fatalf("onExpire ran after reconnect")
	}

	// A stale timer whose Stop lost the race must not fire either.
	tr2 := NewTracker(time.Second, func(string) { expired.Add(1) }, WithAfterFunc(clock.afterFunc))
	tr2.Disconnected("s2")
	stale := clock.last()
	tr2.Register("s2", Handle{})
	stale.mu.Lock()
	stale.stopped = false
	stale.mu.Unlock()
	stale.fire()
	if expired.Load() != 0 {
		t.Fatalf("stale timer expired a reconnected session")
	}
}

func TestTracker_CancelAllStopsGrace(t *testing.T) {
	clock := &manualClock{}
	var expired atomic.Int64
	tr := NewTracker(time.Second, func(string) { expired.Add(1) }, WithAfterFunc(clock.afterFunc))
	var c1 atomic.Int64
	tr.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Disconnected("s2")

	if n := tr.CancelAll(); n != 1 {
		t.Fatalf("canceled=%d, want 1", n)
	}
	if c1.Load() != 1 {
		t.Fatalf("cancel calls=%d, want 1", c1.Load())
	}
	if tr.Pending("s2") {
		t.Fatalf("grace still pending after CancelAll")
	}
	clock.last().fire()
	if expired.Load() != 0 {
		t.Fatalf("onExpire ran after CancelAll")
	}
}

func TestTracker_WarnAll_BestEffort(t *testing.T) {
	tr := NewTracker(time.Second, nil)
	var w1, w2 atomic.Int64
	tr.Register("s1", Handle{Warn: func(code, message string) error {
		w1.Add(1)
		return nil
	}})
	tr.Register("s2", Handle{Warn: func(code, message string) error {
		w2.Add(1)
		return errors.New("nope")
	}})

	if sent := tr.WarnAll("draining", "test"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}
