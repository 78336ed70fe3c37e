package lifecycle

import (
	"sync"
	"time"
)

// Lifecycle is the gateway's process state shared by the readiness probe and
// the live handler. Once draining, readyz fails and new live connections are
// refused while running interviews finish.
type Lifecycle struct {
	mu            sync.Mutex
	draining      bool
	drainingSince time.Time
}

// SetDraining flips the draining flag. The first transition to draining
// records when it happened.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if draining && !l.draining {
		l.drainingSince = time.Now()
	}
	if !draining {
		l.drainingSince = time.Time{}
	}
	l.draining = draining
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draining
}

// DrainingSince is zero while the gateway is serving normally.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drainingSince
}
