package session

import (
	"time"

	"golang.org/x/time/rate"
)

// sampleLimiter caps inbound sensor samples per connection. Samples over the
// limit are dropped; the client is warned once per run of drops.
type sampleLimiter struct {
	now     func() time.Time
	limiter *rate.Limiter
	warned  bool
	dropped int64
}

func newSampleLimiter(now func() time.Time, perSecond float64, burst int) *sampleLimiter {
	if perSecond <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &sampleLimiter{
		now:     now,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Allow reports whether the next sample may be processed, and whether the
// caller should warn the client about a new run of dropped samples.
func (l *sampleLimiter) Allow() (ok bool, warn bool) {
	if l == nil {
		return true, false
	}
	if l.limiter.AllowN(l.now(), 1) {
		l.warned = false
		return true, false
	}
	l.dropped++
	if l.warned {
		return false, false
	}
	l.warned = true
	return false, true
}

func (l *sampleLimiter) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped
}
