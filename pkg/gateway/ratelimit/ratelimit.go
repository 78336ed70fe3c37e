// Package ratelimit bounds recruiter API traffic per principal and the number
// of concurrent candidate live sockets. State is in memory and per process.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RPS   float64
	Burst int

	// MaxLiveConnections caps concurrent live sockets across all sessions.
	// Zero disables the cap.
	MaxLiveConnections int

	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket

	live chan struct{}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	l := &Limiter{cfg: cfg, buckets: make(map[string]*bucket)}
	if cfg.MaxLiveConnections > 0 {
		l.live = make(chan struct{}, cfg.MaxLiveConnections)
	}
	return l
}

// Keys are hashed so raw API keys and addresses never sit in the map.
func hashedKey(prefix, raw string, n int) string {
	sum := sha256.Sum256([]byte(raw))
	return prefix + hex.EncodeToString(sum[:n])
}

func PrincipalKeyFromAPIKey(apiKey string) string { return hashedKey("k_", apiKey, 16) }

// PrincipalKeyFromCompany buckets every key scoped to one company together.
func PrincipalKeyFromCompany(companyID string) string { return hashedKey("co_", companyID, 12) }

// PrincipalKeyFromIP buckets unauthenticated callers by client address.
func PrincipalKeyFromIP(ip string) string { return hashedKey("ip_", ip, 12) }

// Permit holds one live connection slot. Release is idempotent.
type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

type Decision struct {
	Allowed    bool
	RetryAfter int // seconds
	Permit     *Permit
}

// AcquireRequest spends one token from the principal's bucket. A refusal
// reports how long until a token is available.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	if l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	if principal == "" {
		principal = "anonymous"
	}

	r := l.bucketFor(principal, now).ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: 1}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: ceilSeconds(delay)}
	}
	return Decision{Allowed: true}
}

// AcquireLive reserves one live connection slot. The permit must be released
// when the connection closes.
func (l *Limiter) AcquireLive() Decision {
	if l.live == nil {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	select {
	case l.live <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-l.live }}}
	default:
		return Decision{RetryAfter: 1}
	}
}

func (l *Limiter) bucketFor(principal string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[principal]
	if !ok {
		if len(l.buckets) >= l.cfg.MaxEntries {
			l.evictLocked(now)
		}
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.buckets[principal] = b
	}
	b.lastSeen = now
	return b.lim
}

// evictLocked drops idle buckets, then the least recently seen one if the map
// is still full.
func (l *Limiter) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.EntryTTL {
			delete(l.buckets, k)
			continue
		}
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey, oldest = k, b.lastSeen
		}
	}
	if len(l.buckets) >= l.cfg.MaxEntries && oldestKey != "" {
		delete(l.buckets, oldestKey)
	}
}

func ceilSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
