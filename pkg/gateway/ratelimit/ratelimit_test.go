package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireRequest_BurstThenRetryAfter(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if dec := l.AcquireRequest("p1", now); !dec.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	dec := l.AcquireRequest("p1", now)
	if dec.Allowed {
		t.Fatalf("third request in the same instant should be denied")
	}
	if dec.RetryAfter != 1 {
		t.Fatalf("RetryAfter=%d, want 1", dec.RetryAfter)
	}

	if dec := l.AcquireRequest("p2", now); !dec.Allowed {
		t.Fatalf("other principal should have its own bucket")
	}
	if dec := l.AcquireRequest("p1", now.Add(time.Second)); !dec.Allowed {
		t.Fatalf("token should refill after one second")
	}
}

func TestAcquireRequest_DisabledAllowsAll(t *testing.T) {
	l := New(Config{})
	now := time.Now()
	for i := 0; i < 100; i++ {
		if dec := l.AcquireRequest("", now); !dec.Allowed {
			t.Fatalf("request %d denied with limiting disabled", i)
		}
	}
}

func TestAcquireLive_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxLiveConnections: 1})

	first := l.AcquireLive()
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}
	if second := l.AcquireLive(); second.Allowed {
		t.Fatalf("second should be denied")
	}

	first.Permit.Release()
	first.Permit.Release()
	third := l.AcquireLive()
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
	if fourth := l.AcquireLive(); fourth.Allowed {
		t.Fatalf("double release must not free a second slot")
	}
}

func TestPrincipalKeyFromAPIKey_IsStableAndOpaque(t *testing.T) {
	a := PrincipalKeyFromAPIKey("secret")
	if a != PrincipalKeyFromAPIKey("secret") {
		t.Fatalf("key not stable")
	}
	if a == PrincipalKeyFromAPIKey("other") {
		t.Fatalf("distinct keys collided")
	}
	if len(a) != 34 {
		t.Fatalf("len=%d, want 34", len(a))
	}
}

func TestPrincipalKeys_DoNotCollideAcrossKinds(t *testing.T) {
	company := PrincipalKeyFromCompany("acme")
	key := PrincipalKeyFromAPIKey("acme")
	ip := PrincipalKeyFromIP("acme")
	if company == key || company == ip || key == ip {
		t.Fatalf("keys collide: company=%q key=%q ip=%q", company, key, ip)
	}
	if PrincipalKeyFromCompany("acme") != company {
		t.Fatalf("company key is not stable")
	}
}

func TestAcquireRequest_EvictsLeastRecentlySeenWhenFull(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1, MaxEntries: 2, EntryTTL: time.Hour})
	now := time.Unix(1_700_000_000, 0)

	l.AcquireRequest("old", now)
	l.AcquireRequest("recent", now.Add(time.Second))
	l.AcquireRequest("new", now.Add(2*time.Second))

	if len(l.buckets) != 2 {
		t.Fatalf("buckets=%d, want 2", len(l.buckets))
	}
	if _, ok := l.buckets["old"]; ok {
		t.Fatalf("least recently seen bucket should have been evicted")
	}
	if _, ok := l.buckets["recent"]; !ok {
		t.Fatalf("recent bucket evicted")
	}
}
