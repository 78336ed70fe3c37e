package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	keys := map[string]string{"key_acme": "acme", "key_ops": ""}

	p, ok := Authenticate(keys, "key_acme")
	if !ok || p.CompanyID != "acme" || p.APIKey != "key_acme" {
		t.Fatalf("principal=%+v ok=%v", p, ok)
	}
	if !p.CanActFor("acme") || p.CanActFor("globex") {
		t.Fatalf("company scoping broken for %+v", p)
	}

	p, ok = Authenticate(keys, "key_ops")
	if !ok || !p.CanActFor("globex") {
		t.Fatalf("unscoped key should act for any company: %+v ok=%v", p, ok)
	}

	for _, token := range []string{"", "key_ac", "key_acme2"} {
		if _, ok := Authenticate(keys, token); ok {
			t.Fatalf("Authenticate(%q) accepted", token)
		}
	}
}

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer key_acme", "key_acme", true},
		{"bearer   key_acme ", "key_acme", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/v1/jobs", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		got, ok := ParseBearer(r)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseBearer(%q)=(%q,%v), want (%q,%v)", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatalf("empty context should carry no principal")
	}
	ctx := WithPrincipal(context.Background(), &Principal{APIKey: "k", CompanyID: "acme"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.CompanyID != "acme" {
		t.Fatalf("principal=%+v ok=%v", p, ok)
	}
	var nilP *Principal
	if !nilP.CanActFor("anyone") {
		t.Fatalf("nil principal (auth disabled) should act for any company")
	}
}
