package origin

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want, host string
		ok             bool
	}{
		{"HTTPS://Example.COM:443", "https://example.com", "example.com", true},
		{"http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"http://example.com:80", "http://example.com", "example.com", true},
		{"https://example.com:80", "https://example.com:80", "example.com:80", true},
		{"http://[::1]:8080", "http://[::1]:8080", "[::1]:8080", true},
		{"  null ", "null", "", true},
		{"", "", "", false},
		{"ftp://example.com", "", "", false},
		{"https://example.com/path", "", "", false},
		{"https://example.com?q", "", "", false},
		{"https://example.com?", "", "", false},
		{"https://example.com#frag", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:70000", "", "", false},
		{"https://example.com,https://evil.example", "", "", false},
	}
	for _, tc := range cases {
		got, host, ok := Normalize(tc.in)
		if ok != tc.ok || got != tc.want || host != tc.host {
			t.Fatalf("Normalize(%q)=(%q,%q,%v), want (%q,%q,%v)", tc.in, got, host, ok, tc.want, tc.host, tc.ok)
		}
	}
}

func TestPolicy_SameHostDefault(t *testing.T) {
	p := NewPolicy(nil)

	cases := []struct {
		origin, requestHost string
		want                bool
	}{
		{"https://relay.example", "relay.example", true},
		{"https://relay.example", "relay.example:443", true},
		{"http://relay.example:8080", "RELAY.example:8080", true},
		{"https://relay.example", "relay.example:8443", false},
		{"https://other.example", "relay.example", false},
		{"null", "relay.example", false},
	}
	for _, tc := range cases {
		normalized, host, ok := Normalize(tc.origin)
		if !ok {
			t.Fatalf("Normalize(%q) failed", tc.origin)
		}
		if got := p.Allows(normalized, host, tc.requestHost); got != tc.want {
			t.Fatalf("Allows(%q, host=%q)=%v, want %v", tc.origin, tc.requestHost, got, tc.want)
		}
	}
}

func TestPolicy_AllowList(t *testing.T) {
	p := NewPolicy([]string{"https://app.example"})
	if !p.Allows("https://app.example", "app.example", "relay.example") {
		t.Fatalf("expected listed origin to be allowed")
	}
	if p.Allows("https://relay.example", "relay.example", "relay.example") {
		t.Fatalf("allow list replaces the same-host default")
	}

	if !NewPolicy([]string{Wildcard}).Allows("null", "", "relay.example") {
		t.Fatalf("wildcard should admit the null origin")
	}
}

func TestPolicy_Check(t *testing.T) {
	p := NewPolicy([]string{"https://app.example"})

	r := httptest.NewRequest(http.MethodGet, "http://relay.example/signal", nil)
	if got, ok := p.Check(r); !ok || got != "" {
		t.Fatalf("no Origin: got (%q,%v), want (\"\",true)", got, ok)
	}

	r.Header.Set("Origin", "HTTPS://APP.example:443")
	if got, ok := p.Check(r); !ok || got != "https://app.example" {
		t.Fatalf("allowed Origin: got (%q,%v)", got, ok)
	}

	r.Header.Set("Origin", "https://evil.example")
	if _, ok := p.Check(r); ok {
		t.Fatalf("expected disallowed origin to fail")
	}

	r.Header.Set("Origin", "https://app.example")
	r.Header.Add("Origin", "https://app.example")
	if _, ok := p.Check(r); ok {
		t.Fatalf("expected repeated Origin headers to fail")
	}
}
