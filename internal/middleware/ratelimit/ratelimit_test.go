package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, limit int) (*Limiter, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(Config{RequestsPerMinute: limit, CleanupInterval: time.Hour, IdleTTL: 10 * time.Minute})
	l.now = func() time.Time { return now }
	t.Cleanup(l.Stop)
	return l, &now
}

func TestAllowWindow(t *testing.T) {
	l, now := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("fourth request in the window should be rejected")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("clients are counted separately")
	}

	// Steady traffic does not extend the window.
	*now = now.Add(30 * time.Second)
	if l.Allow("10.0.0.1") {
		t.Fatal("still inside the first window")
	}
	*now = now.Add(31 * time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("window should have reset")
	}
}

func TestCleanupDropsIdleClients(t *testing.T) {
	l, now := newTestLimiter(t, 5)
	l.Allow("a")
	*now = now.Add(5 * time.Minute)
	l.Allow("b")
	*now = now.Add(6 * time.Minute)

	if n := l.Cleanup(); n != 1 {
		t.Fatalf("dropped %d clients, want 1", n)
	}
	if l.ActiveClients() != 1 {
		t.Fatalf("active clients = %d", l.ActiveClients())
	}
	l.Stop()
	l.Stop()
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 2)
	h := l.Middleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/backfill", nil)
		req.RemoteAddr = "192.0.2.7:4711"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
		if i == 2 && rr.Header().Get("Retry-After") != "60" {
			t.Fatalf("Retry-After = %q", rr.Header().Get("Retry-After"))
		}
	}
	want := []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.7:4711", "192.0.2.7"},
		{"[2001:db8::1]:80", "2001:db8::1"},
		{"unix", "unix"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		if got := ClientIP(req); got != tc.want {
			t.Fatalf("ClientIP(%q) = %q, want %q", tc.remote, got, tc.want)
		}
	}
}
