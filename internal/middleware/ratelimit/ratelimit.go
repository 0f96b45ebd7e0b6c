// Package ratelimit throttles HTTP clients with a fixed one-minute window
// per client address.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const window = time.Minute

// Limiter counts requests per client. A cleanup goroutine drops clients idle
// for longer than IdleTTL until Stop is called.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   int
	idleTTL time.Duration
	now     func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type client struct {
	windowStart time.Time
	lastSeen    time.Time
	requests    int
}

type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
	IdleTTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
		IdleTTL:           10 * time.Minute,
	}
}

func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}

	l := &Limiter{
		clients:     make(map[string]*client),
		limit:       config.RequestsPerMinute,
		idleTTL:     config.IdleTTL,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop(config.CleanupInterval)
	return l
}

// Allow records a request from key and reports whether it is within the
// limit. The window restarts a minute after its first request.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok || now.Sub(c.windowStart) >= window {
		l.clients[key] = &client{windowStart: now, lastSeen: now, requests: 1}
		return true
	}
	c.lastSeen = now
	c.requests++
	return c.requests <= l.limit
}

// retryAfter is the number of seconds until key's window resets.
func (l *Limiter) retryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[key]
	if !ok {
		return 0
	}
	left := window - l.now().Sub(c.windowStart)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// Cleanup drops clients idle for longer than the idle TTL and returns how
// many were dropped.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	dropped := 0
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			dropped++
		}
	}
	return dropped
}

func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// Middleware rejects requests over the limit with 429. keyOf defaults to
// ClientIP; onLimit, when set, writes the rejection instead.
func (l *Limiter) Middleware(keyOf func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	if keyOf == nil {
		keyOf = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyOf(r)
			if l.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}
			if secs := l.retryAfter(key); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		})
	}
}

// ClientIP is the host part of the request's remote address. Forwarding
// headers are ignored since they are client controlled.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
