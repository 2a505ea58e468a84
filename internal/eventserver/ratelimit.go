package eventserver

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rybkr/gitresync/internal/statestore"
)

const (
	cleanupInterval  = 1 * time.Minute
	clientExpiration = 5 * time.Minute
)

// rateLimiter implements a simple token bucket rate limiter keyed by an
// arbitrary string. The event feed keys by client IP alone for the
// broadcast-all /ws endpoint, but by IP+RepoId for /repos/{id} (see
// byRepoAndClientIP), so that polling one repository heavily cannot starve a client's
// budget for another.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rate    int           // tokens per interval
	burst   int           // max tokens
	window  time.Duration // time window
	stop    chan struct{}
}

// bucket represents a token bucket for a single client.
type bucket struct {
	tokens    int
	lastCheck time.Time
}

// newRateLimiter creates a rate limiter that allows 'rate' requests per 'window'
// with a burst capacity of 'burst'.
func newRateLimiter(rate int, burst int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		clients: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		window:  window,
		stop:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Close stops the cleanup goroutine. Call during server shutdown.
func (rl *rateLimiter) Close() {
	close(rl.stop)
}

// allow checks if a request under the given key should be allowed. key is
// opaque to rateLimiter: callers decide whether it scopes by client IP,
// by repository, or both (see byRepoAndClientIP).
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.clients[key]
	if !exists {
		b = &bucket{
			tokens:    rl.burst - 1,
			lastCheck: time.Now(),
		}
		rl.clients[key] = b
		return true
	}

	now := time.Now()
	elapsed := now.Sub(b.lastCheck)

	// Fix: use floating-point division to correctly compute fractional windows.
	// Integer division of elapsed/window always truncates to 0 for sub-window intervals.
	tokensToAdd := int(float64(elapsed) / float64(rl.window) * float64(rl.rate))
	b.tokens += tokensToAdd
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastCheck = now

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// cleanup removes clients that haven't made requests in clientExpiration and runs
// every cleanupInterval. Exits when Close() is called.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, b := range rl.clients {
				if now.Sub(b.lastCheck) > clientExpiration {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// rateLimitMiddleware wraps an http.HandlerFunc with rate limiting, keying
// each bucket by keyFunc(r). Use byClientIP for endpoints with no repository
// in scope, or byRepoAndClientIP for endpoints under /repos/{id}.
func (rl *rateLimiter) middleware(keyFunc func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(keyFunc(r)) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// byClientIP keys solely by the requesting client's IP.
func byClientIP(r *http.Request) string {
	return getClientIP(r)
}

// byRepoAndClientIP keys by the {id} path value combined with the client's
// IP, so heavy polling of one repository's /repos/{id} doesn't exhaust a
// client's rate budget for every other repository it watches.
func byRepoAndClientIP(r *http.Request) string {
	return string(statestore.RepoId(r.PathValue("id"))) + "|" + getClientIP(r)
}

// getClientIP extracts the client IP from the request.
// Checks X-Forwarded-For and X-Real-IP headers for proxied requests,
// validating each value with net.ParseIP so that arbitrary non-IP strings
// cannot be used to bypass per-IP rate limiting. Falls through to the next
// source if a header value is missing or does not parse as a valid IP.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For may contain a comma-separated list of IPs; the first
	// entry is the original client. Validate before trusting it.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
		// Invalid value — fall through to next source.
	}

	// X-Real-IP should be a single IP; validate it.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip := strings.TrimSpace(xri)
		if net.ParseIP(ip) != nil {
			return ip
		}
		// Invalid value — fall through to RemoteAddr.
	}

	// Use net.SplitHostPort so that IPv6 addresses enclosed in brackets
	// (e.g. "[::1]:12345") are parsed correctly.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr has no port component; return as-is.
		return r.RemoteAddr
	}
	return host
}
