package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	apperrors "bloodmatch/pkg/errors"
	"bloodmatch/pkg/logger"
)

const RequesterIDHeader = "X-Requester-ID"

// ClientExtractor names the caller a request is counted against. An empty
// name bypasses the limiter.
type ClientExtractor func(r *http.Request) string

// ClientRateLimiter is a sliding-window limiter keyed by caller.
type ClientRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	extract  ClientExtractor
	log      *logger.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

func NewClientRateLimiter(limit int, window time.Duration, extract ClientExtractor, log *logger.Logger) *ClientRateLimiter {
	if extract == nil {
		extract = DefaultClientExtractor
	}
	limiter := &ClientRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		extract:  extract,
		log:      log,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	go limiter.cleanup()
	return limiter
}

func (rl *ClientRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := rl.now()
			rl.mu.Lock()
			for client, timestamps := range rl.requests {
				if len(timestamps) == 0 || now.Sub(timestamps[len(timestamps)-1]) > rl.window {
					delete(rl.requests, client)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *ClientRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *ClientRateLimiter) Allow(client string) bool {
	if client == "" {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	timestamps := rl.requests[client]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < rl.window {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= rl.limit {
		rl.requests[client] = valid
		return false
	}
	rl.requests[client] = append(valid, now)
	return true
}

// RateLimit applies the limiter to mutating requests only; reads and health
// probes are never throttled.
func RateLimit(limiter *ClientRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			client := limiter.extract(r)
			if !limiter.Allow(client) {
				limiter.log.Warn("Rate limit exceeded",
					"request_id", RequestIDFrom(r.Context()),
					"client", client,
					"path", r.URL.Path,
				)
				writeAppError(w, apperrors.New("RATE_LIMITED", "Rate limit exceeded", http.StatusTooManyRequests))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultClientExtractor prefers X-Requester-ID and falls back to the remote
// host.
func DefaultClientExtractor(r *http.Request) string {
	if id := r.Header.Get(RequesterIDHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
