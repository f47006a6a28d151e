package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter caps how many review requests one client can make per
// window. Windows are fixed and start on the first request of a key.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateLimitWindow
	cfg     RateLimitConfig
	logger  *slog.Logger
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// RateLimitConfig defines the rate limiting thresholds.
type RateLimitConfig struct {
	MaxCallsPerMinute int
	Window            time.Duration
}

type rateLimitWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter starts a limiter and its background cleanup. Call Stop
// when done.
func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if cfg.MaxCallsPerMinute <= 0 {
		cfg.MaxCallsPerMinute = 120
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		windows: make(map[string]*rateLimitWindow),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether key is still within its budget and counts the
// request if so.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	window, ok := rl.windows[key]
	if !ok || now.Sub(window.windowStart) > rl.cfg.Window {
		rl.windows[key] = &rateLimitWindow{count: 1, windowStart: now}
		return true
	}
	if window.count >= rl.cfg.MaxCallsPerMinute {
		rl.logger.Warn("rate limit exceeded", "key", key, "count", window.count, "limit", rl.cfg.MaxCallsPerMinute)
		return false
	}
	window.count++
	return true
}

// Middleware limits requests per client address. X-Reviewer is chosen by
// the client, so it cannot serve as the key.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, window := range rl.windows {
				if now.Sub(window.windowStart) > 2*rl.cfg.Window {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Stats returns current rate limiter statistics.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"active_windows":    len(rl.windows),
		"max_calls_per_min": rl.cfg.MaxCallsPerMinute,
	}
}
