package httpmiddleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. Defaults to the
	// client IP, honouring X-Forwarded-For and X-Real-IP.
	KeyFunc httprate.KeyFunc
}

// RateLimit returns a middleware that enforces a per-key sliding window
// limit. Rejected requests get 429 with a JSON error body; every response
// carries X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByRealIP
	}
	retryAfter := strconv.Itoa(int(cfg.Window.Seconds()))

	return httprate.Limit(cfg.Max, cfg.Window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}
