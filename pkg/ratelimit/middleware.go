package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/logger"
)

// rateLimitResponse is the JSON body returned for throttled requests.
type rateLimitResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ResetTime int64  `json:"reset_time"`
}

// Middleware applies a per-client-IP sliding window limit to inbound requests.
// It is independent from any outbound limiter: inbound abuse prevention and
// upstream budget protection are separate concerns with separate budgets.
type Middleware struct {
	limiter     *SlidingWindowLimiter
	bypassPaths map[string]struct{}

	// now is swappable for tests.
	now func() time.Time
}

// NewMiddleware creates inbound throttling middleware around the given
// limiter. Requests to any of bypassPaths skip throttling entirely.
func NewMiddleware(limiter *SlidingWindowLimiter, bypassPaths []string) *Middleware {
	bypass := make(map[string]struct{}, len(bypassPaths))
	for _, p := range bypassPaths {
		bypass[p] = struct{}{}
	}
	return &Middleware{
		limiter:     limiter,
		bypassPaths: bypass,
		now:         time.Now,
	}
}

// Handler wraps next with per-IP throttling. Denied requests receive a 429
// with Retry-After and rate limit metadata headers; granted requests carry
// the same metadata headers so clients can self-throttle.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.bypassPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		decision := m.limiter.TryAcquire(key)
		setMetadataHeaders(w, m.limiter.Limit(), decision)

		if !decision.Granted {
			retryAfter := decision.RetryAfter.Sub(m.now())
			if retryAfter < 0 {
				retryAfter = 0
			}
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			logger.Warnw("inbound request throttled",
				"client", key,
				"path", r.URL.Path,
				"retry_after_seconds", seconds)

			_ = json.NewEncoder(w).Encode(rateLimitResponse{
				Error:     "Too Many Requests",
				Message:   "Rate limit exceeded. Please retry after " + strconv.Itoa(seconds) + " seconds.",
				ResetTime: decision.RetryAfter.Unix(),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setMetadataHeaders attaches the standard rate limit headers to the response.
func setMetadataHeaders(w http.ResponseWriter, limit int, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
}

// clientKey derives the throttling identity for a request. Forwarded headers
// take priority over the transport peer address so the limiter keys on the
// real client when running behind a proxy. Only the first hop of
// X-Forwarded-For is trusted; later hops are attacker-controllable.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
