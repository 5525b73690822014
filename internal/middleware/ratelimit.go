package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/radiusdt/adperf/internal/config"
	"github.com/radiusdt/adperf/internal/metrics"
)

// Endpoint classes reported on rate limit hits.
const (
	ClassQuery = "query"
	ClassHeavy = "heavy"
)

// RateLimitMiddleware applies a token bucket per endpoint class. Exports,
// settings writes and snapshot bumps share the heavy bucket.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	query   *rate.Limiter
	heavy   *rate.Limiter
}

// NewRateLimitMiddleware creates the shared query and heavy limiters.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		query:   rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		heavy:   rate.NewLimiter(rate.Limit(cfg.HeavyRPS), cfg.HeavyBurst),
	}
}

// Handler answers 429 when the request's bucket is empty.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		class := Classify(r)
		limiter := rl.query
		if class == ClassHeavy {
			limiter = rl.heavy
		}

		if !limiter.Allow() {
			rl.logger.Warn("rate limit exceeded",
				zap.String("class", class),
				zap.String("path", r.URL.Path),
				zap.String("client_ip", clientIP(r)),
			)
			rl.metrics.RecordRateLimitHit(class)
			tooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Classify reports which bucket a request draws from.
func Classify(r *http.Request) string {
	p := r.URL.Path
	switch {
	case strings.HasSuffix(p, "/export"):
		return ClassHeavy
	case strings.HasPrefix(p, "/snapshot/"):
		return ClassHeavy
	case strings.HasPrefix(p, "/settings/") && r.Method != http.MethodGet:
		return ClassHeavy
	}
	return ClassQuery
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}
