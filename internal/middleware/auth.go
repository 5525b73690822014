package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/radiusdt/adperf/internal/config"
	"github.com/radiusdt/adperf/internal/metrics"
)

const (
	AuthHeaderName = "X-API-Key"
	// AuthQueryParam is accepted so export links can be opened directly.
	AuthQueryParam = "api_key"
)

// AuthMiddleware checks the dashboard's shared API key. Paths listed in
// SkipPaths, and everything below them, are public.
type AuthMiddleware struct {
	key     []byte
	skip    []string
	enabled bool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAuthMiddleware creates an API key check. m may be nil.
func NewAuthMiddleware(cfg config.AuthConfig, m *metrics.Metrics, logger *zap.Logger) *AuthMiddleware {
	skip := make([]string, 0, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		if p = strings.TrimSuffix(p, "/"); p != "" {
			skip = append(skip, p)
		}
	}
	return &AuthMiddleware{
		key:     []byte(cfg.MasterKey),
		skip:    skip,
		enabled: cfg.Enabled,
		metrics: m,
		logger:  logger,
	}
}

// credential returns the presented key, header first.
func credential(r *http.Request) string {
	if k := r.Header.Get(AuthHeaderName); k != "" {
		return k
	}
	return r.URL.Query().Get(AuthQueryParam)
}

func (a *AuthMiddleware) public(path string) bool {
	for _, p := range a.skip {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Handler answers 401 for missing or wrong keys.
func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled || a.public(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := credential(r)
		switch {
		case key == "":
			a.reject(w, r, "missing")
		case subtle.ConstantTimeCompare([]byte(key), a.key) != 1:
			a.reject(w, r, "invalid")
		default:
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), APIKeyContextKey, key)))
		}
	})
}

func (a *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string) {
	a.metrics.RecordAuthFailure(reason)
	if reason == "invalid" {
		a.logger.Warn("invalid API key",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", clientIP(r)),
		)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "ApiKey")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason + " API key"})
}
