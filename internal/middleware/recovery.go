package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/radiusdt/adperf/internal/metrics"
)

// RecoveryMiddleware turns a handler panic into a 500 carrying the request
// ID, logs the stack and counts the panic by request class.
type RecoveryMiddleware struct {
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRecoveryMiddleware creates a recovery middleware. m may be nil.
func NewRecoveryMiddleware(m *metrics.Metrics, logger *zap.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{metrics: m, logger: logger}
}

// Handler wraps next with panic recovery.
func (rm *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			// net/http relies on this panic to abort a response silently.
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}

			class := Classify(r)
			// Recovery wraps logging, so the ID is only on the response.
			reqID := RequestID(r.Context())
			if reqID == "" {
				reqID = w.Header().Get(RequestIDHeader)
			}
			rm.metrics.RecordPanic(class)
			rm.logger.Error("handler panic",
				zap.String("panic", fmt.Sprint(v)),
				zap.String("request_id", reqID),
				zap.String("class", class),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.ByteString("stack", debug.Stack()),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":      "internal server error",
				"request_id": reqID,
			})
		}()
		next.ServeHTTP(w, r)
	})
}
