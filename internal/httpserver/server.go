package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radiusdt/adperf/internal/cache"
	"github.com/radiusdt/adperf/internal/config"
	"github.com/radiusdt/adperf/internal/export"
	"github.com/radiusdt/adperf/internal/filter"
	"github.com/radiusdt/adperf/internal/metrics"
	"github.com/radiusdt/adperf/internal/middleware"
	"github.com/radiusdt/adperf/internal/models"
	"github.com/radiusdt/adperf/internal/settings"
	"github.com/radiusdt/adperf/internal/views"
	"github.com/radiusdt/adperf/internal/warehouse"
)

// Pinger is a dependency reported by /health.
type Pinger interface {
	Health(ctx context.Context) error
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Assembler *views.Assembler
	Settings  *settings.Service
	Versions  cache.Versioner
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// Checks are optional; nil entries are skipped.
	Checks map[string]Pinger
}

// Server wraps the dashboard handlers.
type Server struct {
	assembler *views.Assembler
	settings  *settings.Service
	versions  cache.Versioner
	checks    map[string]Pinger
	logger    *zap.Logger
	config    *config.Config
	metrics   *metrics.Metrics
}

// NewServer constructs the router with middleware and all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		assembler: deps.Assembler,
		settings:  deps.Settings,
		versions:  deps.Versions,
		checks:    deps.Checks,
		logger:    deps.Logger,
		config:    deps.Config,
		metrics:   deps.Metrics,
	}
	cfg := deps.Config

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(s.metrics, s.logger).Handler)
	r.Use(middleware.NewLoggingMiddleware(s.logger).Handler)
	r.Use(middleware.NewAuthMiddleware(cfg.Auth, s.metrics, s.logger).Handler)
	r.Use(middleware.NewRateLimitMiddleware(cfg.RateLimit, s.metrics, s.logger).Handler)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, s.metrics.Handler())
	}

	r.Route("/views/{view}", func(r chi.Router) {
		r.Get("/", s.handleView)
		r.Post("/", s.handleView)
		r.Get("/export", s.handleExport)
		r.Post("/export", s.handleExport)
	})
	r.Get("/filters/options", s.handleOptions)

	r.Get("/snapshot", s.handleSnapshot)
	r.Post("/snapshot/bump", s.handleBump)

	r.Route("/settings", func(r chi.Router) {
		r.Get("/clients", s.handleListClients)
		r.Put("/clients", s.handleUpsertClient)
		r.Delete("/clients/{name}", s.handleDeleteClient)

		r.Get("/units", s.handleListUnits)
		r.Put("/units", s.handleUpsertUnit)
		r.Delete("/units/{id}", s.handleDeleteUnit)

		r.Get("/kpi", s.handleListThresholds)
		r.Put("/kpi", s.handleUpsertThreshold)
		r.Delete("/kpi", s.handleDeleteThreshold)
	})

	return r
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, p := range s.checks {
		if p == nil {
			continue
		}
		if err := p.Health(r.Context()); err != nil {
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	s.writeJSON(w, code, status)
}

// ---- Views ----

// viewBody is the POST form of a view request.
type viewBody struct {
	Filter   filter.Spec `json:"filter"`
	ClientID string      `json:"client_id"`
	Version  int64       `json:"version"`
}

// request builds a view request from the path, query string or JSON body
// and pins it to a snapshot version.
func (s *Server) request(r *http.Request) (views.Request, error) {
	v, err := views.ParseView(chi.URLParam(r, "view"))
	if err != nil {
		return views.Request{}, err
	}
	req := views.Request{View: v}

	if r.Method == http.MethodPost {
		var body viewBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return req, fmt.Errorf("%w: %w", filter.ErrInvalidSpec, err)
		}
		req.Filter, req.ClientID, req.Version = body.Filter, body.ClientID, body.Version
	} else {
		q := r.URL.Query()
		req.Filter = filter.FromQuery(q)
		req.ClientID = q.Get("client_id")
		if raw := q.Get("version"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return req, fmt.Errorf("%w: version %q", filter.ErrInvalidSpec, raw)
			}
			req.Version = n
		}
	}

	if req.Version == 0 {
		if req.Version, err = s.versions.Current(r.Context()); err != nil {
			return req, err
		}
	}
	return req, nil
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	req, err := s.request(r)
	if err != nil {
		s.viewError(w, req.View, err)
		return
	}
	out, err := s.assembler.Run(r.Context(), req)
	if err != nil {
		s.viewError(w, req.View, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.request(r)
	if err != nil {
		s.viewError(w, req.View, err)
		return
	}
	out, err := s.assembler.Run(r.Context(), req)
	if err != nil {
		s.viewError(w, req.View, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(out, req.Version)))
	if err := export.Write(w, format, out); err != nil {
		s.logger.Error("export failed",
			zap.String("view", string(req.View)),
			zap.String("request_id", middleware.RequestID(r.Context())),
			zap.Error(err),
		)
	}
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	version, err := s.versions.Current(r.Context())
	if err != nil {
		s.viewError(w, "", err)
		return
	}
	opts, err := s.assembler.Options(r.Context(), version)
	if err != nil {
		s.viewError(w, "", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_version": version,
		"options":          opts,
	})
}

// viewError maps assembly errors to HTTP statuses. A schema mismatch keeps
// the inline status so clients can render it like any other result.
func (s *Server) viewError(w http.ResponseWriter, v views.View, err error) {
	switch {
	case errors.Is(err, views.ErrUnknownView),
		errors.Is(err, filter.ErrInvalidSpec):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, views.ErrUnknownClient):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, warehouse.ErrSchemaMismatch):
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"view":   v,
			"status": views.StatusOf(err),
			"error":  err.Error(),
		})
	case errors.Is(err, warehouse.ErrLoadFailure):
		s.errorResponse(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		s.errorResponse(w, "request timed out", http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		s.logger.Error("view request failed", zap.String("view", string(v)), zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

// ---- Snapshot ----

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	v, err := s.versions.Current(r.Context())
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"snapshot_version": v})
}

// handleBump invalidates every cached table, typically after the
// warehouse refresh job has finished.
func (s *Server) handleBump(w http.ResponseWriter, r *http.Request) {
	v, err := s.versions.Bump(r.Context())
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.SetSnapshotVersion(v)
	s.logger.Info("snapshot version bumped", zap.Int64("snapshot_version", v))
	s.writeJSON(w, http.StatusOK, map[string]int64{"snapshot_version": v})
}

// ---- Helper Methods ----

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

func (s *Server) settingsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settings.ErrInvalid),
		errors.Is(err, models.ErrCostLevelOrder),
		errors.Is(err, models.ErrRateLevelOrder):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, settings.ErrNotFound):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	default:
		s.logger.Error("settings request failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}
