package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radiusdt/adperf/internal/cache"
	"github.com/radiusdt/adperf/internal/metrics"
	"github.com/radiusdt/adperf/internal/models"
	"github.com/radiusdt/adperf/internal/warehouse"
)

// ErrInvalid wraps every validation failure raised by the editor.
var ErrInvalid = errors.New("invalid settings")

// Service is the settings editor. Every successful mutation bumps the
// snapshot version so cached loader reads are discarded.
type Service struct {
	repo     Repository
	versions cache.Versioner
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the settings editor. Every mutation bumps versions.
func NewService(repo Repository, versions cache.Versioner, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		versions: versions,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Reader exposes the underlying store for read paths.
func (s *Service) Reader() Reader { return s.repo }

// ListClients returns all client settings.
func (s *Service) ListClients(ctx context.Context) ([]models.ClientSettings, error) {
	return s.repo.ListClients(ctx)
}

// ListUnits returns all unit assignments.
func (s *Service) ListUnits(ctx context.Context) ([]models.UnitAssignment, error) {
	return s.repo.ListUnits(ctx)
}

// ListThresholds returns all KPI thresholds.
func (s *Service) ListThresholds(ctx context.Context) ([]models.KPIThreshold, error) {
	return s.repo.ListThresholds(ctx)
}

// ClientByID resolves a deep-link client_id to its settings row.
func (s *Service) ClientByID(ctx context.Context, clientID string) (models.ClientSettings, error) {
	clients, err := s.repo.ListClients(ctx)
	if err != nil {
		return models.ClientSettings{}, err
	}
	for _, c := range clients {
		if c.ClientID == clientID {
			return c, nil
		}
	}
	return models.ClientSettings{}, ErrNotFound
}

// UpsertClient creates or updates a client. A missing client_id gets a
// fresh UUID; an existing row keeps its id and creation time.
func (s *Service) UpsertClient(ctx context.Context, c models.ClientSettings) (models.ClientSettings, error) {
	if err := s.validate.Struct(c); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	existing, err := s.repo.ListClients(ctx)
	if err != nil {
		return c, err
	}
	for _, e := range existing {
		if e.ClientName == c.ClientName {
			if c.ClientID == "" {
				c.ClientID = e.ClientID
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = e.CreatedAt
			}
			continue
		}
		if c.ClientID != "" && e.ClientID == c.ClientID {
			return c, fmt.Errorf("%w: client_id %s already assigned to %s", ErrInvalid, c.ClientID, e.ClientName)
		}
	}
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	if err := s.repo.UpsertClient(ctx, &c); err != nil {
		return c, err
	}
	return c, s.mutated(ctx, warehouse.TableClients, "upsert")
}

// DeleteClient removes a client by name.
func (s *Service) DeleteClient(ctx context.Context, clientName string) error {
	if err := s.repo.DeleteClient(ctx, clientName); err != nil {
		return err
	}
	return s.mutated(ctx, warehouse.TableClients, "delete")
}

// UpsertUnit creates or updates an owner's unit interval. Intervals of the
// same owner must not overlap.
func (s *Service) UpsertUnit(ctx context.Context, u models.UnitAssignment) (models.UnitAssignment, error) {
	if err := s.validate.Struct(u); err != nil {
		return u, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	u.StartMonth = models.FirstOfMonth(u.StartMonth)
	if !u.EndMonth.IsZero() {
		u.EndMonth = models.FirstOfMonth(u.EndMonth)
	}
	if err := u.Validate(); err != nil {
		return u, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	existing, err := s.repo.ListUnits(ctx)
	if err != nil {
		return u, err
	}
	for i := range existing {
		if existing[i].ID == u.ID {
			continue
		}
		if u.Overlaps(&existing[i]) {
			return u, fmt.Errorf("%w: %w", ErrInvalid, models.ErrUnitOverlap)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := s.repo.UpsertUnit(ctx, &u); err != nil {
		return u, err
	}
	return u, s.mutated(ctx, warehouse.TableUnits, "upsert")
}

// DeleteUnit removes a unit assignment by ID.
func (s *Service) DeleteUnit(ctx context.Context, id string) error {
	if err := s.repo.DeleteUnit(ctx, id); err != nil {
		return err
	}
	return s.mutated(ctx, warehouse.TableUnits, "delete")
}

// UpsertThreshold validates level ordering before storing.
func (s *Service) UpsertThreshold(ctx context.Context, t models.KPIThreshold) (models.KPIThreshold, error) {
	if err := s.validate.Struct(t.KPIKey); err != nil {
		return t, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	t.UpdatedAt = s.now().UTC()
	if err := s.repo.UpsertThreshold(ctx, &t); err != nil {
		return t, err
	}
	return t, s.mutated(ctx, warehouse.TableKPIThresholds, "upsert")
}

// DeleteThreshold removes the thresholds for key.
func (s *Service) DeleteThreshold(ctx context.Context, key models.KPIKey) error {
	if err := s.repo.DeleteThreshold(ctx, key); err != nil {
		return err
	}
	return s.mutated(ctx, warehouse.TableKPIThresholds, "delete")
}

func (s *Service) mutated(ctx context.Context, table, op string) error {
	s.metrics.RecordSettingsMutation(table, op)
	v, err := s.versions.Bump(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetSnapshotVersion(v)
	s.logger.Info("settings changed",
		zap.String("table", table),
		zap.String("op", op),
		zap.Int64("snapshot_version", v),
	)
	return nil
}

// Seed copies the warehouse settings tables into repo. It is used to
// populate the in-memory store when no database is configured.
func Seed(ctx context.Context, src warehouse.Source, repo Repository, logger *zap.Logger) error {
	if t, err := src.Fetch(ctx, warehouse.TableClients); err == nil {
		clients, err := warehouse.DecodeClients(t)
		if err != nil {
			return err
		}
		for i := range clients {
			if clients[i].ClientID == "" {
				clients[i].ClientID = uuid.NewString()
			}
			if err := repo.UpsertClient(ctx, &clients[i]); err != nil {
				return err
			}
		}
	} else {
		logger.Warn("client settings not seeded", zap.Error(err))
	}

	if t, err := src.Fetch(ctx, warehouse.TableUnits); err == nil {
		units, err := warehouse.DecodeUnits(t)
		if err != nil {
			return err
		}
		for i := range units {
			if units[i].ID == "" {
				units[i].ID = uuid.NewString()
			}
			if err := repo.UpsertUnit(ctx, &units[i]); err != nil {
				return err
			}
		}
	} else {
		logger.Warn("unit mapping not seeded", zap.Error(err))
	}

	if t, err := src.Fetch(ctx, warehouse.TableKPIThresholds); err == nil {
		thresholds, err := warehouse.DecodeThresholds(t)
		if err != nil {
			return err
		}
		for i := range thresholds {
			if err := repo.UpsertThreshold(ctx, &thresholds[i]); err != nil {
				return err
			}
		}
	} else {
		logger.Warn("kpi thresholds not seeded", zap.Error(err))
	}
	return nil
}
