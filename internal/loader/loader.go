// Package loader reads warehouse and settings tables into typed row sets,
// memoized per snapshot version.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/radiusdt/adperf/internal/cache"
	"github.com/radiusdt/adperf/internal/metrics"
	"github.com/radiusdt/adperf/internal/models"
	"github.com/radiusdt/adperf/internal/settings"
	"github.com/radiusdt/adperf/internal/warehouse"
)

// FactTables are the tables decoded as ad facts.
var FactTables = []string{
	warehouse.TableAdFacts,
	warehouse.TableAdFactsLast,
	warehouse.TableLPScore,
	warehouse.TableUnitDrive,
	warehouse.TableMarketMonthly,
}

// Loader is safe for concurrent use. Concurrent loads of the same
// (table, version) share one warehouse round trip.
type Loader struct {
	source   warehouse.Source
	settings settings.Reader
	cache    cache.TableCache
	metrics  *metrics.Metrics
	logger   *zap.Logger
	group    singleflight.Group
}

// New creates a loader. Settings come from reader and facts from source;
// m may be nil.
func New(source warehouse.Source, reader settings.Reader, tc cache.TableCache, m *metrics.Metrics, logger *zap.Logger) *Loader {
	if tc == nil {
		tc = cache.NewMemoryTableCache(0)
	}
	return &Loader{source: source, settings: reader, cache: tc, metrics: m, logger: logger}
}

// AdFacts loads a fact table with client settings and unit mapping joined.
func (l *Loader) AdFacts(ctx context.Context, table string, version int64) (models.RowSet[models.AdFact], error) {
	return load(ctx, l, table, version, func(ctx context.Context) (models.RowSet[models.AdFact], error) {
		t, err := l.fetch(ctx, table)
		if err != nil {
			return models.RowSet[models.AdFact]{}, err
		}
		rs, err := warehouse.DecodeAdFacts(t)
		if err != nil {
			l.metrics.RecordWarehouseError(table, "schema")
			return rs, err
		}

		var clients []models.ClientSettings
		var units []models.UnitAssignment
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			clients, err = l.Clients(gctx, version)
			return err
		})
		g.Go(func() error {
			var err error
			units, err = l.Units(gctx, version)
			return err
		})
		if err := g.Wait(); err != nil {
			return rs, err
		}
		Enrich(&rs, clients, units)
		return rs, nil
	})
}

// Banners loads Banner_Drive_Ready.
func (l *Loader) Banners(ctx context.Context, version int64) (models.RowSet[models.BannerFact], error) {
	table := warehouse.TableBanners
	return load(ctx, l, table, version, func(ctx context.Context) (models.RowSet[models.BannerFact], error) {
		t, err := l.fetch(ctx, table)
		if err != nil {
			return models.RowSet[models.BannerFact]{}, err
		}
		rs, err := warehouse.DecodeBanners(t)
		if err != nil {
			l.metrics.RecordWarehouseError(table, "schema")
		}
		return rs, err
	})
}

// Thresholds loads the KPI threshold snapshot.
func (l *Loader) Thresholds(ctx context.Context, version int64) ([]models.KPIThreshold, error) {
	return load(ctx, l, warehouse.TableKPIThresholds, version, func(ctx context.Context) ([]models.KPIThreshold, error) {
		rows, err := l.settings.ListThresholds(ctx)
		return rows, l.settingsErr(warehouse.TableKPIThresholds, err)
	})
}

// Clients loads the client settings snapshot.
func (l *Loader) Clients(ctx context.Context, version int64) ([]models.ClientSettings, error) {
	return load(ctx, l, warehouse.TableClients, version, func(ctx context.Context) ([]models.ClientSettings, error) {
		rows, err := l.settings.ListClients(ctx)
		return rows, l.settingsErr(warehouse.TableClients, err)
	})
}

// Units loads the unit mapping snapshot.
func (l *Loader) Units(ctx context.Context, version int64) ([]models.UnitAssignment, error) {
	return load(ctx, l, warehouse.TableUnits, version, func(ctx context.Context) ([]models.UnitAssignment, error) {
		rows, err := l.settings.ListUnits(ctx)
		return rows, l.settingsErr(warehouse.TableUnits, err)
	})
}

func (l *Loader) settingsErr(table string, err error) error {
	if err == nil {
		return nil
	}
	l.metrics.RecordWarehouseError(table, "load")
	if errors.Is(err, warehouse.ErrLoadFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", warehouse.ErrLoadFailure, table, err)
}

func (l *Loader) fetch(ctx context.Context, table string) (*warehouse.Table, error) {
	start := time.Now()
	t, err := l.source.Fetch(ctx, table)
	if err != nil {
		l.metrics.RecordWarehouseError(table, "load")
		l.logger.Error("warehouse fetch failed", zap.String("table", table), zap.Error(err))
		return nil, err
	}
	l.metrics.RecordWarehouseFetch(table, len(t.Rows), time.Since(start))
	l.logger.Debug("warehouse fetch",
		zap.String("table", table),
		zap.Int("rows", len(t.Rows)),
		zap.Duration("duration", time.Since(start)),
	)
	return t, nil
}

// load memoizes fn by (table, version) through the table cache. Cache
// failures degrade to a direct load.
func load[T any](ctx context.Context, l *Loader, table string, version int64, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if b, err := l.cache.Get(ctx, table, version); err == nil {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			l.metrics.RecordCache(table, true)
			return v, nil
		}
		l.logger.Warn("discarding undecodable cache entry", zap.String("table", table))
	} else if !errors.Is(err, cache.ErrMiss) {
		l.logger.Warn("table cache read failed", zap.String("table", table), zap.Error(err))
	}
	l.metrics.RecordCache(table, false)

	key := table + "@" + strconv.FormatInt(version, 10)
	res, err, _ := l.group.Do(key, func() (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if b, err := json.Marshal(v); err == nil {
			if err := l.cache.Set(ctx, table, version, b); err != nil {
				l.logger.Warn("table cache write failed", zap.String("table", table), zap.Error(err))
			}
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

// Enrich joins client settings and unit mapping onto fact rows. Values
// already present on a row are kept.
func Enrich(rs *models.RowSet[models.AdFact], clients []models.ClientSettings, units []models.UnitAssignment) {
	byName := make(map[string]models.ClientSettings, len(clients))
	for _, c := range clients {
		byName[c.ClientName] = c
	}
	if len(clients) > 0 {
		rs.Columns.Add(models.ColSegment, models.ColFocusLevel)
	}
	if len(units) > 0 {
		rs.Columns.Add(models.ColUnit, models.ColEmploymentType)
	}

	for i := range rs.Rows {
		f := &rs.Rows[i]
		if c, ok := byName[f.ClientName]; ok {
			if f.Segment == "" {
				f.Segment = c.BuildingCount
			}
			if f.FocusLevel == "" {
				f.FocusLevel = c.FocusLevel
			}
		}
		if len(units) == 0 || (f.Unit != "" && f.Unit != models.Unset) || f.Owner == "" || f.Owner == models.Unset {
			continue
		}
		month := f.DeliveryMonthDT
		if month.IsZero() && f.HasDate {
			month = f.Date
		}
		if month.IsZero() {
			continue
		}
		if a, ok := models.ResolveUnit(units, f.Owner, month); ok {
			f.Unit = a.Unit
			if f.EmploymentType == "" {
				f.EmploymentType = a.EmploymentType
			}
		}
	}
}
