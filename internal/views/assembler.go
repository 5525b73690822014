package views

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/adperf/internal/aggregate"
	"github.com/radiusdt/adperf/internal/filter"
	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/metrics"
	"github.com/radiusdt/adperf/internal/models"
	"github.com/radiusdt/adperf/internal/warehouse"
)

// DefaultMaxBannerGallery caps the banner gallery.
const DefaultMaxBannerGallery = 100

// Loader is the fact loader collaborator.
type Loader interface {
	AdFacts(ctx context.Context, table string, version int64) (models.RowSet[models.AdFact], error)
	Banners(ctx context.Context, version int64) (models.RowSet[models.BannerFact], error)
	Thresholds(ctx context.Context, version int64) ([]models.KPIThreshold, error)
	Clients(ctx context.Context, version int64) ([]models.ClientSettings, error)
}

// Config holds the dashboard options that shape views.
type Config struct {
	ObjectiveContains string
	AchievementRule   string
	RateUnit          kpi.RateUnit
	PriorYearOverlay  bool
	MaxBannerGallery  int
	MonthFormat       string
	// Tables overrides DefaultTables per view.
	Tables map[View]string
}

// Assembler computes views. It holds no per-request state and is safe for
// concurrent use; loaded row sets are shared and never mutated.
type Assembler struct {
	loader  Loader
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAssembler creates an assembler over loader. Zero Config fields take
// their defaults; m may be nil.
func NewAssembler(loader Loader, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Assembler {
	if cfg.MaxBannerGallery <= 0 {
		cfg.MaxBannerGallery = DefaultMaxBannerGallery
	}
	if cfg.RateUnit == "" {
		cfg.RateUnit = kpi.RateAuto
	}
	return &Assembler{loader: loader, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

// WithClock replaces the clock used to truncate trend axes.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

func (a *Assembler) table(v View) string {
	if t, ok := a.cfg.Tables[v]; ok && t != "" {
		return t
	}
	return DefaultTables[v]
}

// Run dispatches req to its view.
func (a *Assembler) Run(ctx context.Context, req Request) (Output, error) {
	start := time.Now()
	out, err := a.run(ctx, &req)

	status, rows := StatusOf(err), 0
	if out != nil {
		status, rows = out.StatusCode(), out.Len()
	}
	if status == "" {
		status = "error"
	}
	a.metrics.RecordView(string(req.View), string(status), rows, time.Since(start))
	if err != nil {
		a.logger.Warn("view failed",
			zap.String("view", string(req.View)),
			zap.Int64("version", req.Version),
			zap.Error(err),
		)
		return nil, err
	}
	a.logger.Debug("view assembled",
		zap.String("view", string(req.View)),
		zap.String("status", string(status)),
		zap.Int("rows", rows),
		zap.Int64("version", req.Version),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (a *Assembler) run(ctx context.Context, req *Request) (Output, error) {
	if _, err := ParseView(string(req.View)); err != nil {
		return nil, err
	}
	if err := a.Prepare(ctx, req); err != nil {
		return nil, err
	}
	switch req.View {
	case AllAdsKPI:
		return output(a.AllAds(ctx, *req))
	case ClientKPI:
		return output(a.ClientKPI(ctx, *req))
	case CampaignList:
		return output(a.Campaigns(ctx, *req))
	case CampaignAdsetList:
		return output(a.CampaignAdsets(ctx, *req))
	case MonthlyTrend:
		return output(a.MonthlyTrend(ctx, *req))
	case BannerGallery:
		return output(a.BannerGallery(ctx, *req))
	case LPScore:
		return output(a.LPScore(ctx, *req))
	case UnitScore:
		return output(a.UnitScore(ctx, *req))
	case MarketMonitor:
		return output(a.MarketMonitor(ctx, *req))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownView, req.View)
}

func output[T Record](r *Result[T], err error) (Output, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Prepare validates the filter, resolves a client_id deep link into the
// client filter and normalizes the spec.
func (a *Assembler) Prepare(ctx context.Context, req *Request) error {
	if err := req.Filter.Validate(); err != nil {
		return err
	}
	if req.ClientID != "" {
		clients, err := a.loader.Clients(ctx, req.Version)
		if err != nil {
			return err
		}
		name := ""
		for _, c := range clients {
			if c.ClientID == req.ClientID {
				name = c.ClientName
				break
			}
		}
		if name == "" {
			return fmt.Errorf("%w: %s", ErrUnknownClient, req.ClientID)
		}
		req.Filter.Clients = []string{name}
	}
	req.Filter = req.Filter.Normalized()
	return nil
}

// Options lists the distinct filter values of the campaign snapshot table.
func (a *Assembler) Options(ctx context.Context, version int64) (map[string][]string, error) {
	rs, err := a.loader.AdFacts(ctx, warehouse.TableAdFactsLast, version)
	if err != nil {
		return nil, err
	}
	return filter.Options(rs.Rows, rs.Columns), nil
}

// frame is the filtered input of one fact view.
type frame struct {
	table   string
	rows    []models.AdFact
	cols    models.Columns
	summary Summary
}

// facts loads the view's fact table, checks required columns and applies
// the filter.
func (a *Assembler) facts(ctx context.Context, v View, req Request, required ...string) (frame, error) {
	table := a.table(v)
	rs, err := a.loader.AdFacts(ctx, table, req.Version)
	if err != nil {
		return frame{}, err
	}
	if missing := rs.Columns.Missing(required); len(missing) > 0 {
		return frame{}, &warehouse.SchemaError{Table: table, Missing: missing}
	}
	if err := ctx.Err(); err != nil {
		return frame{}, err
	}
	rows := filter.Apply(rs.Rows, rs.Columns, req.Filter)
	f := frame{
		table: table,
		rows:  rows,
		cols:  rs.Columns,
		summary: Summary{
			Filter:          req.Filter,
			SnapshotVersion: req.Version,
		},
	}
	months := make([]time.Time, len(rows))
	for i := range rows {
		months[i] = rows[i].DeliveryMonthDT
	}
	f.summary.MonthRange = a.monthRange(months)
	return f, nil
}

// monthRange spans the non-zero months.
func (a *Assembler) monthRange(months []time.Time) *MonthRange {
	var lo, hi time.Time
	for _, m := range months {
		if m.IsZero() {
			continue
		}
		if lo.IsZero() || m.Before(lo) {
			lo = m
		}
		if m.After(hi) {
			hi = m
		}
	}
	if lo.IsZero() {
		return nil
	}
	layout := monthLayout(a.cfg.MonthFormat)
	return &MonthRange{From: lo.Format(layout), To: hi.Format(layout)}
}

func (a *Assembler) evaluator(ctx context.Context, version int64) (*kpi.Evaluator, error) {
	rows, err := a.loader.Thresholds(ctx, version)
	if err != nil {
		return nil, err
	}
	table := kpi.NewThresholdTable(rows, a.cfg.RateUnit)
	return kpi.NewEvaluator(table, a.cfg.ObjectiveContains, a.cfg.AchievementRule), nil
}

func aggregateFrame(f frame, groupBy []string, spec []aggregate.Column) (aggregate.Result, error) {
	res, err := aggregate.Aggregate(f.rows, groupBy, spec)
	if err != nil {
		return res, fmt.Errorf("aggregate %s: %w", f.table, err)
	}
	return res, nil
}

// entity is the key conversions are resolved on: campaign_id when loaded,
// else campaign_name.
func entity(cols models.Columns, extra ...string) []string {
	key := models.ColCampaignName
	if cols.Has(models.ColCampaignID) {
		key = models.ColCampaignID
	}
	return append([]string{key}, extra...)
}

// entityFallback is read for rows whose campaign_id is blank.
func entityFallback(key []string) string {
	if key[0] == models.ColCampaignID {
		return models.ColCampaignName
	}
	return ""
}

// conversions resolves cumulative conversions to the latest row per
// entity. Tables without a time column are taken as already resolved.
func conversions(cols models.Columns, key []string) aggregate.Column {
	c := aggregate.Column{Name: models.ColConversions, Op: aggregate.Latest, Entity: key, Fallback: entityFallback(key)}
	switch {
	case cols.Has(models.ColDate):
	case cols.Has(models.ColDeliveryMonthDT), cols.Has(models.ColDeliveryMonth):
		c.TimeCol = models.ColDeliveryMonthDT
	default:
		c.Op, c.Entity, c.Fallback = aggregate.Sum, nil, ""
	}
	return c
}

const colCampaigns = "campaign_count"

func kpiSpec(cols models.Columns, key []string) []aggregate.Column {
	return []aggregate.Column{
		{Name: models.ColCost, Op: aggregate.Sum},
		{Name: models.ColImpressions, Op: aggregate.Sum},
		{Name: models.ColClicks, Op: aggregate.Sum},
		{Name: models.ColReach, Op: aggregate.Sum},
		{Name: models.ColBudget, Op: aggregate.Sum},
		{Name: models.ColFee, Op: aggregate.Sum},
		conversions(cols, key),
		{Name: models.ColTargetCPA, Op: aggregate.Max},
		{Name: models.ColMedium, Op: aggregate.Last},
		{Name: models.ColMainCategory, Op: aggregate.Last},
		{Name: models.ColSubCategory, Op: aggregate.Last},
		{Name: models.ColAdObjective, Op: aggregate.Last},
		{Name: models.ColCampaignName, Op: aggregate.Last},
		{Name: colCampaigns, Source: key[0], Op: aggregate.CountDistinct, Fallback: entityFallback(key)},
	}
}

func kpiRow(res *aggregate.Result, g *aggregate.Group) KPIRow {
	row := KPIRow{
		Keys:        make(map[string]string, len(res.GroupBy)),
		Cost:        g.Get(models.ColCost),
		Impressions: g.Get(models.ColImpressions),
		Clicks:      g.Get(models.ColClicks),
		Conversions: g.Get(models.ColConversions),
		Reach:       g.Get(models.ColReach),
		Budget:      g.Get(models.ColBudget),
		Fee:         g.Get(models.ColFee),
		TargetCPA:   g.Get(models.ColTargetCPA),
	}
	for i, c := range res.GroupBy {
		row.Keys[c] = g.Keys[i]
	}
	row.CampaignCount = int(g.Get(colCampaigns).Or(0))
	row.Metrics = kpi.Compute(row.totals())
	return row
}

func groupKPIKey(g *aggregate.Group) models.KPIKey {
	return models.KPIKey{
		Medium:       g.Labels[models.ColMedium],
		MainCategory: g.Labels[models.ColMainCategory],
		SubCategory:  g.Labels[models.ColSubCategory],
		AdObjective:  g.Labels[models.ColAdObjective],
	}
}

// grader evaluates rows and remembers keys with no threshold row.
type grader struct {
	ev      *kpi.Evaluator
	missing map[models.KPIKey]struct{}
}

func newGrader(ev *kpi.Evaluator) *grader {
	return &grader{ev: ev, missing: make(map[models.KPIKey]struct{})}
}

func (g *grader) grade(key models.KPIKey, v kpi.Values, target models.Num) *kpi.Evaluation {
	e := g.ev.Evaluate(key, v, target)
	if e.Thresholds == nil {
		g.missing[key] = struct{}{}
	}
	return &e
}

// finish sets the status and KPI warnings of r.
func finish[T Record](r *Result[T], g *grader) {
	switch {
	case len(r.Rows) == 0:
		r.Status = StatusEmpty
	case g != nil && g.ev.Table.Len() == 0:
		r.Status = StatusKPIMissing
	default:
		r.Status = StatusOK
	}
	if r.Rows == nil {
		r.Rows = []T{}
	}
	if r.Status == StatusOK && g != nil && len(g.missing) > 0 {
		r.Summary.warn("kpi thresholds missing for %d key(s); affected rows not evaluated", len(g.missing))
	}
}
