package views

import (
	"context"
	"slices"
	"time"

	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/models"
	"github.com/radiusdt/adperf/internal/timeseries"
)

// TrendExtras carries one shaped series per metric.
type TrendExtras struct {
	TargetKey *models.KPIKey      `json:"target_key,omitempty"`
	Series    []timeseries.Series `json:"series"`
}

// MonthlyTrend aggregates per delivery month and shapes a series for every
// metric. The target line is drawn only when the filtered rows share one
// KPI key.
func (a *Assembler) MonthlyTrend(ctx context.Context, req Request) (*Result[TrendRow], error) {
	f, err := a.facts(ctx, MonthlyTrend, req, models.ColDeliveryMonth)
	if err != nil {
		return nil, err
	}
	ev, err := a.evaluator(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dated := make([]models.AdFact, 0, len(f.rows))
	for i := range f.rows {
		if !f.rows[i].DeliveryMonthDT.IsZero() {
			dated = append(dated, f.rows[i])
		}
	}
	f.rows = dated

	groupBy := []string{models.ColDeliveryMonth}
	agg, err := aggregateFrame(f, groupBy, kpiSpec(f.cols, entity(f.cols)))
	if err != nil {
		return nil, err
	}

	type month struct {
		at  time.Time
		row TrendRow
	}
	months := make([]month, 0, len(agg.Groups))
	for i := range agg.Groups {
		grp := &agg.Groups[i]
		at, ok := models.ParseMonth(grp.Keys[0])
		if !ok {
			continue
		}
		r := kpiRow(&agg, grp)
		months = append(months, month{at: at, row: TrendRow{
			Cost:        r.Cost,
			Impressions: r.Impressions,
			Clicks:      r.Clicks,
			Conversions: r.Conversions,
			Metrics:     r.Metrics,
		}})
	}
	slices.SortFunc(months, func(x, y month) int { return x.at.Compare(y.at) })

	layout := monthLayout(a.cfg.MonthFormat)
	res := &Result[TrendRow]{View: MonthlyTrend, Summary: f.summary, Rows: make([]TrendRow, 0, len(months))}
	for _, m := range months {
		m.row.Month = m.at.Format(layout)
		res.Rows = append(res.Rows, m.row)
	}

	g := newGrader(ev)
	extras := TrendExtras{Series: make([]timeseries.Series, 0, len(kpi.AllMetrics))}
	key, uniform := uniformKeys(f.rows, nil)[""]
	if uniform {
		extras.TargetKey = &key
		if _, ok := ev.Table.Lookup(key); !ok {
			g.missing[key] = struct{}{}
		}
	} else if len(f.rows) > 0 {
		res.Summary.warn("rows span several kpi keys; no target line")
	}
	for _, metric := range kpi.AllMetrics {
		points := make([]timeseries.Point, len(months))
		for i, m := range months {
			points[i] = timeseries.Point{Month: m.at, Value: m.row.Metrics.Get(metric)}
		}
		opt := timeseries.Options{Now: a.now(), PriorYear: a.cfg.PriorYearOverlay}
		if uniform {
			opt.Target = ev.Table.Target(key, metric)
		}
		extras.Series = append(extras.Series, timeseries.Shape(metric, points, opt))
	}
	res.Extras = extras
	finish(res, g)
	return res, nil
}
