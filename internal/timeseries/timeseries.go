// Package timeseries lays monthly metric values on a contiguous
// first-of-month axis with prior-year and target overlays.
package timeseries

import (
	"sort"
	"time"

	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/models"
)

// Point is one month of a series. Missing values are gaps.
type Point struct {
	Month time.Time  `json:"month"`
	Value models.Num `json:"value"`
}

// Series holds three aligned lines for one metric.
type Series struct {
	Metric    kpi.Metric `json:"metric"`
	Actual    []Point    `json:"actual"`
	PriorYear []Point    `json:"prior_year,omitempty"`
	Target    []Point    `json:"target"`
}

// Options control the shape of a series.
type Options struct {
	// Now truncates the axis at its month, inclusive.
	Now       time.Time
	PriorYear bool
	// Target is the constant target line; missing draws no line.
	Target models.Num
}

// Shape builds the series for metric from per-month values. Months are
// normalized to first-of-month; duplicate months keep the last value.
func Shape(metric kpi.Metric, values []Point, opt Options) Series {
	s := Series{Metric: metric}
	byMonth := make(map[time.Time]models.Num, len(values))
	var first, last time.Time
	for _, p := range values {
		m := models.FirstOfMonth(p.Month)
		byMonth[m] = p.Value
		if first.IsZero() || m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}
	if len(byMonth) == 0 {
		return s
	}

	end := last
	if opt.PriorYear {
		end = last.AddDate(1, 0, 0)
	}
	if now := models.FirstOfMonth(opt.Now); !opt.Now.IsZero() && end.After(now) {
		end = now
	}

	for m := first; !m.After(end); m = m.AddDate(0, 1, 0) {
		s.Actual = append(s.Actual, Point{Month: m, Value: byMonth[m]})
		if opt.PriorYear {
			s.PriorYear = append(s.PriorYear, Point{Month: m, Value: byMonth[m.AddDate(-1, 0, 0)]})
		}
		s.Target = append(s.Target, Point{Month: m, Value: opt.Target})
	}
	return s
}

// Months returns the sorted distinct months of points.
func Months(points []Point) []time.Time {
	seen := make(map[time.Time]struct{}, len(points))
	var out []time.Time
	for _, p := range points {
		m := models.FirstOfMonth(p.Month)
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
