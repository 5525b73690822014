package kpi

import (
	"fmt"

	"github.com/radiusdt/adperf/internal/models"
)

// RateUnit is how CVR/CTR levels are stored in the threshold table.
type RateUnit string

const (
	RateFraction RateUnit = "fraction"
	RatePercent  RateUnit = "percent"
	// RateAuto treats the table as percent when any rate level exceeds 1.
	RateAuto RateUnit = "auto"
)

// ParseRateUnit validates a configured unit.
func ParseRateUnit(s string) (RateUnit, error) {
	switch u := RateUnit(s); u {
	case RateFraction, RatePercent, RateAuto:
		return u, nil
	case "":
		return RateAuto, nil
	}
	return "", fmt.Errorf("unknown threshold rate unit %q", s)
}

// ThresholdTable is an immutable snapshot of KPI thresholds with rate
// levels held as fractions.
type ThresholdTable struct {
	rows    map[models.KPIKey]models.KPIThreshold
	percent bool
}

// NewThresholdTable indexes rows by key, converting rate levels to
// fractions according to unit. Later duplicates replace earlier ones.
func NewThresholdTable(rows []models.KPIThreshold, unit RateUnit) *ThresholdTable {
	t := &ThresholdTable{rows: make(map[models.KPIKey]models.KPIThreshold, len(rows))}
	switch unit {
	case RatePercent:
		t.percent = true
	case RateAuto, "":
		t.percent = looksPercent(rows)
	}
	for _, r := range rows {
		if t.percent {
			r.CVR = scale(r.CVR, 0.01)
			r.CTR = scale(r.CTR, 0.01)
		}
		t.rows[r.KPIKey] = r
	}
	return t
}

func looksPercent(rows []models.KPIThreshold) bool {
	for _, r := range rows {
		for _, l := range []models.Levels{r.CVR, r.CTR} {
			for _, n := range []models.Num{l.Best, l.Good, l.Min} {
				if n.Valid && n.Value > 1 {
					return true
				}
			}
		}
	}
	return false
}

func scale(l models.Levels, f float64) models.Levels {
	mul := func(n models.Num) models.Num {
		if !n.Valid {
			return n
		}
		return models.Some(n.Value * f)
	}
	return models.Levels{Best: mul(l.Best), Good: mul(l.Good), Min: mul(l.Min)}
}

// Lookup finds the row for the full key.
func (t *ThresholdTable) Lookup(key models.KPIKey) (models.KPIThreshold, bool) {
	if t == nil {
		return models.KPIThreshold{}, false
	}
	r, ok := t.rows[key]
	return r, ok
}

// Len is the number of rows.
func (t *ThresholdTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Percent reports whether the source stored rate levels in percent.
func (t *ThresholdTable) Percent() bool { return t != nil && t.percent }

// Target returns the good level of m for key, the constant target line of
// a time series.
func (t *ThresholdTable) Target(key models.KPIKey, m Metric) models.Num {
	r, ok := t.Lookup(key)
	if !ok {
		return models.Missing
	}
	return LevelsFor(r, m).Good
}
