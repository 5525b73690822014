// Package kpi derives ad metrics from aggregated totals and grades them
// against per-segment thresholds.
package kpi

import (
	"github.com/radiusdt/adperf/internal/models"
)

// Metric identifies a derived metric.
type Metric string

const (
	CPA Metric = "cpa"
	CVR Metric = "cvr"
	CTR Metric = "ctr"
	CPC Metric = "cpc"
	CPM Metric = "cpm"
)

// AllMetrics lists the derived metrics in display order.
var AllMetrics = []Metric{CPA, CVR, CTR, CPC, CPM}

// ParseMetric accepts the lower-case metric name.
func ParseMetric(s string) (Metric, bool) {
	for _, m := range AllMetrics {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// LowerIsBetter is true for cost-style metrics.
func (m Metric) LowerIsBetter() bool {
	switch m {
	case CPA, CPC, CPM:
		return true
	}
	return false
}

// IsRate is true for fractional metrics.
func (m Metric) IsRate() bool { return m == CVR || m == CTR }

// ConversionGated metrics are graded only for conversion objectives.
func (m Metric) ConversionGated() bool { return m == CPA || m == CVR }

// Totals are the aggregated inputs of the metric calculator.
type Totals struct {
	Cost        models.Num `json:"cost"`
	Impressions models.Num `json:"impressions"`
	Clicks      models.Num `json:"clicks"`
	Conversions models.Num `json:"conversions"`
}

// Values holds derived metrics. Rates are fractions.
type Values struct {
	CPA models.Num `json:"cpa"`
	CVR models.Num `json:"cvr"`
	CTR models.Num `json:"ctr"`
	CPC models.Num `json:"cpc"`
	CPM models.Num `json:"cpm"`
}

// Get returns the value of m.
func (v Values) Get(m Metric) models.Num {
	switch m {
	case CPA:
		return v.CPA
	case CVR:
		return v.CVR
	case CTR:
		return v.CTR
	case CPC:
		return v.CPC
	case CPM:
		return v.CPM
	}
	return models.Missing
}

// Compute derives all metrics. A zero or missing denominator, or a missing
// numerator, yields a missing value.
func Compute(t Totals) Values {
	return Values{
		CPA: div(t.Cost, t.Conversions, 1),
		CVR: div(t.Conversions, t.Clicks, 1),
		CTR: div(t.Clicks, t.Impressions, 1),
		CPC: div(t.Cost, t.Clicks, 1),
		CPM: div(t.Cost, t.Impressions, 1000),
	}
}

func div(num, den models.Num, scale float64) models.Num {
	if !num.Valid || !den.Valid || den.Value == 0 {
		return models.Missing
	}
	return models.Some(num.Value * scale / den.Value)
}
