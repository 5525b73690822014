package kpi

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/radiusdt/adperf/internal/models"
)

// Placeholder is displayed for missing values.
const Placeholder = "-"

var printer = message.NewPrinter(language.Japanese)

// Format renders a metric for display: rates as percent with two decimals,
// everything else rounded to an integer with grouping.
func Format(m Metric, v models.Num) string {
	if !v.Valid {
		return Placeholder
	}
	if m.IsRate() {
		return printer.Sprintf("%.2f%%", v.Value*100)
	}
	return FormatInt(v)
}

// FormatInt rounds half away from zero and groups thousands.
func FormatInt(v models.Num) string {
	if !v.Valid {
		return Placeholder
	}
	return printer.Sprintf("%d", int64(math.Round(v.Value)))
}
