package warehouse

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/adperf/internal/models"
)

// floater is satisfied by *big.Rat (BigQuery NUMERIC) and decimal.Decimal
// (ClickHouse Decimal).
type floater interface {
	Float64() (float64, bool)
}

// ToNum coerces a cell to a finite number or missing.
func ToNum(v any) models.Num {
	switch x := v.(type) {
	case nil:
		return models.Missing
	case float64:
		return models.Some(x)
	case float32:
		return models.Some(float64(x))
	case int:
		return models.Some(float64(x))
	case int8:
		return models.Some(float64(x))
	case int16:
		return models.Some(float64(x))
	case int32:
		return models.Some(float64(x))
	case int64:
		return models.Some(float64(x))
	case uint:
		return models.Some(float64(x))
	case uint8:
		return models.Some(float64(x))
	case uint16:
		return models.Some(float64(x))
	case uint32:
		return models.Some(float64(x))
	case uint64:
		return models.Some(float64(x))
	case models.Num:
		return x
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return models.Missing
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Missing
		}
		return models.Some(f)
	case floater:
		f, _ := x.Float64()
		return models.Some(f)
	}
	return models.Missing
}

// ToInt coerces a cell to an optional integer.
func ToInt(v any) *int {
	n := ToNum(v)
	if !n.Valid || n.Value != math.Trunc(n.Value) {
		return nil
	}
	i := int(n.Value)
	return &i
}

// ToString renders a cell as trimmed text; nil is empty.
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// ToDate coerces a cell to a calendar day at UTC midnight.
func ToDate(v any) (time.Time, bool) {
	var t time.Time
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		t = x
	default:
		s := ToString(v)
		if s == "" {
			return time.Time{}, false
		}
		parsed, ok := parseAny(s, dateLayouts)
		if !ok {
			return time.Time{}, false
		}
		t = parsed
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
}

var monthLayouts = []string{
	models.MonthLayout,
	"2006/1",
	"2006-01",
	"2006-1",
	"200601",
}

// ToMonth coerces a cell to the canonical YYYY/MM month and its
// first-of-month time. Dates and timestamps are accepted.
func ToMonth(v any) (string, time.Time, bool) {
	var t time.Time
	switch x := v.(type) {
	case nil:
		return "", time.Time{}, false
	case time.Time:
		if x.IsZero() {
			return "", time.Time{}, false
		}
		t = x
	default:
		s := ToString(v)
		if s == "" {
			return "", time.Time{}, false
		}
		parsed, ok := parseAny(s, monthLayouts)
		if !ok {
			parsed, ok = parseAny(s, dateLayouts)
		}
		if !ok {
			return "", time.Time{}, false
		}
		t = parsed
	}
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.Format(models.MonthLayout), first, true
}

func parseAny(s string, layouts []string) (time.Time, bool) {
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// OrUnset returns models.Unset for blank values.
func OrUnset(s string) string {
	if strings.TrimSpace(s) == "" {
		return models.Unset
	}
	return s
}
