package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/models"
	"github.com/radiusdt/adperf/internal/views"
)

func trend() *views.Result[views.TrendRow] {
	t := kpi.Totals{Cost: models.Some(1234.4), Impressions: models.Some(1000), Clicks: models.Some(10), Conversions: models.Some(2)}
	return &views.Result[views.TrendRow]{
		View:   views.MonthlyTrend,
		Status: views.StatusOK,
		Rows: []views.TrendRow{{
			Month:       "2024/03",
			Cost:        t.Cost,
			Impressions: t.Impressions,
			Clicks:      t.Clicks,
			Conversions: t.Conversions,
			Metrics:     kpi.Compute(t),
		}},
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, trend()); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(string(views.MonthlyTrend))
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one record, got %d rows", len(rows))
	}
	if rows[0][0] != "month" || rows[1][0] != "2024/03" {
		t.Fatalf("unexpected sheet contents %v", rows)
	}
	if rows[1][1] != "1,234" {
		t.Fatalf("cost should be grouped and rounded, got %q", rows[1][1])
	}
	if rows[1][7] != "1.00%" {
		t.Fatalf("ctr should render as percent, got %q", rows[1][7])
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, CSV, trend()); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "month,cost,") {
		t.Fatalf("unexpected csv %q", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != XLSX {
		t.Fatalf("default should be xlsx, got %q %v", f, err)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Fatalf("pdf should be rejected")
	}
	if got := XLSX.Filename(trend(), 3); got != "monthly-trend_v3.xlsx" {
		t.Fatalf("filename = %s", got)
	}
}
