package warehouse

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/radiusdt/adperf/internal/models"
)

func TestToMonthFormats(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"2024/03", "2024/03"},
		{"2024/3", "2024/03"},
		{"2024-03", "2024/03"},
		{"2024-03-17", "2024/03"},
		{"2024-03-17T10:00:00Z", "2024/03"},
		{time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC), "2024/03"},
	}
	for _, tc := range cases {
		got, dt, ok := ToMonth(tc.in)
		if !ok {
			t.Fatalf("ToMonth(%v) not parsed", tc.in)
		}
		if got != tc.want {
			t.Fatalf("ToMonth(%v) = %q, want %q", tc.in, got, tc.want)
		}
		if dt.Day() != 1 || dt.Location() != time.UTC {
			t.Fatalf("ToMonth(%v) dt = %v, want first of month UTC", tc.in, dt)
		}
	}
	if _, _, ok := ToMonth(""); ok {
		t.Fatalf("blank month should not parse")
	}
}

func TestToNumNeverZeroFills(t *testing.T) {
	cases := []struct {
		in    any
		valid bool
		want  float64
	}{
		{nil, false, 0},
		{"", false, 0},
		{"abc", false, 0},
		{"1,200", true, 1200},
		{int64(5), true, 5},
		{0.0, true, 0},
		{big.NewRat(3, 2), true, 1.5},
	}
	for _, tc := range cases {
		got := ToNum(tc.in)
		if got.Valid != tc.valid || got.Value != tc.want {
			t.Fatalf("ToNum(%v) = %+v, want valid=%v value=%v", tc.in, got, tc.valid, tc.want)
		}
	}
}

func TestDecodeAdFacts(t *testing.T) {
	tbl := &Table{
		Name:    TableAdFacts,
		Columns: []string{"date", "campaign_id", "campaign_name", "delivery_month", "medium", "unit", "cost", "impressions", "clicks", "conversions"},
		Rows: [][]any{
			{"2024-03-01", "c1", "Spring", "2024-03", "Meta", "", int64(1000), int64(1000), int64(10), nil},
			{nil, "c1", "Spring", "2024/03", "", "U1", "2000", "2000", "20", "5"},
		},
	}
	rs, err := DecodeAdFacts(tbl)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rs.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rs.Rows))
	}
	first := rs.Rows[0]
	if !first.HasDate || first.Date.Day() != 1 {
		t.Fatalf("expected parsed date, got %+v", first.Date)
	}
	if first.Conversions.Valid {
		t.Fatalf("missing conversions must stay missing")
	}
	if first.Unit != models.Unset {
		t.Fatalf("blank unit should collapse to %q, got %q", models.Unset, first.Unit)
	}
	if first.DeliveryMonth != "2024/03" {
		t.Fatalf("delivery month = %q", first.DeliveryMonth)
	}
	second := rs.Rows[1]
	if second.HasDate {
		t.Fatalf("nil date should be marked missing")
	}
	if second.Medium != models.Unset {
		t.Fatalf("blank medium should collapse, got %q", second.Medium)
	}
	if !rs.Columns.Has(models.ColDeliveryMonthDT) {
		t.Fatalf("delivery_month_dt should be derived")
	}
	if rs.Columns.Has(models.ColPrefecture) {
		t.Fatalf("prefecture was not loaded")
	}
}

func TestDecodeAdFactsSchemaMismatch(t *testing.T) {
	tbl := &Table{Name: TableAdFacts, Columns: []string{"cost", "clicks"}}
	_, err := DecodeAdFacts(tbl)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	var se *SchemaError
	if !errors.As(err, &se) || se.Table != TableAdFacts || len(se.Missing) != 2 {
		t.Fatalf("unexpected schema error: %#v", err)
	}
}

func TestDecodeThresholds(t *testing.T) {
	tbl := &Table{
		Name:    TableKPIThresholds,
		Columns: []string{"medium", "main_category", "sub_category", "ad_objective", "cpa_best", "cpa_good", "cpa_min", "ctr_good"},
		Rows: [][]any{
			{"Meta", "不動産", "賃貸", "コンバージョン", 700.0, 900.0, 1200.0, 1.0},
			{"Meta", "不動産", " ", nil, 500.0, nil, nil, nil},
		},
	}
	got, err := DecodeThresholds(tbl)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	th := got[0]
	if th.CPA.Good.Value != 900 || !th.CTR.Good.Valid || th.CTR.Best.Valid {
		t.Fatalf("unexpected levels: %+v", th)
	}

	// Blank key parts read as unset, like the fact dimensions they grade.
	fact := decodeDimensions(record{idx: map[string]int{}})
	want := models.KPIKey{Medium: "Meta", MainCategory: "不動産", SubCategory: models.Unset, AdObjective: models.Unset}
	if fact.SubCategory != want.SubCategory || fact.AdObjective != want.AdObjective {
		t.Fatalf("fact dimensions = %+v", fact)
	}
	if got[1].KPIKey != want {
		t.Fatalf("blank key parts = %+v, want %+v", got[1].KPIKey, want)
	}
}

func TestDecodeUnits(t *testing.T) {
	tbl := &Table{
		Name:    TableUnits,
		Columns: []string{"owner", "unit", "employment_type", "start_month", "end_month"},
		Rows: [][]any{
			{"sato", "U1", "正社員", "2024/01", nil},
		},
	}
	got, err := DecodeUnits(tbl)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got[0].EndMonth.IsZero() || got[0].StartMonth.Month() != time.January {
		t.Fatalf("unexpected interval: %+v", got[0])
	}
}

type flakySource struct {
	failures int
	calls    int
	err      error
}

func (f *flakySource) Fetch(ctx context.Context, table string) (*Table, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, loadFailure(table, errors.New("unavailable"))
	}
	return &Table{Name: table}, nil
}

func (f *flakySource) Close() error { return nil }

func TestRetryingSource(t *testing.T) {
	src := &flakySource{failures: 2}
	r := NewRetrying(src, 3, time.Millisecond, nil)
	if _, err := r.Fetch(context.Background(), TableAdFacts); err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", src.calls)
	}

	src = &flakySource{failures: 5}
	r = NewRetrying(src, 2, time.Millisecond, nil)
	_, err := r.Fetch(context.Background(), TableAdFacts)
	if !errors.Is(err, ErrLoadFailure) {
		t.Fatalf("expected load failure, got %v", err)
	}
}

func TestRetryingStopsOnPermanentErrors(t *testing.T) {
	src := &flakySource{failures: 5, err: &SchemaError{Table: TableAdFacts, Missing: []string{"cost"}}}
	_, err := NewRetrying(src, 3, time.Millisecond, nil).Fetch(context.Background(), TableAdFacts)
	if !errors.Is(err, ErrSchemaMismatch) || src.calls != 1 {
		t.Fatalf("schema mismatch must not be retried: err=%v calls=%d", err, src.calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src = &flakySource{failures: 5, err: context.Canceled}
	_, err = NewRetrying(src, 3, time.Millisecond, nil).Fetch(ctx, TableAdFacts)
	if !errors.Is(err, context.Canceled) || src.calls != 1 {
		t.Fatalf("cancellation must not be retried: err=%v calls=%d", err, src.calls)
	}
}
