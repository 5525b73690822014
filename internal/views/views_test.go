package views

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/adperf/internal/cache"
	"github.com/radiusdt/adperf/internal/filter"
	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/loader"
	"github.com/radiusdt/adperf/internal/models"
	"github.com/radiusdt/adperf/internal/settings"
	"github.com/radiusdt/adperf/internal/warehouse"
)

const (
	convObjective    = "コンバージョン獲得"
	trafficObjective = "トラフィック"
)

var factColumns = []string{
	"date", "campaign_id", "campaign_name", "adset_name", "client_name", "delivery_month",
	"medium", "main_category", "sub_category", "ad_objective", "prefecture", "owner", "unit",
	"landing_url", "cost", "impressions", "clicks", "conversions", "target_cpa",
}

type fx struct {
	date, campaign, adset, client, objective, pref, unit, lp string
	cost, impr, clicks                                       float64
	conv, target                                             any
	noID                                                     bool
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (f fx) row() []any {
	month := strings.Replace(f.date[:7], "-", "/", 1)
	id := f.campaign
	if f.noID {
		id = ""
	}
	return []any{
		f.date, id, f.campaign, or(f.adset, "adset"), or(f.client, "Acme"), month,
		"Meta", "不動産", "賃貸", or(f.objective, convObjective), or(f.pref, "東京都"), "sato", f.unit,
		or(f.lp, "https://lp.example/a"), f.cost, f.impr, f.clicks, f.conv, f.target,
	}
}

func factTable(name string, facts ...fx) *warehouse.Table {
	t := &warehouse.Table{Name: name, Columns: factColumns}
	for _, f := range facts {
		t.Rows = append(t.Rows, f.row())
	}
	return t
}

func key(objective string) models.KPIKey {
	return models.KPIKey{Medium: "Meta", MainCategory: "不動産", SubCategory: "賃貸", AdObjective: objective}
}

func levels(best, good, floor float64) models.Levels {
	return models.Levels{Best: models.Some(best), Good: models.Some(good), Min: models.Some(floor)}
}

type env struct {
	src  *warehouse.MemorySource
	repo *settings.MemoryRepo
	asm  *Assembler
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	src := warehouse.NewMemorySource()
	repo := settings.NewMemoryRepo()
	_ = repo.UpsertClient(context.Background(), &models.ClientSettings{ClientName: "Acme", ClientID: "acme-1"})
	l := loader.New(src, repo, cache.NewMemoryTableCache(0), nil, zap.NewNop())
	asm := NewAssembler(l, cfg, nil, zap.NewNop()).WithClock(func() time.Time {
		return time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)
	})
	return &env{src: src, repo: repo, asm: asm}
}

func (e *env) threshold(t *testing.T, th models.KPIThreshold) {
	t.Helper()
	if err := e.repo.UpsertThreshold(context.Background(), &th); err != nil {
		t.Fatalf("threshold: %v", err)
	}
}

func near(t *testing.T, name string, got models.Num, want float64) {
	t.Helper()
	if !got.Valid || math.Abs(got.Value-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func TestCampaignListResolvesLatestConversions(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-03-01", campaign: "X", cost: 1000, impr: 1000, clicks: 10, conv: 2},
		fx{date: "2024-03-02", campaign: "X", cost: 2000, impr: 2000, clicks: 20, conv: 5},
	))

	out, err := e.asm.Run(context.Background(), Request{View: CampaignList, Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := out.(*Result[KPIRow])
	if res.Status != StatusKPIMissing {
		t.Fatalf("empty threshold table should report kpi_missing, got %s", res.Status)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected one campaign-month, got %d", len(res.Rows))
	}
	r := res.Rows[0]
	near(t, "cost", r.Cost, 3000)
	near(t, "clicks", r.Clicks, 30)
	near(t, "impressions", r.Impressions, 3000)
	near(t, "conversions", r.Conversions, 5)
	near(t, "cpa", r.Metrics.CPA, 600)
	near(t, "cvr", r.Metrics.CVR, 5.0/30)
	near(t, "ctr", r.Metrics.CTR, 0.01)
	near(t, "cpc", r.Metrics.CPC, 100)
	near(t, "cpm", r.Metrics.CPM, 1000)
	if r.Evaluation == nil || r.Evaluation.Grades.CPA != kpi.NotEvaluated {
		t.Fatalf("grades must be not-evaluated without thresholds: %+v", r.Evaluation)
	}
	if r.Keys[models.ColCampaignName] != "X" || r.Keys[models.ColDeliveryMonth] != "2024/03" {
		t.Fatalf("unexpected keys %v", r.Keys)
	}
	if res.Summary.MonthRange == nil || res.Summary.MonthRange.From != "2024/03" {
		t.Fatalf("month range missing: %+v", res.Summary.MonthRange)
	}
}

func TestCampaignListGrades(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-03-01", campaign: "A", cost: 4000, impr: 10000, clicks: 100, conv: 5},
		fx{date: "2024-03-01", campaign: "B", objective: trafficObjective, cost: 4000, impr: 1000, clicks: 12, conv: 5},
		fx{date: "2024-03-01", campaign: "C", objective: "認知", cost: 1, impr: 1, clicks: 1, conv: 1},
	))
	e.threshold(t, models.KPIThreshold{KPIKey: key(convObjective), CPA: levels(700, 900, 1200)})
	e.threshold(t, models.KPIThreshold{KPIKey: key(trafficObjective), CPA: levels(700, 900, 1200), CTR: levels(0.02, 0.01, 0.005)})

	out, err := e.asm.Run(context.Background(), Request{View: CampaignList, Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := out.(*Result[KPIRow])
	if res.Status != StatusOK {
		t.Fatalf("status %s", res.Status)
	}
	if len(res.Summary.Warnings) != 1 {
		t.Fatalf("expected one kpi warning for the unknown key, got %v", res.Summary.Warnings)
	}
	byName := map[string]KPIRow{}
	for _, r := range res.Rows {
		byName[r.Keys[models.ColCampaignName]] = r
	}

	a := byName["A"].Evaluation
	if a.Grades.CPA != kpi.Good || a.Achievement != kpi.Achieved {
		t.Fatalf("CPA 800 against 700/900/1200 should be ○ and achieved, got %+v", a)
	}
	b := byName["B"].Evaluation
	if b.Grades.CPA != kpi.NotEvaluated || b.Grades.CVR != kpi.NotEvaluated {
		t.Fatalf("non-conversion objective must skip CPA and CVR, got %+v", b.Grades)
	}
	if b.Grades.CTR != kpi.Good {
		t.Fatalf("CTR 0.012 against 0.02/0.01/0.005 should be ○, got %s", b.Grades.CTR)
	}
	if b.Grades.CPC != kpi.NA {
		t.Fatalf("CPC without thresholds should be n/a, got %s", b.Grades.CPC)
	}
	if c := byName["C"].Evaluation; c.Grades.CTR != kpi.NotEvaluated || c.Achievement != kpi.AchievementSkipped {
		t.Fatalf("unknown key should be not-evaluated, got %+v", c)
	}
}

func TestAllAdsDivisionByZero(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-03-01", campaign: "Z", cost: 100, impr: 500, clicks: 0, conv: 0},
	))
	res, err := e.asm.AllAds(context.Background(), Request{Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := res.Rows[0].Metrics
	if m.CVR.Valid || m.CPC.Valid || m.CPA.Valid {
		t.Fatalf("zero denominators must be missing: %+v", m)
	}
	near(t, "ctr", m.CTR, 0)
	near(t, "cpm", m.CPM, 200)

	cells := res.Records()[0]
	if cells[4] != kpi.Placeholder {
		t.Fatalf("missing CPA must export as placeholder, got %q", cells[4])
	}
}

func TestAllAdsGradesOnlyUniformKey(t *testing.T) {
	e := newEnv(t, Config{})
	e.threshold(t, models.KPIThreshold{KPIKey: key(convObjective), CPA: levels(700, 900, 1200)})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-03-01", campaign: "A", cost: 500, impr: 100, clicks: 10, conv: 1},
		fx{date: "2024-03-01", campaign: "B", objective: trafficObjective, cost: 500, impr: 100, clicks: 10, conv: 1},
	))
	ctx := context.Background()

	res, err := e.asm.AllAds(ctx, Request{Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Rows[0].Evaluation != nil {
		t.Fatalf("mixed keys must not be graded")
	}
	near(t, "conversions", res.Rows[0].Conversions, 2)
	near(t, "campaigns", models.Some(float64(res.Rows[0].CampaignCount)), 2)

	req := Request{View: AllAdsKPI, Version: 1, Filter: filter.Spec{AdObjectives: []string{convObjective}}}
	out, err := e.asm.Run(ctx, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	row := out.(*Result[KPIRow]).Rows[0]
	if row.Evaluation == nil || row.Evaluation.Grades.CPA != kpi.Excellent {
		t.Fatalf("single key should be graded ◎, got %+v", row.Evaluation)
	}
}

func TestBlankCampaignIDFallsBackToName(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-03-01", campaign: "A", cost: 100, impr: 100, clicks: 10, conv: 3, noID: true},
		fx{date: "2024-03-02", campaign: "B", cost: 100, impr: 100, clicks: 10, conv: 4, noID: true},
		fx{date: "2024-03-03", campaign: "B", cost: 100, impr: 100, clicks: 10, conv: 5, noID: true},
	))

	res, err := e.asm.AllAds(context.Background(), Request{Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	r := res.Rows[0]
	near(t, "conversions", r.Conversions, 8)
	if r.CampaignCount != 2 {
		t.Fatalf("expected 2 campaigns, got %d", r.CampaignCount)
	}
}

func TestKeywordFilter(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-03-01", campaign: "A", adset: "Instagram_静止画_A", cost: 1, impr: 1, clicks: 1, conv: 1},
		fx{date: "2024-03-01", campaign: "A", adset: "Instagram_story_A", cost: 1, impr: 1, clicks: 1, conv: 1},
	))
	req := Request{View: CampaignAdsetList, Version: 1, Filter: filter.Spec{Keyword: "動画,静止画"}}
	out, err := e.asm.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := out.(*Result[KPIRow])
	if len(res.Rows) != 1 || res.Rows[0].Keys[models.ColAdsetName] != "Instagram_静止画_A" {
		t.Fatalf("keyword should keep only the still-image ad set, got %+v", res.Rows)
	}
}

func TestEmptyAfterFilter(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFacts, fx{date: "2024-03-01", campaign: "A", cost: 1, impr: 1, clicks: 1, conv: 1}))
	out, err := e.asm.Run(context.Background(), Request{View: CampaignList, Version: 1, Filter: filter.Spec{Clients: []string{"Nobody"}}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.StatusCode() != StatusEmpty || out.Len() != 0 {
		t.Fatalf("expected empty status, got %s with %d rows", out.StatusCode(), out.Len())
	}
	b, _ := json.Marshal(out)
	if !strings.Contains(string(b), `"rows":[]`) {
		t.Fatalf("empty rows must encode as an empty list: %s", b)
	}
}

func TestSchemaMismatch(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(&warehouse.Table{
		Name:    warehouse.TableAdFacts,
		Columns: []string{"date", "campaign_id", "cost", "impressions", "clicks", "conversions"},
		Rows:    [][]any{{"2024-03-01", "A", 1, 1, 1, 1}},
	})
	_, err := e.asm.Run(context.Background(), Request{View: CampaignList, Version: 1})
	if !errors.Is(err, warehouse.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	if StatusOf(err) != StatusSchemaMismatch {
		t.Fatalf("status of schema error: %q", StatusOf(err))
	}
	var se *warehouse.SchemaError
	if !errors.As(err, &se) || !strings.Contains(strings.Join(se.Missing, ","), "campaign_name") {
		t.Fatalf("missing columns not reported: %v", err)
	}
}

func TestClientDeepLink(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-03-01", campaign: "A", cost: 1, impr: 1, clicks: 1, conv: 1},
		fx{date: "2024-03-01", campaign: "B", client: "Beta", cost: 1, impr: 1, clicks: 1, conv: 1},
	))
	ctx := context.Background()
	out, err := e.asm.Run(ctx, Request{View: ClientKPI, Version: 1, ClientID: "acme-1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := out.(*Result[KPIRow])
	if got := res.Summary.Filter.Clients; len(got) != 1 || got[0] != "Acme" {
		t.Fatalf("deep link should populate the client filter, got %v", got)
	}
	if len(res.Rows) != 1 || res.Rows[0].Keys[models.ColClientName] != "Acme" {
		t.Fatalf("expected only Acme, got %+v", res.Rows)
	}

	if _, err := e.asm.Run(ctx, Request{View: ClientKPI, Version: 1, ClientID: "nope"}); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected unknown client, got %v", err)
	}
	if _, err := e.asm.Run(ctx, Request{View: "nope", Version: 1}); !errors.Is(err, ErrUnknownView) {
		t.Fatalf("expected unknown view, got %v", err)
	}
}

func TestDeterministicOrder(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-02-01", campaign: "B", cost: 1, impr: 1, clicks: 1, conv: 1},
		fx{date: "2024-03-01", campaign: "B", cost: 1, impr: 1, clicks: 1, conv: 1},
		fx{date: "2024-03-01", campaign: "A", cost: 1, impr: 1, clicks: 1, conv: 1},
	))
	ctx := context.Background()
	first, err := e.asm.Run(ctx, Request{View: CampaignList, Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	second, _ := e.asm.Run(ctx, Request{View: CampaignList, Version: 1})
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("same inputs must yield identical results")
	}
	var order []string
	for _, r := range first.(*Result[KPIRow]).Rows {
		order = append(order, r.Keys[models.ColDeliveryMonth]+" "+r.Keys[models.ColCampaignName])
	}
	want := "2024/03 A,2024/03 B,2024/02 B"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
}

func TestBannerGallery(t *testing.T) {
	e := newEnv(t, Config{MaxBannerGallery: 3})
	e.src.Put(&warehouse.Table{
		Name:    warehouse.TableBanners,
		Columns: []string{"campaign_name", "ad_name", "ad_number", "image_url", "cost", "impressions", "clicks", "conv_banner"},
		Rows: [][]any{
			{"A", "b1", 2, "https://img/1", 1000, 100, 10, 4},
			{"A", "b2", 1, "https://img/2", 1000, 100, 10, 1},
			{"A", "b3", 1, "https://img/3", 500, 100, 10, 1},
			{"A", "b4", nil, "https://img/4", 10, 100, 10, 9},
			{"A", "b5", 0, "", 10, 100, 10, 9},
		},
	})
	res, err := e.asm.BannerGallery(context.Background(), Request{Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var names []string
	for _, r := range res.Rows {
		names = append(names, r.AdName)
	}
	if got := strings.Join(names, ","); got != "b3,b2,b1" {
		t.Fatalf("gallery order = %s", got)
	}
	if len(res.Summary.Warnings) != 1 {
		t.Fatalf("truncation should warn, got %v", res.Summary.Warnings)
	}
	near(t, "cpa", res.Rows[0].Metrics.CPA, 500)
}

func TestUnitScoreRollups(t *testing.T) {
	e := newEnv(t, Config{})
	e.threshold(t, models.KPIThreshold{KPIKey: key(convObjective), CPA: levels(700, 900, 1200)})
	e.src.Put(factTable(warehouse.TableUnitDrive,
		fx{date: "2024-03-01", campaign: "c1", unit: "U1", cost: 1000, impr: 1, clicks: 1, conv: 2},
		fx{date: "2024-03-01", campaign: "c2", unit: "U1", cost: 3000, impr: 1, clicks: 1, conv: 2},
		fx{date: "2024-03-01", campaign: "c3", unit: "U1", cost: 3000, impr: 1, clicks: 1, conv: 2, target: 2000},
	))
	res, err := e.asm.UnitScore(context.Background(), Request{Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("expected three campaign rows, got %d", len(res.Rows))
	}
	got := map[string]kpi.Achievement{}
	for _, r := range res.Rows {
		got[r.CampaignID] = r.Achievement
	}
	if got["c1"] != kpi.Achieved || got["c2"] != kpi.Missed || got["c3"] != kpi.Achieved {
		t.Fatalf("achievements = %v", got)
	}
	rollups := res.Extras.([]Rollup)
	if len(rollups) != 2 || rollups[0].Owner != "" || rollups[1].Owner != "sato" {
		t.Fatalf("expected unit then owner rollup, got %+v", rollups)
	}
	if rollups[0].CampaignCount != 3 {
		t.Fatalf("campaign count = %d", rollups[0].CampaignCount)
	}
	near(t, "achievement rate", rollups[0].AchievementRate, 2.0/3)
}

func TestMarketMonitorRollsUpByPrefecture(t *testing.T) {
	e := newEnv(t, Config{})
	e.threshold(t, models.KPIThreshold{KPIKey: key(convObjective), CPA: levels(700, 900, 1200)})
	e.src.Put(factTable(warehouse.TableMarketMonthly,
		fx{date: "2024-03-01", campaign: "A", pref: "大阪府", cost: 500, impr: 1, clicks: 1, conv: 1},
		fx{date: "2024-03-01", campaign: "B", pref: "大阪府", cost: 5000, impr: 1, clicks: 1, conv: 1},
		fx{date: "2024-03-01", campaign: "C", pref: "東京都", cost: 500, impr: 1, clicks: 1, conv: 1},
	))
	res, err := e.asm.MarketMonitor(context.Background(), Request{Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rollups := res.Extras.([]Rollup)
	if len(rollups) != 2 || rollups[0].Prefecture != "大阪府" {
		t.Fatalf("unexpected rollups %+v", rollups)
	}
	near(t, "osaka", rollups[0].AchievementRate, 0.5)
	near(t, "tokyo", rollups[1].AchievementRate, 1)
}

func TestMonthlyTrend(t *testing.T) {
	e := newEnv(t, Config{})
	e.threshold(t, models.KPIThreshold{KPIKey: key(convObjective), CPA: levels(700, 900, 1200)})
	e.src.Put(factTable(warehouse.TableAdFacts,
		fx{date: "2024-01-10", campaign: "A", cost: 1000, impr: 1000, clicks: 10, conv: 2},
		fx{date: "2024-03-05", campaign: "A", cost: 2000, impr: 1000, clicks: 10, conv: 4},
	))
	res, err := e.asm.MonthlyTrend(context.Background(), Request{Version: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Rows) != 2 || res.Rows[0].Month != "2024/01" || res.Rows[1].Month != "2024/03" {
		t.Fatalf("unexpected months %+v", res.Rows)
	}
	extras := res.Extras.(TrendExtras)
	if len(extras.Series) != len(kpi.AllMetrics) {
		t.Fatalf("expected one series per metric")
	}
	cpa := extras.Series[0]
	if len(cpa.Actual) != 3 {
		t.Fatalf("axis should run Jan..Mar, got %d points", len(cpa.Actual))
	}
	if cpa.Actual[1].Value.Valid {
		t.Fatalf("february must be a gap")
	}
	near(t, "jan cpa", cpa.Actual[0].Value, 500)
	near(t, "target", cpa.Target[0].Value, 900)
	if cpa.PriorYear != nil {
		t.Fatalf("prior year overlay is off by default")
	}
}

func TestOptions(t *testing.T) {
	e := newEnv(t, Config{})
	e.src.Put(factTable(warehouse.TableAdFactsLast,
		fx{date: "2024-03-01", campaign: "A", pref: "大阪府", cost: 1, impr: 1, clicks: 1, conv: 1},
		fx{date: "2024-03-01", campaign: "B", pref: "東京都", cost: 1, impr: 1, clicks: 1, conv: 1},
	))
	opts, err := e.asm.Options(context.Background(), 1)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if got := strings.Join(opts["prefectures"], ","); got != "大阪府,東京都" {
		t.Fatalf("prefectures = %s", got)
	}
}

func TestCancelledRequest(t *testing.T) {
	e := newEnv(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.asm.Run(ctx, Request{View: AllAdsKPI, Version: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
