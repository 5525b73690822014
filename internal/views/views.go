// Package views assembles the named dashboard views from loaded fact rows:
// filter, snapshot resolution, aggregation, metric derivation and grading.
package views

import (
	"errors"
	"fmt"
	"strings"

	"github.com/radiusdt/adperf/internal/filter"
	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/models"
	"github.com/radiusdt/adperf/internal/warehouse"
)

// View identifies a named view.
type View string

const (
	AllAdsKPI         View = "all-ads-kpi"
	ClientKPI         View = "client-kpi"
	CampaignList      View = "campaign-list"
	CampaignAdsetList View = "campaign-adset-list"
	MonthlyTrend      View = "monthly-trend"
	BannerGallery     View = "banner-gallery"
	LPScore           View = "lp-score"
	UnitScore         View = "unit-score"
	MarketMonitor     View = "market-monitor"
)

// All lists every view in menu order.
var All = []View{AllAdsKPI, ClientKPI, CampaignList, CampaignAdsetList, MonthlyTrend, BannerGallery, LPScore, UnitScore, MarketMonitor}

// DefaultTables maps each view to the warehouse table it reads.
var DefaultTables = map[View]string{
	AllAdsKPI:         warehouse.TableAdFacts,
	ClientKPI:         warehouse.TableAdFacts,
	CampaignList:      warehouse.TableAdFacts,
	CampaignAdsetList: warehouse.TableAdFacts,
	MonthlyTrend:      warehouse.TableAdFacts,
	BannerGallery:     warehouse.TableBanners,
	LPScore:           warehouse.TableLPScore,
	UnitScore:         warehouse.TableUnitDrive,
	MarketMonitor:     warehouse.TableMarketMonthly,
}

var (
	ErrUnknownView   = errors.New("unknown view")
	ErrUnknownClient = errors.New("unknown client_id")
)

// ParseView validates a view id.
func ParseView(s string) (View, error) {
	for _, v := range All {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, s)
}

// Status is the inline outcome of a view.
type Status string

const (
	StatusOK             Status = "ok"
	StatusEmpty          Status = "empty"
	StatusSchemaMismatch Status = "schema_mismatch"
	StatusKPIMissing     Status = "kpi_missing"
)

// StatusOf maps an assembly error to the status reported alongside it.
func StatusOf(err error) Status {
	if errors.Is(err, warehouse.ErrSchemaMismatch) {
		return StatusSchemaMismatch
	}
	return ""
}

// Request selects a view. A zero Version means the caller resolved none;
// ClientID, when set, narrows the filter to that client.
type Request struct {
	View     View        `json:"view"`
	Filter   filter.Spec `json:"filter"`
	Version  int64       `json:"version"`
	ClientID string      `json:"client_id,omitempty"`
}

// MonthRange is the effective delivery month span of the filtered rows.
type MonthRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Summary is the header of every result.
type Summary struct {
	Filter          filter.Spec `json:"filter"`
	MonthRange      *MonthRange `json:"delivery_month_range,omitempty"`
	SnapshotVersion int64       `json:"snapshot_version"`
	Warnings        []string    `json:"warnings,omitempty"`
}

func (s *Summary) warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Record is a typed output row that can be flattened for export.
type Record interface {
	Header(groupBy []string) []string
	Cells(groupBy []string) []string
}

// Result is a typed view result.
type Result[T Record] struct {
	View    View     `json:"view"`
	Status  Status   `json:"status"`
	Summary Summary  `json:"summary"`
	GroupBy []string `json:"group_by,omitempty"`
	Rows    []T      `json:"rows"`
	Extras  any      `json:"extras,omitempty"`
}

// Output is the type-erased view result used by transports.
type Output interface {
	ViewID() View
	StatusCode() Status
	Len() int
	Header() []string
	Records() [][]string
}

// ViewID returns the view the result was built for.
func (r *Result[T]) ViewID() View       { return r.View }
// StatusCode returns the result status.
func (r *Result[T]) StatusCode() Status { return r.Status }
// Len returns the number of rows.
func (r *Result[T]) Len() int           { return len(r.Rows) }

// Header returns the export column names.
func (r *Result[T]) Header() []string {
	var zero T
	return zero.Header(r.GroupBy)
}

// Records renders every row as display strings in Header order.
func (r *Result[T]) Records() [][]string {
	out := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Cells(r.GroupBy)
	}
	return out
}

var metricHeader = []string{"cost", "impressions", "clicks", "conversions", "cpa", "cvr", "ctr", "cpc", "cpm"}

func metricCells(t kpi.Totals, v kpi.Values) []string {
	return []string{
		kpi.FormatInt(t.Cost),
		kpi.FormatInt(t.Impressions),
		kpi.FormatInt(t.Clicks),
		kpi.FormatInt(t.Conversions),
		kpi.Format(kpi.CPA, v.CPA),
		kpi.Format(kpi.CVR, v.CVR),
		kpi.Format(kpi.CTR, v.CTR),
		kpi.Format(kpi.CPC, v.CPC),
		kpi.Format(kpi.CPM, v.CPM),
	}
}

var gradeHeader = []string{"cpa_grade", "cvr_grade", "ctr_grade", "cpc_grade", "cpm_grade", "achievement"}

func gradeCells(ev *kpi.Evaluation) []string {
	if ev == nil {
		return []string{"", "", "", "", "", ""}
	}
	g := ev.Grades
	return []string{string(g.CPA), string(g.CVR), string(g.CTR), string(g.CPC), string(g.CPM), string(ev.Achievement)}
}

// KPIRow is an aggregated, graded row keyed by the view's group-by.
type KPIRow struct {
	Keys          map[string]string `json:"keys"`
	Cost          models.Num        `json:"cost"`
	Impressions   models.Num        `json:"impressions"`
	Clicks        models.Num        `json:"clicks"`
	Conversions   models.Num        `json:"conversions"`
	Reach         models.Num        `json:"reach"`
	Budget        models.Num        `json:"budget"`
	Fee           models.Num        `json:"fee"`
	TargetCPA     models.Num        `json:"target_cpa"`
	Metrics       kpi.Values        `json:"metrics"`
	Evaluation    *kpi.Evaluation   `json:"evaluation,omitempty"`
	CampaignCount int               `json:"campaign_count"`
}

func (r KPIRow) totals() kpi.Totals {
	return kpi.Totals{Cost: r.Cost, Impressions: r.Impressions, Clicks: r.Clicks, Conversions: r.Conversions}
}

// Header lists the group-by columns followed by measures, metrics and grades.
func (KPIRow) Header(groupBy []string) []string {
	h := append([]string(nil), groupBy...)
	h = append(h, metricHeader...)
	return append(h, gradeHeader...)
}

// Cells renders the row in Header order.
func (r KPIRow) Cells(groupBy []string) []string {
	c := make([]string, 0, len(groupBy)+len(metricHeader)+len(gradeHeader))
	for _, g := range groupBy {
		c = append(c, r.Keys[g])
	}
	c = append(c, metricCells(r.totals(), r.Metrics)...)
	return append(c, gradeCells(r.Evaluation)...)
}

// BannerRow is one creative of the gallery.
type BannerRow struct {
	CampaignName    string     `json:"campaign_name"`
	AdsetName       string     `json:"adset_name"`
	AdName          string     `json:"ad_name"`
	AdNumber        *int       `json:"ad_number"`
	ImageURL        string     `json:"image_url"`
	CanvaURL        string     `json:"canva_url,omitempty"`
	LandingURL      string     `json:"landing_url,omitempty"`
	DescriptionText string     `json:"description_text,omitempty"`
	Cost            models.Num `json:"cost"`
	Impressions     models.Num `json:"impressions"`
	Clicks          models.Num `json:"clicks"`
	ConvBanner      models.Num `json:"conv_banner"`
	Metrics         kpi.Values `json:"metrics"`
}

func (BannerRow) Header([]string) []string {
	h := []string{"campaign_name", "adset_name", "ad_name", "ad_number", "image_url"}
	return append(h, metricHeader...)
}

func (r BannerRow) Cells([]string) []string {
	n := ""
	if r.AdNumber != nil {
		n = fmt.Sprint(*r.AdNumber)
	}
	c := []string{r.CampaignName, r.AdsetName, r.AdName, n, r.ImageURL}
	return append(c, metricCells(kpi.Totals{Cost: r.Cost, Impressions: r.Impressions, Clicks: r.Clicks, Conversions: r.ConvBanner}, r.Metrics)...)
}

// UnitScoreRow is one (unit, owner, campaign, month) line.
type UnitScoreRow struct {
	Unit          string          `json:"unit"`
	Owner         string          `json:"owner"`
	CampaignID    string          `json:"campaign_id"`
	CampaignName  string          `json:"campaign_name"`
	DeliveryMonth string          `json:"delivery_month"`
	Cost          models.Num      `json:"cost"`
	Budget        models.Num      `json:"budget"`
	Fee           models.Num      `json:"fee"`
	Conversions   models.Num      `json:"conversions"`
	CPA           models.Num      `json:"cpa"`
	TargetCPA     models.Num      `json:"target_cpa"`
	CPAGrade      kpi.Grade       `json:"cpa_grade"`
	Achievement   kpi.Achievement `json:"achievement"`
}

func (UnitScoreRow) Header([]string) []string {
	return []string{"unit", "owner", "campaign_id", "campaign_name", "delivery_month", "cost", "budget", "fee", "conversions", "cpa", "target_cpa", "cpa_grade", "achievement"}
}

func (r UnitScoreRow) Cells([]string) []string {
	return []string{
		r.Unit, r.Owner, r.CampaignID, r.CampaignName, r.DeliveryMonth,
		kpi.FormatInt(r.Cost), kpi.FormatInt(r.Budget), kpi.FormatInt(r.Fee), kpi.FormatInt(r.Conversions),
		kpi.Format(kpi.CPA, r.CPA), kpi.FormatInt(r.TargetCPA), string(r.CPAGrade), string(r.Achievement),
	}
}

// Rollup is an achievement summary over a set of campaign rows. Owner is
// empty for the unit-level line.
type Rollup struct {
	Unit            string     `json:"unit,omitempty"`
	Owner           string     `json:"owner,omitempty"`
	Prefecture      string     `json:"prefecture,omitempty"`
	CampaignCount   int        `json:"campaign_count"`
	Achieved        int        `json:"achieved"`
	Evaluated       int        `json:"evaluated"`
	AchievementRate models.Num `json:"achievement_rate"`
}

// TrendRow is one month of the monthly trend.
type TrendRow struct {
	Month       string     `json:"month"`
	Cost        models.Num `json:"cost"`
	Impressions models.Num `json:"impressions"`
	Clicks      models.Num `json:"clicks"`
	Conversions models.Num `json:"conversions"`
	Metrics     kpi.Values `json:"metrics"`
}

func (TrendRow) Header([]string) []string {
	return append([]string{"month"}, metricHeader...)
}

func (r TrendRow) Cells([]string) []string {
	return append([]string{r.Month}, metricCells(kpi.Totals{Cost: r.Cost, Impressions: r.Impressions, Clicks: r.Clicks, Conversions: r.Conversions}, r.Metrics)...)
}

// monthLayout converts a YYYY/MM style pattern to a Go layout.
func monthLayout(format string) string {
	if format == "" {
		return models.MonthLayout
	}
	r := strings.NewReplacer("YYYY", "2006", "MM", "01")
	return r.Replace(format)
}
