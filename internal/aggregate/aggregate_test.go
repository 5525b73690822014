package aggregate

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/radiusdt/adperf/internal/models"
)

func day(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

func row(campaign string, d int, cost, clicks, conv float64) models.AdFact {
	f := models.AdFact{
		Dimensions:  models.Dimensions{CampaignID: campaign, CampaignName: campaign, DeliveryMonth: "2024/03", AdsetName: "as-" + campaign},
		Cost:        models.Some(cost),
		Clicks:      models.Some(clicks),
		Conversions: models.Some(conv),
	}
	if d > 0 {
		f.Date, f.HasDate = day(d), true
	}
	return f
}

var kpiSpec = []Column{
	{Name: "cost", Op: Sum},
	{Name: "clicks", Op: Sum},
	{Name: "conversions", Op: Latest, Entity: []string{models.ColCampaignID}},
}

func TestLatestResolvesCumulativeConversions(t *testing.T) {
	rows := []models.AdFact{row("X", 1, 1000, 10, 2), row("X", 2, 2000, 20, 5)}
	res, err := Aggregate(rows, []string{models.ColCampaignName, models.ColDeliveryMonth}, kpiSpec)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(res.Groups) != 1 {
		t.Fatalf("expected one group, got %d", len(res.Groups))
	}
	g := res.Groups[0]
	if g.Get("cost").Value != 3000 || g.Get("clicks").Value != 30 {
		t.Fatalf("unexpected sums: %+v", g.Values)
	}
	if g.Get("conversions").Value != 5 {
		t.Fatalf("conversions must be the latest value 5, got %v", g.Get("conversions"))
	}
}

func TestLatestSumsAcrossEntities(t *testing.T) {
	rows := []models.AdFact{
		row("X", 1, 100, 1, 2),
		row("Y", 3, 100, 1, 4),
		row("X", 4, 100, 1, 3),
		row("Y", 2, 100, 1, 9),
		row("Y", 0, 100, 1, 50),
	}
	for i := range rows {
		rows[i].CampaignName = "all"
	}
	res, err := Aggregate(rows, nil, kpiSpec)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if got := res.Groups[0].Get("conversions").Value; got != 7 {
		t.Fatalf("expected 3 + 4, got %v", got)
	}
	if got := res.Groups[0].Get("cost").Value; got != 500 {
		t.Fatalf("undated rows still count for sums, got %v", got)
	}
}

func TestLatestRowsTiesAndMissingTime(t *testing.T) {
	rows := []models.AdFact{
		row("X", 2, 1, 0, 10),
		row("X", 2, 2, 0, 20),
		row("X", 0, 3, 0, 99),
		row("Y", 0, 4, 0, 1),
		row("Z", 1, 5, 0, 1),
	}
	got := LatestRows(rows, []string{models.ColCampaignID}, models.ColDate)
	if len(got) != 2 {
		t.Fatalf("expected X and Z, got %d rows", len(got))
	}
	if got[0].CampaignID != "X" || got[0].Cost.Value != 1 {
		t.Fatalf("tie must keep first row, got %+v", got[0])
	}
	if got[1].CampaignID != "Z" {
		t.Fatalf("unexpected second entity %s", got[1].CampaignID)
	}
}

func TestLatestRowsPicksMaxTime(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var rows []models.AdFact
	maxDay := map[string]int{}
	for i := 0; i < 200; i++ {
		c := string(rune('A' + r.Intn(5)))
		d := 1 + r.Intn(28)
		rows = append(rows, row(c, d, 1, 1, float64(d)))
		if d > maxDay[c] {
			maxDay[c] = d
		}
	}
	for _, lr := range LatestRows(rows, []string{models.ColCampaignID}, models.ColDate) {
		if lr.Date.Day() != maxDay[lr.CampaignID] {
			t.Fatalf("entity %s: got day %d, want %d", lr.CampaignID, lr.Date.Day(), maxDay[lr.CampaignID])
		}
	}
}

func TestSumIsPartitionConsistent(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	var rows []models.AdFact
	for i := 0; i < 100; i++ {
		f := row(string(rune('A'+r.Intn(4))), 1+r.Intn(20), float64(r.Intn(1000)), float64(r.Intn(50)), 0)
		if r.Intn(5) == 0 {
			f.Cost = models.Missing
		}
		rows = append(rows, f)
	}
	spec := []Column{{Name: "cost", Op: Sum}, {Name: "clicks", Op: Sum}}
	whole, _ := Aggregate(rows, nil, spec)
	parts, _ := Aggregate(rows, []string{models.ColCampaignID}, spec)

	var cost, clicks models.Num
	for _, g := range parts.Groups {
		cost = cost.Add(g.Get("cost"))
		clicks = clicks.Add(g.Get("clicks"))
	}
	if cost != whole.Groups[0].Get("cost") || clicks != whole.Groups[0].Get("clicks") {
		t.Fatalf("partition sums %v/%v differ from whole %+v", cost, clicks, whole.Groups[0].Values)
	}
}

func TestGroupsInFirstSeenOrderWithColumns(t *testing.T) {
	rows := []models.AdFact{row("B", 1, 1, 1, 1), row("A", 1, 1, 1, 1), row("B", 2, 1, 1, 1)}
	res, err := Aggregate(rows, []string{models.ColCampaignName}, []Column{
		{Name: "cost", Op: Sum},
		{Name: "adset", Source: models.ColAdsetName, Op: Last},
		{Name: "target_cpa", Op: Max},
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if res.Groups[0].Keys[0] != "B" || res.Groups[1].Keys[0] != "A" {
		t.Fatalf("unexpected order: %+v", res.Groups)
	}
	want := []string{"campaign_name", "cost", "adset", "target_cpa"}
	for i, c := range want {
		if res.Columns[i] != c {
			t.Fatalf("columns = %v, want %v", res.Columns, want)
		}
	}
	if res.Groups[0].Labels["adset"] != "as-B" {
		t.Fatalf("last label: %+v", res.Groups[0].Labels)
	}
	if res.Groups[0].Get("target_cpa").Valid {
		t.Fatalf("max of missing values must stay missing")
	}
	if res.Groups[0].Size != 2 {
		t.Fatalf("size = %d", res.Groups[0].Size)
	}
}

func TestZeroMassGroupAppears(t *testing.T) {
	f := row("X", 1, 0, 0, 0)
	f.Cost, f.Clicks, f.Conversions = models.Missing, models.Missing, models.Missing
	res, err := Aggregate([]models.AdFact{f}, []string{models.ColCampaignName}, kpiSpec)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(res.Groups) != 1 || res.Groups[0].Get("cost").Valid {
		t.Fatalf("expected one group with missing cost, got %+v", res.Groups)
	}
}

func TestUnknownColumn(t *testing.T) {
	_, err := Aggregate([]models.AdFact(nil), []string{"nope"}, kpiSpec)
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected unknown column, got %v", err)
	}
	_, err = Aggregate([]models.BannerFact(nil), nil, []Column{{Name: "budget", Op: Sum}})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected unknown measure, got %v", err)
	}
}

func TestCountDistinct(t *testing.T) {
	rows := []models.AdFact{row("X", 1, 1, 1, 1), row("Y", 1, 1, 1, 1), row("X", 2, 1, 1, 1), row("", 3, 1, 1, 1)}
	spec := []Column{{Name: "campaigns", Source: models.ColCampaignID, Op: CountDistinct}}
	res, err := Aggregate(rows, nil, spec)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if got := res.Groups[0].Get("campaigns"); got != models.Some(2) {
		t.Fatalf("blank ids must not count, got %v", got)
	}
}

func TestFallbackEntityForBlankID(t *testing.T) {
	rows := []models.AdFact{row("A", 1, 0, 0, 3), row("B", 2, 0, 0, 4), row("B", 3, 0, 0, 6), row("C", 1, 0, 0, 1)}
	rows[0].CampaignID, rows[1].CampaignID, rows[2].CampaignID = "", "", models.Unset
	spec := []Column{
		{Name: "conversions", Op: Latest, Entity: []string{models.ColCampaignID}, Fallback: models.ColCampaignName},
		{Name: "campaigns", Source: models.ColCampaignID, Op: CountDistinct, Fallback: models.ColCampaignName},
	}
	res, err := Aggregate(rows, nil, spec)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	g := res.Groups[0]
	if got := g.Get("conversions").Value; got != 10 {
		t.Fatalf("expected 3+6+1, got %v", got)
	}
	if got := g.Get("campaigns").Value; got != 3 {
		t.Fatalf("expected 3 campaigns, got %v", got)
	}
}
