package views

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/models"
)

// tableView describes a grouped KPI view.
type tableView struct {
	view    View
	groupBy []string
	// extra entity columns for conversion resolution beyond the campaign.
	entity []string
	// order lists sort columns; a leading "-" sorts descending.
	order []string
	// uniform grades a group only when all its rows share one KPI key.
	uniform bool
}

// AllAds is the single-row KPI summary of the filtered facts.
func (a *Assembler) AllAds(ctx context.Context, req Request) (*Result[KPIRow], error) {
	return a.kpiTable(ctx, req, tableView{view: AllAdsKPI, uniform: true})
}

// ClientKPI is all-ads-kpi per client.
func (a *Assembler) ClientKPI(ctx context.Context, req Request) (*Result[KPIRow], error) {
	return a.kpiTable(ctx, req, tableView{
		view:    ClientKPI,
		groupBy: []string{models.ColClientName},
		order:   []string{models.ColClientName},
		uniform: true,
	})
}

// Campaigns lists campaigns per delivery month, newest month first.
func (a *Assembler) Campaigns(ctx context.Context, req Request) (*Result[KPIRow], error) {
	return a.kpiTable(ctx, req, tableView{
		view:    CampaignList,
		groupBy: []string{models.ColCampaignName, models.ColDeliveryMonth},
		order:   []string{"-" + models.ColDeliveryMonth, models.ColCampaignName},
	})
}

// CampaignAdsets lists ad sets per campaign and delivery month.
func (a *Assembler) CampaignAdsets(ctx context.Context, req Request) (*Result[KPIRow], error) {
	return a.kpiTable(ctx, req, tableView{
		view:    CampaignAdsetList,
		groupBy: []string{models.ColCampaignName, models.ColAdsetName, models.ColDeliveryMonth},
		entity:  []string{models.ColAdsetName},
		order:   []string{"-" + models.ColDeliveryMonth, models.ColCampaignName, models.ColAdsetName},
	})
}

// LPScore grades landing pages, highest spend first.
func (a *Assembler) LPScore(ctx context.Context, req Request) (*Result[KPIRow], error) {
	return a.kpiTable(ctx, req, tableView{
		view:    LPScore,
		groupBy: []string{models.ColLandingURL},
		order:   []string{"-" + models.ColCost, models.ColLandingURL},
	})
}

var marketGroupBy = []string{
	models.ColDeliveryMonth,
	models.ColPrefecture,
	models.ColMainCategory,
	models.ColSubCategory,
	models.ColAdObjective,
	models.ColCampaignName,
}

// MarketMonitor grades campaigns per month and market, with achievement
// rates rolled up by prefecture.
func (a *Assembler) MarketMonitor(ctx context.Context, req Request) (*Result[KPIRow], error) {
	res, err := a.kpiTable(ctx, req, tableView{
		view:    MarketMonitor,
		groupBy: marketGroupBy,
		order:   append([]string{"-" + models.ColDeliveryMonth}, marketGroupBy[1:]...),
	})
	if err != nil {
		return nil, err
	}

	byPref := make(map[string]*Rollup)
	campaigns := make(map[string]map[string]struct{})
	outcomes := make(map[string][]kpi.Achievement)
	for _, r := range res.Rows {
		p := r.Keys[models.ColPrefecture]
		if byPref[p] == nil {
			byPref[p] = &Rollup{Prefecture: p}
			campaigns[p] = make(map[string]struct{})
		}
		campaigns[p][r.Keys[models.ColCampaignName]] = struct{}{}
		if r.Evaluation != nil {
			outcomes[p] = append(outcomes[p], r.Evaluation.Achievement)
		}
	}
	rollups := make([]Rollup, 0, len(byPref))
	for p, ru := range byPref {
		ru.CampaignCount = len(campaigns[p])
		tally(ru, outcomes[p])
		rollups = append(rollups, *ru)
	}
	slices.SortFunc(rollups, func(x, y Rollup) int { return cmpKey(x.Prefecture, y.Prefecture, false) })
	res.Extras = rollups
	return res, nil
}

func tally(r *Rollup, outcomes []kpi.Achievement) {
	for _, o := range outcomes {
		switch o {
		case kpi.Achieved:
			r.Achieved++
			r.Evaluated++
		case kpi.Missed:
			r.Evaluated++
		}
	}
	r.AchievementRate = kpi.AchievementRate(outcomes)
}

func (a *Assembler) kpiTable(ctx context.Context, req Request, tv tableView) (*Result[KPIRow], error) {
	f, err := a.facts(ctx, tv.view, req, tv.groupBy...)
	if err != nil {
		return nil, err
	}
	ev, err := a.evaluator(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := entity(f.cols, tv.entity...)
	agg, err := aggregateFrame(f, tv.groupBy, kpiSpec(f.cols, key))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var uniform map[string]models.KPIKey
	if tv.uniform {
		uniform = uniformKeys(f.rows, tv.groupBy)
	}
	g := newGrader(ev)
	res := &Result[KPIRow]{View: tv.view, Summary: f.summary, GroupBy: tv.groupBy, Rows: make([]KPIRow, 0, len(agg.Groups))}
	mixed := 0
	for i := range agg.Groups {
		grp := &agg.Groups[i]
		row := kpiRow(&agg, grp)
		switch {
		case !tv.uniform:
			row.Evaluation = g.grade(groupKPIKey(grp), row.Metrics, row.TargetCPA)
		default:
			if k, ok := uniform[strings.Join(grp.Keys, keySep)]; ok {
				row.Evaluation = g.grade(k, row.Metrics, row.TargetCPA)
			} else {
				mixed++
			}
		}
		res.Rows = append(res.Rows, row)
	}
	sortRows(res.Rows, tv.order)
	finish(res, g)
	if mixed > 0 {
		res.Summary.warn("%d row(s) span several kpi keys and are not graded", mixed)
	}
	return res, nil
}

const keySep = "\x1f"

// uniformKeys maps each group to the KPI key shared by all its rows.
// Groups whose rows disagree are absent.
func uniformKeys(rows []models.AdFact, groupBy []string) map[string]models.KPIKey {
	keys := make(map[string]models.KPIKey)
	mixed := make(map[string]bool)
	vals := make([]string, len(groupBy))
	for i := range rows {
		r := &rows[i]
		for j, c := range groupBy {
			v, _ := r.Dim(c)
			if v == "" {
				v = models.Unset
			}
			vals[j] = v
		}
		gk := strings.Join(vals, keySep)
		k := r.KPIKey()
		if prev, ok := keys[gk]; !ok {
			keys[gk] = k
		} else if prev != k {
			mixed[gk] = true
		}
	}
	for gk := range mixed {
		delete(keys, gk)
	}
	return keys
}

func sortRows(rows []KPIRow, order []string) {
	slices.SortStableFunc(rows, func(x, y KPIRow) int {
		for _, c := range order {
			desc := strings.HasPrefix(c, "-")
			c = strings.TrimPrefix(c, "-")
			var d int
			if c == models.ColCost {
				d = cmpNum(x.Cost, y.Cost, desc)
			} else {
				d = cmpKey(x.Keys[c], y.Keys[c], desc)
			}
			if d != 0 {
				return d
			}
		}
		return 0
	})
}

// cmpNum orders missing values last in either direction.
func cmpNum(x, y models.Num, desc bool) int {
	switch {
	case !x.Valid && !y.Valid:
		return 0
	case !x.Valid:
		return 1
	case !y.Valid:
		return -1
	}
	if desc {
		return cmp.Compare(y.Value, x.Value)
	}
	return cmp.Compare(x.Value, y.Value)
}

// cmpKey orders the unset bucket last in either direction.
func cmpKey(x, y string, desc bool) int {
	switch {
	case x == y:
		return 0
	case x == models.Unset:
		return 1
	case y == models.Unset:
		return -1
	}
	if desc {
		return strings.Compare(y, x)
	}
	return strings.Compare(x, y)
}
