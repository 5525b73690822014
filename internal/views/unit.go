package views

import (
	"context"
	"slices"

	"github.com/radiusdt/adperf/internal/aggregate"
	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/models"
)

var unitGroupBy = []string{models.ColUnit, models.ColOwner, models.ColCampaignID, models.ColDeliveryMonth}

// UnitScore scores each campaign-month of every unit and owner. Extras
// holds the per-unit and per-owner rollups.
func (a *Assembler) UnitScore(ctx context.Context, req Request) (*Result[UnitScoreRow], error) {
	f, err := a.facts(ctx, UnitScore, req, unitGroupBy...)
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

	spec := []aggregate.Column{
		{Name: models.ColCost, Op: aggregate.Sum},
		{Name: models.ColClicks, Op: aggregate.Sum},
		{Name: models.ColBudget, Op: aggregate.Sum},
		{Name: models.ColFee, Op: aggregate.Sum},
		conversions(f.cols, []string{models.ColCampaignID}),
		{Name: models.ColTargetCPA, Op: aggregate.Max},
		{Name: models.ColCampaignName, Op: aggregate.Last},
		{Name: models.ColMedium, Op: aggregate.Last},
		{Name: models.ColMainCategory, Op: aggregate.Last},
		{Name: models.ColSubCategory, Op: aggregate.Last},
		{Name: models.ColAdObjective, Op: aggregate.Last},
	}
	agg, err := aggregateFrame(f, unitGroupBy, spec)
	if err != nil {
		return nil, err
	}

	g := newGrader(ev)
	res := &Result[UnitScoreRow]{View: UnitScore, Summary: f.summary, Rows: make([]UnitScoreRow, 0, len(agg.Groups))}
	for i := range agg.Groups {
		grp := &agg.Groups[i]
		t := kpi.Totals{Cost: grp.Get(models.ColCost), Clicks: grp.Get(models.ColClicks), Conversions: grp.Get(models.ColConversions)}
		v := kpi.Compute(t)
		e := g.grade(groupKPIKey(grp), v, grp.Get(models.ColTargetCPA))
		res.Rows = append(res.Rows, UnitScoreRow{
			Unit:          agg.Key(grp, models.ColUnit),
			Owner:         agg.Key(grp, models.ColOwner),
			CampaignID:    agg.Key(grp, models.ColCampaignID),
			CampaignName:  grp.Labels[models.ColCampaignName],
			DeliveryMonth: agg.Key(grp, models.ColDeliveryMonth),
			Cost:          t.Cost,
			Budget:        grp.Get(models.ColBudget),
			Fee:           grp.Get(models.ColFee),
			Conversions:   t.Conversions,
			CPA:           v.CPA,
			TargetCPA:     grp.Get(models.ColTargetCPA),
			CPAGrade:      e.Grades.CPA,
			Achievement:   e.Achievement,
		})
	}
	slices.SortStableFunc(res.Rows, func(x, y UnitScoreRow) int {
		if d := cmpKey(x.Unit, y.Unit, false); d != 0 {
			return d
		}
		if d := cmpKey(x.Owner, y.Owner, false); d != 0 {
			return d
		}
		if d := cmpKey(x.DeliveryMonth, y.DeliveryMonth, true); d != 0 {
			return d
		}
		return cmpKey(x.CampaignID, y.CampaignID, false)
	})
	res.Extras = unitRollups(res.Rows)
	finish(res, g)
	return res, nil
}

// unitRollups summarizes rows, which must be sorted by unit then owner,
// into one line per unit followed by its owners.
func unitRollups(rows []UnitScoreRow) []Rollup {
	var out []Rollup
	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && rows[j].Unit == rows[i].Unit {
			j++
		}
		out = append(out, rollup(rows[i:j], rows[i].Unit, ""))
		for k := i; k < j; {
			l := k
			for l < j && rows[l].Owner == rows[k].Owner {
				l++
			}
			out = append(out, rollup(rows[k:l], rows[k].Unit, rows[k].Owner))
			k = l
		}
		i = j
	}
	return out
}

func rollup(rows []UnitScoreRow, unit, owner string) Rollup {
	r := Rollup{Unit: unit, Owner: owner}
	seen := make(map[string]struct{})
	outcomes := make([]kpi.Achievement, 0, len(rows))
	for _, row := range rows {
		if row.CampaignID != models.Unset {
			seen[row.CampaignID] = struct{}{}
		}
		outcomes = append(outcomes, row.Achievement)
	}
	r.CampaignCount = len(seen)
	tally(&r, outcomes)
	return r
}
