package warehouse

import (
	"strings"
	"time"

	"github.com/radiusdt/adperf/internal/models"
)

// Required columns per decoded row type. Views check their own group-by
// columns on top of these.
var (
	RequiredAdFact    = []string{models.ColCost, models.ColImpressions, models.ColClicks, models.ColConversions}
	RequiredBanner    = []string{models.ColCampaignName, models.ColCost, models.ColImpressions, models.ColClicks, models.ColConvBanner}
	RequiredThreshold = []string{models.ColMedium, models.ColMainCategory, models.ColSubCategory, models.ColAdObjective}
	RequiredClient    = []string{models.ColClientName}
	RequiredUnit      = []string{models.ColOwner, models.ColUnit, "start_month"}
)

type record struct {
	idx  map[string]int
	vals []any
}

func (r record) get(col string) any {
	i, ok := r.idx[col]
	if !ok || i >= len(r.vals) {
		return nil
	}
	return r.vals[i]
}

func (r record) str(col string) string { return ToString(r.get(col)) }

func (r record) num(col string) models.Num { return ToNum(r.get(col)) }

func index(t *Table, required []string) (map[string]int, models.Columns, error) {
	idx := make(map[string]int, len(t.Columns))
	cols := models.NewColumns()
	for i, c := range t.Columns {
		name := strings.ToLower(strings.TrimSpace(c))
		if _, dup := idx[name]; dup {
			continue
		}
		idx[name] = i
		cols.Add(name)
	}
	if missing := cols.Missing(required); len(missing) > 0 {
		return nil, nil, &SchemaError{Table: t.Name, Missing: missing}
	}
	return idx, cols, nil
}

func each(t *Table, idx map[string]int, fn func(record)) {
	for _, row := range t.Rows {
		fn(record{idx: idx, vals: row})
	}
}

func decodeDimensions(r record) models.Dimensions {
	month, _, ok := ToMonth(r.get(models.ColDeliveryMonth))
	if !ok {
		month = models.Unset
	}
	return models.Dimensions{
		CampaignID:      r.str(models.ColCampaignID),
		CampaignName:    r.str(models.ColCampaignName),
		AdsetName:       r.str(models.ColAdsetName),
		AdName:          r.str(models.ColAdName),
		ClientName:      r.str(models.ColClientName),
		DeliveryMonth:   month,
		Medium:          OrUnset(r.str(models.ColMedium)),
		MainCategory:    OrUnset(r.str(models.ColMainCategory)),
		SubCategory:     OrUnset(r.str(models.ColSubCategory)),
		SpecialCategory: r.str(models.ColSpecialCategory),
		AdObjective:     OrUnset(r.str(models.ColAdObjective)),
		Prefecture:      OrUnset(r.str(models.ColPrefecture)),
		Region:          OrUnset(r.str(models.ColRegion)),
		Owner:           OrUnset(r.str(models.ColOwner)),
		Unit:            OrUnset(r.str(models.ColUnit)),
		EmploymentType:  r.str(models.ColEmploymentType),
		FrontPerson:     r.str(models.ColFrontPerson),
		FocusLevel:      r.str(models.ColFocusLevel),
		Segment:         r.str(models.ColSegment),
		LandingURL:      OrUnset(r.str(models.ColLandingURL)),
	}
}

// DecodeAdFacts normalizes an ad fact table.
func DecodeAdFacts(t *Table) (models.RowSet[models.AdFact], error) {
	idx, cols, err := index(t, RequiredAdFact)
	if err != nil {
		return models.RowSet[models.AdFact]{}, err
	}
	out := models.RowSet[models.AdFact]{Table: t.Name, Columns: cols, Rows: make([]models.AdFact, 0, len(t.Rows))}
	each(t, idx, func(r record) {
		f := models.AdFact{
			Dimensions:      decodeDimensions(r),
			AdNumber:        ToInt(r.get(models.ColAdNumber)),
			Cost:            r.num(models.ColCost),
			Impressions:     r.num(models.ColImpressions),
			Clicks:          r.num(models.ColClicks),
			Reach:           r.num(models.ColReach),
			Budget:          r.num(models.ColBudget),
			Fee:             r.num(models.ColFee),
			Conversions:     r.num(models.ColConversions),
			TargetCPA:       r.num(models.ColTargetCPA),
			ImageURL:        r.str(models.ColImageURL),
			CanvaURL:        r.str(models.ColCanvaURL),
			DescriptionText: r.str(models.ColDescriptionText),
		}
		f.Date, f.HasDate = ToDate(r.get(models.ColDate))
		if _, dt, ok := ToMonth(r.get(models.ColDeliveryMonth)); ok {
			f.DeliveryMonthDT = dt
		} else if _, dt, ok := ToMonth(r.get(models.ColDeliveryMonthDT)); ok {
			f.DeliveryMonthDT = dt
			f.DeliveryMonth = dt.Format(models.MonthLayout)
		}
		out.Rows = append(out.Rows, f)
	})
	if !cols.Has(models.ColDeliveryMonthDT) && cols.Has(models.ColDeliveryMonth) {
		out.Columns.Add(models.ColDeliveryMonthDT)
	}
	if cols.Has(models.ColDeliveryMonthDT) {
		out.Columns.Add(models.ColDeliveryMonth)
	}
	return out, nil
}

// DecodeBanners normalizes Banner_Drive_Ready. Conversions there are
// already resolved per banner.
func DecodeBanners(t *Table) (models.RowSet[models.BannerFact], error) {
	idx, cols, err := index(t, RequiredBanner)
	if err != nil {
		return models.RowSet[models.BannerFact]{}, err
	}
	out := models.RowSet[models.BannerFact]{Table: t.Name, Columns: cols, Rows: make([]models.BannerFact, 0, len(t.Rows))}
	each(t, idx, func(r record) {
		out.Rows = append(out.Rows, models.BannerFact{
			Dimensions:      decodeDimensions(r),
			AdNumber:        ToInt(r.get(models.ColAdNumber)),
			Cost:            r.num(models.ColCost),
			Impressions:     r.num(models.ColImpressions),
			Clicks:          r.num(models.ColClicks),
			ConvBanner:      r.num(models.ColConvBanner),
			ImageURL:        r.str(models.ColImageURL),
			CanvaURL:        r.str(models.ColCanvaURL),
			DescriptionText: r.str(models.ColDescriptionText),
		})
	})
	return out, nil
}

// DecodeThresholds normalizes Target_Indicators_Meta. Levels are kept in
// the unit stored by the warehouse; rate unit conversion happens when the
// threshold table is built.
func DecodeThresholds(t *Table) ([]models.KPIThreshold, error) {
	idx, _, err := index(t, RequiredThreshold)
	if err != nil {
		return nil, err
	}
	levels := func(r record, metric string) models.Levels {
		return models.Levels{
			Best: r.num(metric + "_best"),
			Good: r.num(metric + "_good"),
			Min:  r.num(metric + "_min"),
		}
	}
	out := make([]models.KPIThreshold, 0, len(t.Rows))
	each(t, idx, func(r record) {
		th := models.KPIThreshold{
			KPIKey: models.KPIKey{
				Medium:       OrUnset(r.str(models.ColMedium)),
				MainCategory: OrUnset(r.str(models.ColMainCategory)),
				SubCategory:  OrUnset(r.str(models.ColSubCategory)),
				AdObjective:  OrUnset(r.str(models.ColAdObjective)),
			},
			CPA: levels(r, "cpa"),
			CVR: levels(r, "cvr"),
			CTR: levels(r, "ctr"),
			CPC: levels(r, "cpc"),
			CPM: levels(r, "cpm"),
		}
		th.UpdatedAt, _ = ToDate(r.get("updated_at"))
		out = append(out, th)
	})
	return out, nil
}

// DecodeClients normalizes ClientSettings.
func DecodeClients(t *Table) ([]models.ClientSettings, error) {
	idx, _, err := index(t, RequiredClient)
	if err != nil {
		return nil, err
	}
	out := make([]models.ClientSettings, 0, len(t.Rows))
	each(t, idx, func(r record) {
		c := models.ClientSettings{
			ClientName:    r.str(models.ColClientName),
			ClientID:      r.str("client_id"),
			BuildingCount: r.str("building_count"),
			BusinessType:  r.str("business_type"),
			FocusLevel:    r.str(models.ColFocusLevel),
		}
		if ts, ok := r.get("created_at").(time.Time); ok {
			c.CreatedAt = ts.UTC()
		} else {
			c.CreatedAt, _ = ToDate(r.get("created_at"))
		}
		out = append(out, c)
	})
	return out, nil
}

// DecodeUnits normalizes UnitMapping.
func DecodeUnits(t *Table) ([]models.UnitAssignment, error) {
	idx, _, err := index(t, RequiredUnit)
	if err != nil {
		return nil, err
	}
	out := make([]models.UnitAssignment, 0, len(t.Rows))
	each(t, idx, func(r record) {
		u := models.UnitAssignment{
			ID:             r.str("id"),
			Owner:          r.str(models.ColOwner),
			Unit:           r.str(models.ColUnit),
			EmploymentType: r.str(models.ColEmploymentType),
		}
		_, u.StartMonth, _ = ToMonth(r.get("start_month"))
		_, u.EndMonth, _ = ToMonth(r.get("end_month"))
		out = append(out, u)
	})
	return out, nil
}
