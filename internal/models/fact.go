package models

import (
	"time"
)

// Unset is the bucket used for blank categorical values that take part
// in a group-by.
const Unset = "未設定"

// MonthLayout is the canonical delivery month format.
const MonthLayout = "2006/01"

// Column names shared by the warehouse tables.
const (
	ColDate            = "date"
	ColCampaignID      = "campaign_id"
	ColCampaignName    = "campaign_name"
	ColAdsetName       = "adset_name"
	ColAdName          = "ad_name"
	ColAdNumber        = "ad_number"
	ColClientName      = "client_name"
	ColDeliveryMonth   = "delivery_month"
	ColDeliveryMonthDT = "delivery_month_dt"
	ColMedium          = "medium"
	ColMainCategory    = "main_category"
	ColSubCategory     = "sub_category"
	ColSpecialCategory = "special_category"
	ColAdObjective     = "ad_objective"
	ColPrefecture      = "prefecture"
	ColRegion          = "region"
	ColOwner           = "owner"
	ColUnit            = "unit"
	ColEmploymentType  = "employment_type"
	ColFrontPerson     = "front_person"
	ColFocusLevel      = "focus_level"
	ColSegment         = "segment"

	ColCost        = "cost"
	ColImpressions = "impressions"
	ColClicks      = "clicks"
	ColReach       = "reach"
	ColBudget      = "budget"
	ColFee         = "fee"
	ColConversions = "conversions"
	ColConvBanner  = "conv_banner"
	ColTargetCPA   = "target_cpa"

	ColImageURL        = "image_url"
	ColCanvaURL        = "canva_url"
	ColLandingURL      = "landing_url"
	ColDescriptionText = "description_text"
)

// Columns is the set of columns present in a loaded table.
type Columns map[string]struct{}

// NewColumns builds a column set.
func NewColumns(names ...string) Columns {
	c := make(Columns, len(names))
	for _, n := range names {
		c[n] = struct{}{}
	}
	return c
}

// Has reports whether the column was present. A nil set has every column.
func (c Columns) Has(name string) bool {
	if c == nil {
		return true
	}
	_, ok := c[name]
	return ok
}

// Add marks a column as present.
func (c Columns) Add(names ...string) {
	for _, n := range names {
		c[n] = struct{}{}
	}
}

// Missing returns the names from required that are absent.
func (c Columns) Missing(required []string) []string {
	var out []string
	for _, r := range required {
		if !c.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// RowSet is a typed table read from the warehouse.
type RowSet[T any] struct {
	Table   string  `json:"table"`
	Columns Columns `json:"columns"`
	Rows    []T     `json:"rows"`
}

// Dimensions are the categorical attributes shared by ad and banner facts.
type Dimensions struct {
	CampaignID      string `json:"campaign_id"`
	CampaignName    string `json:"campaign_name"`
	AdsetName       string `json:"adset_name"`
	AdName          string `json:"ad_name"`
	ClientName      string `json:"client_name"`
	DeliveryMonth   string `json:"delivery_month"`
	Medium          string `json:"medium"`
	MainCategory    string `json:"main_category"`
	SubCategory     string `json:"sub_category"`
	SpecialCategory string `json:"special_category"`
	AdObjective     string `json:"ad_objective"`
	Prefecture      string `json:"prefecture"`
	Region          string `json:"region"`
	Owner           string `json:"owner"`
	Unit            string `json:"unit"`
	EmploymentType  string `json:"employment_type"`
	FrontPerson     string `json:"front_person"`
	FocusLevel      string `json:"focus_level"`
	Segment         string `json:"segment"`
	LandingURL      string `json:"landing_url"`
}

// Dim returns a categorical value by column name.
func (d *Dimensions) Dim(col string) (string, bool) {
	switch col {
	case ColCampaignID:
		return d.CampaignID, true
	case ColCampaignName:
		return d.CampaignName, true
	case ColAdsetName:
		return d.AdsetName, true
	case ColAdName:
		return d.AdName, true
	case ColClientName:
		return d.ClientName, true
	case ColDeliveryMonth:
		return d.DeliveryMonth, true
	case ColMedium:
		return d.Medium, true
	case ColMainCategory:
		return d.MainCategory, true
	case ColSubCategory:
		return d.SubCategory, true
	case ColSpecialCategory:
		return d.SpecialCategory, true
	case ColAdObjective:
		return d.AdObjective, true
	case ColPrefecture:
		return d.Prefecture, true
	case ColRegion:
		return d.Region, true
	case ColOwner:
		return d.Owner, true
	case ColUnit:
		return d.Unit, true
	case ColEmploymentType:
		return d.EmploymentType, true
	case ColFrontPerson:
		return d.FrontPerson, true
	case ColFocusLevel:
		return d.FocusLevel, true
	case ColSegment:
		return d.Segment, true
	case ColLandingURL:
		return d.LandingURL, true
	}
	return "", false
}

// KPIKey returns the threshold lookup key of the row.
func (d *Dimensions) KPIKey() KPIKey {
	return KPIKey{
		Medium:       d.Medium,
		MainCategory: d.MainCategory,
		SubCategory:  d.SubCategory,
		AdObjective:  d.AdObjective,
	}
}

// AdFact is one row per (date, campaign, ad set, ad).
type AdFact struct {
	Dimensions

	Date            time.Time `json:"date"`
	HasDate         bool      `json:"has_date"`
	DeliveryMonthDT time.Time `json:"delivery_month_dt"`
	AdNumber        *int      `json:"ad_number,omitempty"`

	Cost        Num `json:"cost"`
	Impressions Num `json:"impressions"`
	Clicks      Num `json:"clicks"`
	Reach       Num `json:"reach"`
	Budget      Num `json:"budget"`
	Fee         Num `json:"fee"`
	// Conversions is cumulative within a campaign; the latest-date value
	// is the campaign-to-date total.
	Conversions Num `json:"conversions"`
	TargetCPA   Num `json:"target_cpa"`

	ImageURL        string `json:"image_url,omitempty"`
	CanvaURL        string `json:"canva_url,omitempty"`
	DescriptionText string `json:"description_text,omitempty"`
}

// Measure returns a numeric value by column name.
func (f *AdFact) Measure(col string) (Num, bool) {
	switch col {
	case ColCost:
		return f.Cost, true
	case ColImpressions:
		return f.Impressions, true
	case ColClicks:
		return f.Clicks, true
	case ColReach:
		return f.Reach, true
	case ColBudget:
		return f.Budget, true
	case ColFee:
		return f.Fee, true
	case ColConversions:
		return f.Conversions, true
	case ColTargetCPA:
		return f.TargetCPA, true
	case ColAdNumber:
		if f.AdNumber == nil {
			return Missing, true
		}
		return Some(float64(*f.AdNumber)), true
	}
	return Missing, false
}

// Time returns a time value by column name. The second result is false
// when the value is missing or the column is unknown.
func (f *AdFact) Time(col string) (time.Time, bool) {
	switch col {
	case ColDate:
		return f.Date, f.HasDate
	case ColDeliveryMonthDT:
		return f.DeliveryMonthDT, !f.DeliveryMonthDT.IsZero()
	}
	return time.Time{}, false
}

// BannerFact is one row per (campaign, banner). Additive metrics are
// lifetime sums and ConvBanner is already resolved per banner.
type BannerFact struct {
	Dimensions

	AdNumber    *int `json:"ad_number,omitempty"`
	Cost        Num  `json:"cost"`
	Impressions Num  `json:"impressions"`
	Clicks      Num  `json:"clicks"`
	ConvBanner  Num  `json:"conv_banner"`

	ImageURL        string `json:"image_url,omitempty"`
	CanvaURL        string `json:"canva_url,omitempty"`
	DescriptionText string `json:"description_text,omitempty"`
}

// Measure returns a numeric value by column name.
func (b *BannerFact) Measure(col string) (Num, bool) {
	switch col {
	case ColCost:
		return b.Cost, true
	case ColImpressions:
		return b.Impressions, true
	case ColClicks:
		return b.Clicks, true
	case ColConvBanner, ColConversions:
		return b.ConvBanner, true
	}
	return Missing, false
}

// Time is present to satisfy the aggregation row contract; banners carry
// no time column.
func (b *BannerFact) Time(string) (time.Time, bool) { return time.Time{}, false }

// FirstOfMonth truncates t to the first day of its month in UTC.
func FirstOfMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth parses a YYYY/MM delivery month into its first-of-month time.
func ParseMonth(s string) (time.Time, bool) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
