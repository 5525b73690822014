// Package filter implements dashboard filters: a plain
// record of optional value sets plus a keyword matcher, compiled into a
// predicate over fact rows.
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/radiusdt/adperf/internal/models"
)

// ErrInvalidSpec is returned by Validate.
var ErrInvalidSpec = errors.New("invalid filter")

// Spec is a filter specification. A nil or empty set means all values.
type Spec struct {
	Clients           []string `json:"clients,omitempty" yaml:"clients,omitempty" validate:"omitempty,dive,notblank"`
	DeliveryMonths    []string `json:"delivery_months,omitempty" yaml:"delivery_months,omitempty" validate:"omitempty,dive,notblank"`
	Media             []string `json:"media,omitempty" yaml:"media,omitempty" validate:"omitempty,dive,notblank"`
	MainCategories    []string `json:"main_categories,omitempty" yaml:"main_categories,omitempty" validate:"omitempty,dive,notblank"`
	SubCategories     []string `json:"sub_categories,omitempty" yaml:"sub_categories,omitempty" validate:"omitempty,dive,notblank"`
	SpecialCategories []string `json:"special_categories,omitempty" yaml:"special_categories,omitempty" validate:"omitempty,dive,notblank"`
	AdObjectives      []string `json:"ad_objectives,omitempty" yaml:"ad_objectives,omitempty" validate:"omitempty,dive,notblank"`
	Campaigns         []string `json:"campaigns,omitempty" yaml:"campaigns,omitempty" validate:"omitempty,dive,notblank"`
	Adsets            []string `json:"adsets,omitempty" yaml:"adsets,omitempty" validate:"omitempty,dive,notblank"`
	Segments          []string `json:"segments,omitempty" yaml:"segments,omitempty" validate:"omitempty,dive,notblank"`
	Prefectures       []string `json:"prefectures,omitempty" yaml:"prefectures,omitempty" validate:"omitempty,dive,notblank"`
	Regions           []string `json:"regions,omitempty" yaml:"regions,omitempty" validate:"omitempty,dive,notblank"`
	Owners            []string `json:"owners,omitempty" yaml:"owners,omitempty" validate:"omitempty,dive,notblank"`
	Units             []string `json:"units,omitempty" yaml:"units,omitempty" validate:"omitempty,dive,notblank"`
	FocusLevels       []string `json:"focus_levels,omitempty" yaml:"focus_levels,omitempty" validate:"omitempty,dive,notblank"`

	// Keyword is a comma-separated list of substrings matched against
	// adset_name.
	Keyword string `json:"keyword,omitempty" yaml:"keyword,omitempty" validate:"max=512"`
}

// Field binds a spec option to the fact column it constrains.
type Field struct {
	Name   string
	Column string
	Values *[]string
}

// Fields lists the set options in a fixed order.
func (s *Spec) Fields() []Field {
	return []Field{
		{"clients", models.ColClientName, &s.Clients},
		{"delivery_months", models.ColDeliveryMonth, &s.DeliveryMonths},
		{"media", models.ColMedium, &s.Media},
		{"main_categories", models.ColMainCategory, &s.MainCategories},
		{"sub_categories", models.ColSubCategory, &s.SubCategories},
		{"special_categories", models.ColSpecialCategory, &s.SpecialCategories},
		{"ad_objectives", models.ColAdObjective, &s.AdObjectives},
		{"campaigns", models.ColCampaignName, &s.Campaigns},
		{"adsets", models.ColAdsetName, &s.Adsets},
		{"segments", models.ColSegment, &s.Segments},
		{"prefectures", models.ColPrefecture, &s.Prefectures},
		{"regions", models.ColRegion, &s.Regions},
		{"owners", models.ColOwner, &s.Owners},
		{"units", models.ColUnit, &s.Units},
		{"focus_levels", models.ColFocusLevel, &s.FocusLevels},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// Validate rejects blank or whitespace-only set elements and malformed
// delivery months.
func (s *Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	for _, m := range s.DeliveryMonths {
		if _, ok := canonicalMonth(m); !ok {
			return fmt.Errorf("%w: delivery month %q", ErrInvalidSpec, m)
		}
	}
	return nil
}

// Normalized returns a copy with trimmed, deduplicated, sorted sets and
// canonical YYYY/MM months. Empty sets become nil.
func (s Spec) Normalized() Spec {
	out := Spec{Keyword: strings.TrimSpace(s.Keyword)}
	src := s.Fields()
	dst := out.Fields()
	for i, f := range src {
		seen := make(map[string]struct{}, len(*f.Values))
		var vals []string
		for _, v := range *f.Values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if f.Column == models.ColDeliveryMonth {
				if m, ok := canonicalMonth(v); ok {
					v = m
				}
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			vals = append(vals, v)
		}
		sort.Strings(vals)
		*dst[i].Values = vals
	}
	return out
}

// Key returns a canonical string for equality and memoization.
func (s Spec) Key() string {
	b, _ := json.Marshal(s.Normalized())
	return string(b)
}

// IsEmpty reports whether the spec selects everything.
func (s *Spec) IsEmpty() bool {
	for _, f := range s.Fields() {
		if len(*f.Values) > 0 {
			return false
		}
	}
	return len(Keywords(s.Keyword)) == 0
}

// FromQuery reads a spec from URL parameters. Each option accepts repeated
// parameters and comma-separated values.
func FromQuery(q url.Values) Spec {
	var s Spec
	for _, f := range s.Fields() {
		for _, raw := range q[f.Name] {
			for _, v := range strings.Split(raw, ",") {
				if v = strings.TrimSpace(v); v != "" {
					*f.Values = append(*f.Values, v)
				}
			}
		}
	}
	s.Keyword = q.Get("keyword")
	return s
}

// Query renders the spec as URL parameters.
func (s Spec) Query() url.Values {
	q := url.Values{}
	n := s.Normalized()
	for _, f := range n.Fields() {
		if len(*f.Values) > 0 {
			q.Set(f.Name, strings.Join(*f.Values, ","))
		}
	}
	if n.Keyword != "" {
		q.Set("keyword", n.Keyword)
	}
	return q
}

func canonicalMonth(s string) (string, bool) {
	for _, layout := range []string{models.MonthLayout, "2006/1", "2006-01", "2006-1"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.Format(models.MonthLayout), true
		}
	}
	return "", false
}
