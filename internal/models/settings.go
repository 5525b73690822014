package models

import (
	"errors"
	"time"
)

// KPIKey identifies a threshold row.
type KPIKey struct {
	Medium       string `json:"medium" yaml:"medium" validate:"required"`
	MainCategory string `json:"main_category" yaml:"main_category" validate:"required"`
	SubCategory  string `json:"sub_category" yaml:"sub_category" validate:"required"`
	AdObjective  string `json:"ad_objective" yaml:"ad_objective" validate:"required"`
}

// Levels are the best/good/min thresholds of one metric.
type Levels struct {
	Best Num `json:"best"`
	Good Num `json:"good"`
	Min  Num `json:"min"`
}

// Empty reports whether no level is set.
func (l Levels) Empty() bool { return !l.Best.Valid && !l.Good.Valid && !l.Min.Valid }

// KPIThreshold is a row of Target_Indicators_Meta.
type KPIThreshold struct {
	KPIKey
	CPA       Levels    `json:"cpa"`
	CVR       Levels    `json:"cvr"`
	CTR       Levels    `json:"ctr"`
	CPC       Levels    `json:"cpc"`
	CPM       Levels    `json:"cpm"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrCostLevelOrder = errors.New("cost thresholds must satisfy best <= good <= min")
	ErrRateLevelOrder = errors.New("rate thresholds must satisfy best >= good >= min")
)

// Validate checks direction-aware level ordering.
func (t *KPIThreshold) Validate() error {
	for _, l := range []Levels{t.CPA, t.CPC, t.CPM} {
		if !ordered(l, func(a, b float64) bool { return a <= b }) {
			return ErrCostLevelOrder
		}
	}
	for _, l := range []Levels{t.CVR, t.CTR} {
		if !ordered(l, func(a, b float64) bool { return a >= b }) {
			return ErrRateLevelOrder
		}
	}
	return nil
}

func ordered(l Levels, ok func(a, b float64) bool) bool {
	seq := []Num{l.Best, l.Good, l.Min}
	var prev *float64
	for _, n := range seq {
		if !n.Valid {
			continue
		}
		if prev != nil && !ok(*prev, n.Value) {
			return false
		}
		v := n.Value
		prev = &v
	}
	return true
}

// ClientSettings is a row of ClientSettings.
type ClientSettings struct {
	ClientName    string    `json:"client_name" validate:"required"`
	ClientID      string    `json:"client_id"`
	BuildingCount string    `json:"building_count"`
	BusinessType  string    `json:"business_type"`
	FocusLevel    string    `json:"focus_level"`
	CreatedAt     time.Time `json:"created_at"`
}

// UnitAssignment assigns an owner to a unit over [StartMonth, EndMonth).
// A zero EndMonth means open-ended.
type UnitAssignment struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner" validate:"required"`
	Unit           string    `json:"unit" validate:"required"`
	EmploymentType string    `json:"employment_type"`
	StartMonth     time.Time `json:"start_month" validate:"required"`
	EndMonth       time.Time `json:"end_month"`
}

var (
	ErrUnitInterval = errors.New("unit assignment end month must be after start month")
	ErrUnitOverlap  = errors.New("unit assignment overlaps an existing interval for the owner")
)

// Validate checks the interval shape.
func (u *UnitAssignment) Validate() error {
	if !u.EndMonth.IsZero() && !u.EndMonth.After(u.StartMonth) {
		return ErrUnitInterval
	}
	return nil
}

// Active reports whether the assignment covers the given month.
func (u *UnitAssignment) Active(month time.Time) bool {
	m := FirstOfMonth(month)
	if m.Before(FirstOfMonth(u.StartMonth)) {
		return false
	}
	return u.EndMonth.IsZero() || m.Before(FirstOfMonth(u.EndMonth))
}

// Overlaps reports whether two assignments of the same owner intersect.
func (u *UnitAssignment) Overlaps(o *UnitAssignment) bool {
	if u.Owner != o.Owner {
		return false
	}
	uEndsBefore := !u.EndMonth.IsZero() && !FirstOfMonth(u.EndMonth).After(FirstOfMonth(o.StartMonth))
	oEndsBefore := !o.EndMonth.IsZero() && !FirstOfMonth(o.EndMonth).After(FirstOfMonth(u.StartMonth))
	return !uEndsBefore && !oEndsBefore
}

// ResolveUnit finds the assignment active for owner in month.
func ResolveUnit(assignments []UnitAssignment, owner string, month time.Time) (UnitAssignment, bool) {
	for _, a := range assignments {
		if a.Owner == owner && a.Active(month) {
			return a, true
		}
	}
	return UnitAssignment{}, false
}
