package kpi

import (
	"strings"

	"github.com/radiusdt/adperf/internal/models"
)

// Grade is the graded symbol of one metric.
type Grade string

const (
	Excellent    Grade = "◎"
	Good         Grade = "○"
	Fair         Grade = "△"
	Poor         Grade = "✕"
	NA           Grade = "n/a"
	NotEvaluated Grade = "not-evaluated"
)

// Evaluated reports whether g is one of the four threshold grades.
func (g Grade) Evaluated() bool {
	switch g {
	case Excellent, Good, Fair, Poor:
		return true
	}
	return false
}

// Rank orders evaluated grades from best (0) to worst (3). Other grades
// rank after all of them.
func (g Grade) Rank() int {
	switch g {
	case Excellent:
		return 0
	case Good:
		return 1
	case Fair:
		return 2
	case Poor:
		return 3
	}
	return 4
}

// Score grades v against levels. Missing levels are skipped; a missing
// value or an empty level set is n/a.
func Score(m Metric, v models.Num, l models.Levels) Grade {
	if !v.Valid || l.Empty() {
		return NA
	}
	meets := func(t models.Num) bool {
		if !t.Valid {
			return false
		}
		if m.LowerIsBetter() {
			return v.Value <= t.Value
		}
		return v.Value >= t.Value
	}
	switch {
	case meets(l.Best):
		return Excellent
	case meets(l.Good):
		return Good
	case meets(l.Min):
		return Fair
	}
	return Poor
}

// LevelsFor returns the levels of m in t.
func LevelsFor(t models.KPIThreshold, m Metric) models.Levels {
	switch m {
	case CPA:
		return t.CPA
	case CVR:
		return t.CVR
	case CTR:
		return t.CTR
	case CPC:
		return t.CPC
	case CPM:
		return t.CPM
	}
	return models.Levels{}
}

// Grades holds one grade per metric.
type Grades struct {
	CPA Grade `json:"cpa"`
	CVR Grade `json:"cvr"`
	CTR Grade `json:"ctr"`
	CPC Grade `json:"cpc"`
	CPM Grade `json:"cpm"`
}

// Get returns the grade of m.
func (g Grades) Get(m Metric) Grade {
	switch m {
	case CPA:
		return g.CPA
	case CVR:
		return g.CVR
	case CTR:
		return g.CTR
	case CPC:
		return g.CPC
	case CPM:
		return g.CPM
	}
	return NotEvaluated
}

func (g *Grades) set(m Metric, v Grade) {
	switch m {
	case CPA:
		g.CPA = v
	case CVR:
		g.CVR = v
	case CTR:
		g.CTR = v
	case CPC:
		g.CPC = v
	case CPM:
		g.CPM = v
	}
}

func allGrades(v Grade) Grades { return Grades{v, v, v, v, v} }

// Achievement is the per-campaign outcome.
type Achievement string

const (
	Achieved           Achievement = "achieved"
	Missed             Achievement = "missed"
	AchievementSkipped Achievement = "not-evaluated"
)

// DefaultObjective is the ad_objective substring that enables CPA and CVR
// grading.
const DefaultObjective = "コンバージョン"

// Achievement rules.
const (
	RuleGradeOrTargetCPA = "cpa_grade_or_target_cpa"
	RuleGradeOnly        = "cpa_grade_only"
)

// Evaluation is the graded result for one entity.
type Evaluation struct {
	Key         models.KPIKey        `json:"key"`
	Thresholds  *models.KPIThreshold `json:"thresholds,omitempty"`
	Grades      Grades               `json:"grades"`
	Achievement Achievement          `json:"achievement"`
}

// Evaluator grades entities against a threshold table. It is pure and
// safe for concurrent use.
type Evaluator struct {
	Table             *ThresholdTable
	ObjectiveContains string
	Rule              string
}

// NewEvaluator fills in the default objective and rule.
func NewEvaluator(table *ThresholdTable, objectiveContains, rule string) *Evaluator {
	if objectiveContains == "" {
		objectiveContains = DefaultObjective
	}
	if rule == "" {
		rule = RuleGradeOrTargetCPA
	}
	return &Evaluator{Table: table, ObjectiveContains: objectiveContains, Rule: rule}
}

// Evaluate grades v for the entity keyed by key. targetCPA is the
// entity's explicit target, if any.
func (e *Evaluator) Evaluate(key models.KPIKey, v Values, targetCPA models.Num) Evaluation {
	ev := Evaluation{Key: key}
	th, ok := e.Table.Lookup(key)
	if !ok {
		ev.Grades = allGrades(NotEvaluated)
	} else {
		ev.Thresholds = &th
		conversion := strings.Contains(key.AdObjective, e.ObjectiveContains)
		for _, m := range AllMetrics {
			if m.ConversionGated() && !conversion {
				ev.Grades.set(m, NotEvaluated)
				continue
			}
			ev.Grades.set(m, Score(m, v.Get(m), LevelsFor(th, m)))
		}
	}
	ev.Achievement = e.Achievement(ev.Grades.CPA, v.CPA, targetCPA)
	return ev
}

// Achievement combines the CPA grade with an explicit target CPA. Under
// the default rule the target supplements the grade: either one suffices.
func (e *Evaluator) Achievement(cpaGrade Grade, cpa, targetCPA models.Num) Achievement {
	if cpaGrade == Excellent || cpaGrade == Good {
		return Achieved
	}
	useTarget := e.Rule != RuleGradeOnly && targetCPA.Valid && cpa.Valid
	if useTarget && cpa.Value <= targetCPA.Value {
		return Achieved
	}
	if cpaGrade.Evaluated() || useTarget {
		return Missed
	}
	return AchievementSkipped
}

// AchievementRate is achieved / (achieved + missed); missing when nothing
// was evaluated.
func AchievementRate(outcomes []Achievement) models.Num {
	var achieved, evaluated float64
	for _, a := range outcomes {
		switch a {
		case Achieved:
			achieved++
			evaluated++
		case Missed:
			evaluated++
		}
	}
	return div(models.Some(achieved), models.Some(evaluated), 1)
}
