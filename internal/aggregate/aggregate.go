// Package aggregate groups fact rows and folds their columns. Cumulative
// columns are resolved to their latest snapshot per entity before being
// summed, so they are never added across dates.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/radiusdt/adperf/internal/models"
)

// ErrUnknownColumn is returned for a group-by or source column the row
// type does not expose.
var ErrUnknownColumn = errors.New("unknown column")

// Row exposes categorical, numeric and time columns by name.
type Row interface {
	Dim(col string) (string, bool)
	Measure(col string) (models.Num, bool)
	Time(col string) (time.Time, bool)
}

// Op is an aggregation operator.
type Op string

const (
	Sum    Op = "sum"
	Last   Op = "last"
	Max    Op = "max"
	Latest Op = "latest"
	// CountDistinct counts distinct non-blank values of a dimension.
	CountDistinct Op = "count_distinct"
)

// Column is one output column of an aggregation.
type Column struct {
	Name   string
	Source string // defaults to Name
	Op     Op
	// Entity and TimeCol apply to Latest. TimeCol defaults to date.
	Entity  []string
	TimeCol string
	// Fallback names a dimension read in place of a blank first Entity
	// column (Latest) or a blank Source (CountDistinct).
	Fallback string
}

func (c Column) source() string {
	if c.Source == "" {
		return c.Name
	}
	return c.Source
}

func (c Column) timeCol() string {
	if c.TimeCol == "" {
		return models.ColDate
	}
	return c.TimeCol
}

// Group is one output row.
type Group struct {
	Keys   []string
	Values map[string]models.Num
	Labels map[string]string
	Size   int
}

// Get returns a numeric output column.
func (g *Group) Get(col string) models.Num { return g.Values[col] }

// Result is the aggregated table. Columns is GroupBy followed by one entry
// per aggregation column.
type Result struct {
	GroupBy []string
	Columns []string
	Groups  []Group
}

// Key returns the value of a group-by column of g.
func (r *Result) Key(g *Group, col string) string {
	for i, c := range r.GroupBy {
		if c == col {
			return g.Keys[i]
		}
	}
	return ""
}

const keySep = "\x1f"

func groupKey(r Row, cols []string) ([]string, string) {
	vals := make([]string, len(cols))
	for i, c := range cols {
		v, _ := r.Dim(c)
		if v == "" {
			v = models.Unset
		}
		vals[i] = v
	}
	return vals, strings.Join(vals, keySep)
}

func blank(s string) bool { return s == "" || s == models.Unset }

// fallbackMark keeps fallback values apart from primary values.
const fallbackMark = "\x00"

// dimOr reads col, or fallback when col is blank.
func dimOr(r Row, col, fallback string) string {
	v, _ := r.Dim(col)
	if !blank(v) || fallback == "" {
		return v
	}
	if f, _ := r.Dim(fallback); !blank(f) {
		return fallbackMark + f
	}
	return v
}

func entityKey(r Row, cols []string, fallback string) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteString(keySep)
		}
		if i == 0 {
			b.WriteString(dimOr(r, c, fallback))
			continue
		}
		v, _ := r.Dim(c)
		b.WriteString(v)
	}
	return b.String()
}

// checkColumns validates column names against the zero value of the row
// type so that empty inputs still report schema errors.
func checkColumns(r Row, groupBy []string, spec []Column) error {
	var unknown []string
	for _, c := range groupBy {
		if _, ok := r.Dim(c); !ok {
			unknown = append(unknown, c)
		}
	}
	for _, c := range spec {
		src := c.source()
		_, dimOK := r.Dim(src)
		_, numOK := r.Measure(src)
		switch c.Op {
		case Sum, Max, Latest:
			if !numOK {
				unknown = append(unknown, src)
			}
		case Last:
			if !dimOK && !numOK {
				unknown = append(unknown, src)
			}
		case CountDistinct:
			if !dimOK {
				unknown = append(unknown, src)
			}
		default:
			return fmt.Errorf("aggregate: unsupported op %q for %s", c.Op, c.Name)
		}
		if c.Fallback != "" {
			if _, ok := r.Dim(c.Fallback); !ok {
				unknown = append(unknown, c.Fallback)
			}
		}
		if c.Op == Latest {
			for _, e := range c.Entity {
				if _, ok := r.Dim(e); !ok {
					unknown = append(unknown, e)
				}
			}
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, strings.Join(unknown, ", "))
	}
	return nil
}

// Aggregate groups rows by groupBy and folds spec columns. Groups appear in
// first-seen order. An empty groupBy yields a single global group when
// rows is non-empty.
func Aggregate[T any, P interface {
	*T
	Row
}](rows []T, groupBy []string, spec []Column) (Result, error) {
	var zero T
	if err := checkColumns(P(&zero), groupBy, spec); err != nil {
		return Result{}, err
	}

	res := Result{GroupBy: append([]string(nil), groupBy...)}
	res.Columns = append(res.Columns, groupBy...)
	for _, c := range spec {
		res.Columns = append(res.Columns, c.Name)
	}

	index := make(map[string]int)
	var members [][]int
	var distinct []map[string]struct{}
	for i := range rows {
		r := P(&rows[i])
		keys, k := groupKey(r, groupBy)
		gi, ok := index[k]
		if !ok {
			gi = len(res.Groups)
			index[k] = gi
			res.Groups = append(res.Groups, Group{
				Keys:   keys,
				Values: make(map[string]models.Num, len(spec)),
				Labels: make(map[string]string),
			})
			members = append(members, nil)
			distinct = append(distinct, nil)
			for _, c := range spec {
				if c.Op == CountDistinct {
					res.Groups[gi].Values[c.Name] = models.Some(0)
				}
			}
		}
		g := &res.Groups[gi]
		g.Size++
		members[gi] = append(members[gi], i)

		for _, c := range spec {
			src := c.source()
			switch c.Op {
			case Sum:
				m, _ := r.Measure(src)
				g.Values[c.Name] = g.Values[c.Name].Add(m)
			case Max:
				m, _ := r.Measure(src)
				g.Values[c.Name] = g.Values[c.Name].Max(m)
			case Last:
				if s, ok := r.Dim(src); ok {
					if s != "" {
						g.Labels[c.Name] = s
					}
				} else if m, _ := r.Measure(src); m.Valid {
					g.Values[c.Name] = m
				}
			case CountDistinct:
				s := dimOr(r, src, c.Fallback)
				if blank(s) {
					continue
				}
				if distinct[gi] == nil {
					distinct[gi] = make(map[string]struct{})
				}
				k := c.Name + keySep + s
				if _, ok := distinct[gi][k]; !ok {
					distinct[gi][k] = struct{}{}
					g.Values[c.Name] = g.Values[c.Name].Add(models.Some(1))
				}
			}
		}
	}

	for _, c := range spec {
		if c.Op != Latest {
			continue
		}
		for gi := range res.Groups {
			res.Groups[gi].Values[c.Name] = sumLatest[T, P](rows, members[gi], c)
		}
	}
	return res, nil
}

// sumLatest resolves the latest row per entity among idx and sums the
// source column over those rows in entity first-seen order.
func sumLatest[T any, P interface {
	*T
	Row
}](rows []T, idx []int, c Column) models.Num {
	src, tc := c.source(), c.timeCol()
	var total models.Num
	for _, i := range latestIndices[T, P](rows, idx, c.Entity, c.Fallback, tc) {
		m, _ := P(&rows[i]).Measure(src)
		total = total.Add(m)
	}
	return total
}

func latestIndices[T any, P interface {
	*T
	Row
}](rows []T, idx []int, key []string, fallback, timeCol string) []int {
	type best struct {
		at  time.Time
		row int
	}
	pos := make(map[string]int)
	var picks []best
	for _, i := range idx {
		r := P(&rows[i])
		at, ok := r.Time(timeCol)
		if !ok {
			continue
		}
		k := entityKey(r, key, fallback)
		p, seen := pos[k]
		if !seen {
			pos[k] = len(picks)
			picks = append(picks, best{at: at, row: i})
			continue
		}
		if at.After(picks[p].at) {
			picks[p] = best{at: at, row: i}
		}
	}
	out := make([]int, len(picks))
	for i, b := range picks {
		out[i] = b.row
	}
	return out
}

// LatestRows returns, per entity key, the row with the greatest time in
// timeCol. Ties keep the earliest row; rows without a time are skipped.
// Entities appear in first-seen order.
func LatestRows[T any, P interface {
	*T
	Row
}](rows []T, key []string, timeCol string) []T {
	idx := make([]int, len(rows))
	for i := range rows {
		idx[i] = i
	}
	picked := latestIndices[T, P](rows, idx, key, "", timeCol)
	out := make([]T, len(picked))
	for i, p := range picked {
		out[i] = rows[p]
	}
	return out
}
