package filter

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/radiusdt/adperf/internal/models"
)

// Row is anything exposing categorical columns by name.
type Row interface {
	Dim(col string) (string, bool)
}

// Predicate reports whether a row is kept.
type Predicate func(Row) bool

// Compile builds the predicate for spec. Options whose column is absent
// from cols are dropped rather than rejecting every row.
func Compile(spec Spec, cols models.Columns) Predicate {
	n := spec.Normalized()
	var preds []Predicate
	for _, f := range n.Fields() {
		if len(*f.Values) == 0 || !cols.Has(f.Column) {
			continue
		}
		preds = append(preds, inSet(f.Column, *f.Values))
	}
	if kws := Keywords(n.Keyword); len(kws) > 0 && cols.Has(models.ColAdsetName) {
		preds = append(preds, keyword(models.ColAdsetName, kws))
	}
	return func(r Row) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

func inSet(col string, values []string) Predicate {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return func(r Row) bool {
		v, ok := r.Dim(col)
		if !ok {
			return true
		}
		if v == "" {
			v = models.Unset
		}
		_, hit := set[v]
		return hit
	}
}

func keyword(col string, kws []string) Predicate {
	folded := make([]string, len(kws))
	for i, k := range kws {
		folded[i] = Fold(k)
	}
	return func(r Row) bool {
		v, ok := r.Dim(col)
		if !ok {
			return true
		}
		hay := Fold(v)
		for _, k := range folded {
			if strings.Contains(hay, k) {
				return true
			}
		}
		return false
	}
}

// Keywords splits a keyword string on ASCII, ideographic and full-width
// commas, dropping blanks.
func Keywords(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '、' || r == '，'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var foldPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFKC, cases.Fold(), width.Fold)
	},
}

// Fold maps s to a case- and width-insensitive form.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	tr := foldPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	foldPool.Put(tr)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Apply returns the rows kept by spec, preserving order.
func Apply[T any, P interface {
	*T
	Row
}](rows []T, cols models.Columns, spec Spec) []T {
	pred := Compile(spec, cols)
	out := make([]T, 0, len(rows))
	for i := range rows {
		if pred(P(&rows[i])) {
			out = append(out, rows[i])
		}
	}
	return out
}

// Options lists the sorted distinct values of every option column present
// in cols, for filter pickers.
func Options[T any, P interface {
	*T
	Row
}](rows []T, cols models.Columns) map[string][]string {
	var s Spec
	out := make(map[string][]string)
	for _, f := range s.Fields() {
		if !cols.Has(f.Column) {
			continue
		}
		seen := make(map[string]struct{})
		for i := range rows {
			v, ok := P(&rows[i]).Dim(f.Column)
			if !ok || v == "" {
				continue
			}
			seen[v] = struct{}{}
		}
		vals := make([]string, 0, len(seen))
		for v := range seen {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		out[f.Name] = vals
	}
	return out
}
