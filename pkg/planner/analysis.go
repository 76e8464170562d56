// Package planner produces transformation plans: a profile of the source
// sheet goes in, a declarative plan for the validator and engine comes out.
// Two planners are provided: a heuristic one driven by the target schema's
// known header spellings, and an LLM-backed one for sheets the heuristics
// cannot cover.
package planner

import (
	"strings"

	"github.com/sheetforge/sheetforge/pkg/table"
)

// maxSamples is the number of example values profiled per column.
const maxSamples = 5

// ColumnProfile summarizes one source column.
type ColumnProfile struct {
	// Name is the header as it appears in the sheet.
	Name string `json:"name"`

	// Samples holds up to maxSamples distinct non-null values.
	Samples []string `json:"samples,omitempty"`

	// DominantKind is the most frequent detected value kind.
	DominantKind table.Kind `json:"dominant_kind"`

	// NullFraction is the fraction of null cells in [0,1].
	NullFraction float64 `json:"null_fraction"`

	// LooksLikeDate is true when a majority of sampled values parse as
	// dates under at least one day/month preference.
	LooksLikeDate bool `json:"looks_like_date"`
}

// Analysis is the profile of a source sheet the planners work from.
type Analysis struct {
	// Columns are profiled in sheet order.
	Columns []ColumnProfile `json:"columns"`

	// RowCount is the sheet's row count.
	RowCount int `json:"row_count"`
}

// ColumnNames returns the source headers in order.
func (a *Analysis) ColumnNames() []string {
	out := make([]string, len(a.Columns))
	for i, c := range a.Columns {
		out[i] = c.Name
	}
	return out
}

// Analyze profiles a dataset: per-column value kinds, null fractions, and
// sample values for the planners to reason over.
func Analyze(ds *table.Dataset) *Analysis {
	a := &Analysis{RowCount: ds.Len()}
	for _, col := range ds.Columns {
		profile := ColumnProfile{Name: col}
		kindCounts := map[table.Kind]int{}
		nulls := 0
		dateLike := 0
		nonNull := 0

		for _, row := range ds.Rows {
			v := row[col]
			if v.IsNull() {
				nulls++
				continue
			}
			nonNull++
			kindCounts[v.Kind]++
			if len(profile.Samples) < maxSamples && !contains(profile.Samples, v.Text()) {
				profile.Samples = append(profile.Samples, v.Text())
			}
			if v.Kind == table.KindDate || looksLikeDate(v.Text()) {
				dateLike++
			}
		}

		if ds.Len() > 0 {
			profile.NullFraction = float64(nulls) / float64(ds.Len())
		}
		profile.DominantKind = dominant(kindCounts)
		profile.LooksLikeDate = nonNull > 0 && dateLike*2 > nonNull
		a.Columns = append(a.Columns, profile)
	}
	return a
}

func dominant(counts map[table.Kind]int) table.Kind {
	best := table.KindNull
	bestN := 0
	for k, n := range counts {
		if n > bestN {
			best, bestN = k, n
		}
	}
	return best
}

// looksLikeDate is a cheap structural check: digit groups separated by / or -.
func looksLikeDate(s string) bool {
	s = strings.TrimSpace(s)
	sep := "/"
	if !strings.Contains(s, "/") {
		if !strings.Contains(s, "-") {
			return false
		}
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 4 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
