package dataset

import (
	"fmt"
	"math"
	"sort"

	apperrors "datachat/errors"
)

// Stats is the per-column numeric summary. It is always recomputed from the
// current rows; nothing here is cached.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// ColumnStats computes mean/median/std/min/max/count over the numeric values
// of column, ignoring missing and non-numeric cells. It fails when no numeric
// values remain.
func ColumnStats(d *Dataset, column string) (Stats, error) {
	var vals []float64
	for _, row := range d.Rows {
		if v, ok := row.Numeric(column); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return Stats{}, apperrors.WrapErrorf(apperrors.ErrToolExecution,
			"no numeric values in column %q", column)
	}

	s := Stats{Count: len(vals), Min: math.Inf(1), Max: math.Inf(-1)}

	// Welford's online mean/variance
	var mean, m2 float64
	for i, v := range vals {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		delta := v - mean
		mean += delta / float64(i+1)
		m2 += delta * (v - mean)
	}
	s.Mean = mean
	if len(vals) > 1 {
		s.Std = math.Sqrt(m2 / float64(len(vals)-1))
	}

	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		s.Median = sorted[mid]
	} else {
		s.Median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return s, nil
}

// ValueCount is one entry of a frequency table.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ValueCounts returns the topN most frequent values of column, descending by
// count; ties keep first-seen order. Missing cells are not counted.
func ValueCounts(d *Dataset, column string, topN int) []ValueCount {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	order := 0
	for _, row := range d.Rows {
		v, ok := row[column]
		if !ok || v == "" {
			continue
		}
		if _, seen := counts[v]; !seen {
			firstSeen[v] = order
			order++
		}
		counts[v]++
	}

	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return firstSeen[out[i].Value] < firstSeen[out[j].Value]
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// EngagementColumn is the name of the derived ratio column.
const EngagementColumn = "engagement_ratio"

var (
	favoriteAliases = []string{"favoriteCount", "statistics.favoriteCount", "favorites", "favorite"}
	viewAliases     = []string{"viewCount", "statistics.viewCount", "views", "view"}
)

// EngagementRatio computes favorite-count divided by view-count for one row.
// It is defined only when both source columns are present and the denominator
// is nonzero; otherwise ok is false.
func EngagementRatio(row Row) (float64, bool) {
	fav, ok := firstNumeric(row, favoriteAliases)
	if !ok {
		return 0, false
	}
	views, ok := firstNumeric(row, viewAliases)
	if !ok || views <= 0 {
		return 0, false
	}
	return fav / views, true
}

func firstNumeric(row Row, aliases []string) (float64, bool) {
	for _, col := range aliases {
		if v, ok := row.Numeric(col); ok {
			return v, true
		}
	}
	return 0, false
}

// WithEngagementRatio adds the derived engagement_ratio column in place.
// Rows where the ratio is undefined are left unmodified, not dropped.
// Returns the number of rows that received a value.
func WithEngagementRatio(d *Dataset) int {
	set := 0
	for _, row := range d.Rows {
		if ratio, ok := EngagementRatio(row); ok {
			row[EngagementColumn] = fmt.Sprintf("%.6f", ratio)
			set++
		}
	}
	if set > 0 && !d.HasColumn(EngagementColumn) {
		d.Columns = append(d.Columns, EngagementColumn)
	}
	return set
}
