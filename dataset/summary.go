package dataset

import (
	"fmt"
	"strings"
)

// ColumnSummary pairs a column name with its numeric stats.
type ColumnSummary struct {
	Name  string `json:"name"`
	Stats Stats  `json:"stats"`
}

// Summarize recomputes per-column numeric summaries from the current rows.
// Columns with no numeric values are skipped. The result is derived, never
// cached: callers must not hold onto it across mutations.
func Summarize(d *Dataset) []ColumnSummary {
	var out []ColumnSummary
	for _, col := range d.Columns {
		stats, err := ColumnStats(d, col)
		if err != nil {
			continue
		}
		out = append(out, ColumnSummary{Name: col, Stats: stats})
	}
	return out
}

// SummaryText renders a short human-readable summary block for prompts.
func SummaryText(d *Dataset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rows: %d\nColumns: %d (%s)\n", len(d.Rows), len(d.Columns), strings.Join(d.Columns, ", "))
	for _, cs := range Summarize(d) {
		fmt.Fprintf(&b, "- %s: count=%d mean=%.4g median=%.4g std=%.4g min=%.4g max=%.4g\n",
			cs.Name, cs.Stats.Count, cs.Stats.Mean, cs.Stats.Median, cs.Stats.Std, cs.Stats.Min, cs.Stats.Max)
	}
	return b.String()
}

// SlimText renders the first maxRows rows of the given columns as compact CSV
// lines, a reduced projection sent directly in prompts instead of the full
// encoded data. Empty cols means all columns.
func SlimText(d *Dataset, cols []string, maxRows int) string {
	if len(cols) == 0 {
		cols = d.Columns
	}
	if maxRows <= 0 || maxRows > len(d.Rows) {
		maxRows = len(d.Rows)
	}
	var b strings.Builder
	b.WriteString(strings.Join(cols, ","))
	b.WriteByte('\n')
	for _, row := range d.Rows[:maxRows] {
		vals := make([]string, len(cols))
		for i, col := range cols {
			vals[i] = strings.ReplaceAll(row[col], ",", " ")
		}
		b.WriteString(strings.Join(vals, ","))
		b.WriteByte('\n')
	}
	return b.String()
}
