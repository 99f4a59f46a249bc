package dataset

import "sort"

// displayColumns are the identity-ish fields kept when projecting ranked rows.
var displayColumns = []string{"title", "name", "id", "video_id", "videoId", "channel", "publishedAt", "date"}

// TopN returns at most n rows ranked by the numeric value of column.
// The sort is stable: equal values keep their original relative order.
// Rows without a numeric value in column are excluded. Only display-relevant
// fields plus the ranking column are projected into the result.
func TopN(d *Dataset, column string, n int, ascending bool) []Row {
	type ranked struct {
		row Row
		val float64
	}
	var rows []ranked
	for _, row := range d.Rows {
		if v, ok := row.Numeric(column); ok {
			rows = append(rows, ranked{row: row, val: v})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if ascending {
			return rows[i].val < rows[j].val
		}
		return rows[i].val > rows[j].val
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}

	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = project(r.row, column)
	}
	return out
}

func project(row Row, column string) Row {
	out := make(Row)
	if v, ok := row[column]; ok {
		out[column] = v
	}
	for _, col := range displayColumns {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}
