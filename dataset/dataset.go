package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	apperrors "datachat/errors"
)

// Source identifies where a dataset came from. At most one source is active
// per session at a time; a new upload replaces the previous context.
const (
	SourceCSV  = "csv"
	SourceJSON = "json"
)

// Row maps a column name to a scalar cell. Cells are kept as strings;
// Numeric parses them on demand so mixed columns degrade gracefully.
type Row map[string]string

// Dataset is an in-memory table: one ordered header list shared by all rows.
type Dataset struct {
	Name    string
	Source  string
	Columns []string
	Rows    []Row
}

// LoadCSV parses comma-delimited data with a required header row.
func LoadCSV(name string, r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "CSV has no header row")
		}
		return nil, apperrors.WrapErrorf(err, "read CSV header from %s", name)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	ds := &Dataset{Name: name, Source: SourceCSV, Columns: columns}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.WrapErrorf(err, "read CSV row %d from %s", len(ds.Rows)+2, name)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// LoadJSON parses an arbitrary JSON object and extracts a tabular view from a
// list found under "videos" or "items" (top level or one level deep). A bare
// top-level array is also accepted.
func LoadJSON(name string, r io.Reader) (*Dataset, error) {
	var root interface{}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, apperrors.WrapErrorf(err, "parse JSON from %s", name)
	}

	items := findItemList(root)
	if items == nil {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput,
			"JSON contains no list under \"videos\" or \"items\"")
	}

	ds := &Dataset{Name: name, Source: SourceJSON}
	union := make(map[string]bool)
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		row := make(Row)
		flattenInto(row, "", obj)
		for col := range row {
			union[col] = true
		}
		ds.Rows = append(ds.Rows, row)
	}
	if len(ds.Rows) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "JSON list contains no objects")
	}
	// Map iteration order is random; sort the header so repeated loads agree.
	for col := range union {
		ds.Columns = append(ds.Columns, col)
	}
	sortStrings(ds.Columns)
	return ds, nil
}

func findItemList(root interface{}) []interface{} {
	switch v := root.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		for _, key := range []string{"videos", "items"} {
			if list, ok := v[key].([]interface{}); ok {
				return list
			}
		}
		// One level deep, e.g. {"data": {"videos": [...]}}
		for _, child := range v {
			if obj, ok := child.(map[string]interface{}); ok {
				for _, key := range []string{"videos", "items"} {
					if list, ok := obj[key].([]interface{}); ok {
						return list
					}
				}
			}
		}
	}
	return nil
}

// flattenInto lifts scalar fields (and scalar fields of nested objects, one
// level, dotted) into the row. Deeper nesting and arrays are ignored.
func flattenInto(row Row, prefix string, obj map[string]interface{}) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			row[key] = val
		case json.Number:
			row[key] = val.String()
		case bool:
			row[key] = strconv.FormatBool(val)
		case map[string]interface{}:
			if prefix == "" {
				flattenInto(row, k, val)
			}
		}
	}
}

func sortStrings(s []string) {
	sort.Strings(s)
}

// Numeric parses the cell in column col as a float. Percent signs and
// thousands separators are tolerated; empty or non-numeric cells report false.
func (r Row) Numeric(col string) (float64, bool) {
	raw, ok := r[col]
	if !ok {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	raw = strings.ReplaceAll(raw, "%", "")
	raw = strings.ReplaceAll(raw, ",", "")
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// HasColumn reports whether col is part of the dataset header.
func (d *Dataset) HasColumn(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// CSVString renders the dataset back to comma-delimited text. Used for the
// base64 code-execution payload; never persisted.
func (d *Dataset) CSVString() string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Write(d.Columns)
	rec := make([]string, len(d.Columns))
	for _, row := range d.Rows {
		for i, col := range d.Columns {
			rec[i] = row[col]
		}
		w.Write(rec)
	}
	w.Flush()
	return b.String()
}

func (d *Dataset) String() string {
	return fmt.Sprintf("%s (%d rows, %d columns)", d.Name, len(d.Rows), len(d.Columns))
}
