package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableFrom(t *testing.T, csvText string) *Dataset {
	t.Helper()
	ds, err := LoadCSV("test.csv", strings.NewReader(csvText))
	require.NoError(t, err)
	return ds
}

func TestColumnStats(t *testing.T) {
	ds := tableFrom(t, "views,title\n100,a\n200,b\n300,c\nnot-a-number,d\n,e\n")

	stats, err := ColumnStats(ds, "views")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Count, "count must equal rows with a numeric value")
	assert.InDelta(t, 200, stats.Mean, 1e-9)
	assert.InDelta(t, 200, stats.Median, 1e-9)
	assert.InDelta(t, 100, stats.Min, 1e-9)
	assert.InDelta(t, 300, stats.Max, 1e-9)
	assert.InDelta(t, 100, stats.Std, 1e-9)
}

func TestColumnStatsOrderingInvariants(t *testing.T) {
	cases := []struct {
		name string
		csv  string
	}{
		{"even_count", "x\n4\n1\n3\n2\n"},
		{"single_value", "x\n7\n"},
		{"negatives", "x\n-5\n-1\n-3\n"},
		{"mixed_noise", "x\n10\nfoo\n30\n\n20\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ds := tableFrom(t, tc.csv)
			stats, err := ColumnStats(ds, "x")
			require.NoError(t, err)
			assert.LessOrEqual(t, stats.Min, stats.Median)
			assert.LessOrEqual(t, stats.Median, stats.Max)
			assert.GreaterOrEqual(t, stats.Mean, stats.Min)
			assert.LessOrEqual(t, stats.Mean, stats.Max)
		})
	}
}

func TestColumnStatsNoNumericValues(t *testing.T) {
	ds := tableFrom(t, "title\nfoo\nbar\n")

	_, err := ColumnStats(ds, "title")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no numeric values")

	_, err = ColumnStats(ds, "missing")
	require.Error(t, err)
}

func TestValueCounts(t *testing.T) {
	ds := tableFrom(t, "tag\nb\na\nb\nc\na\nb\n")

	counts := ValueCounts(ds, "tag", 0)
	require.Len(t, counts, 3)
	assert.Equal(t, ValueCount{Value: "b", Count: 3}, counts[0])
	assert.Equal(t, ValueCount{Value: "a", Count: 2}, counts[1])
	assert.Equal(t, ValueCount{Value: "c", Count: 1}, counts[2])
}

func TestValueCountsTiesKeepFirstSeenOrder(t *testing.T) {
	ds := tableFrom(t, "tag\nzeta\nalpha\nzeta\nalpha\n")

	counts := ValueCounts(ds, "tag", 2)
	require.Len(t, counts, 2)
	// zeta and alpha tie at 2; zeta appeared first
	assert.Equal(t, "zeta", counts[0].Value)
	assert.Equal(t, "alpha", counts[1].Value)
}

func TestEngagementRatio(t *testing.T) {
	row := Row{"favoriteCount": "10", "viewCount": "100"}
	ratio, ok := EngagementRatio(row)
	require.True(t, ok)
	assert.InDelta(t, 0.1, ratio, 1e-9)

	_, ok = EngagementRatio(Row{"viewCount": "0", "favoriteCount": "5"})
	assert.False(t, ok, "zero denominator is undefined")

	_, ok = EngagementRatio(Row{"viewCount": "100"})
	assert.False(t, ok, "missing favorite count is undefined")

	_, ok = EngagementRatio(Row{"favoriteCount": "3"})
	assert.False(t, ok, "missing view count is undefined")
}

func TestWithEngagementRatio(t *testing.T) {
	ds := tableFrom(t, "title,viewCount,favoriteCount\na,100,10\nb,0,5\nc,200,\n")

	set := WithEngagementRatio(ds)
	assert.Equal(t, 1, set)
	assert.True(t, ds.HasColumn(EngagementColumn))

	// Qualifying row got a value; the others are unmodified, not dropped.
	require.Len(t, ds.Rows, 3)
	assert.Equal(t, "0.100000", ds.Rows[0][EngagementColumn])
	_, hasRatio := ds.Rows[1][EngagementColumn]
	assert.False(t, hasRatio)
	_, hasRatio = ds.Rows[2][EngagementColumn]
	assert.False(t, hasRatio)
}

func TestSummarizeRecomputes(t *testing.T) {
	ds := tableFrom(t, "x\n1\n2\n")

	before := Summarize(ds)
	require.Len(t, before, 1)
	assert.Equal(t, 2, before[0].Stats.Count)

	ds.Rows = append(ds.Rows, Row{"x": "3"})
	after := Summarize(ds)
	require.Len(t, after, 1)
	assert.Equal(t, 3, after[0].Stats.Count, "summary must reflect current rows")
}
