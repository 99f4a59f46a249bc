package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"datachat/dataset"
	"datachat/web/types"
)

func videoTable(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.LoadCSV("videos.csv", strings.NewReader(
		"title,viewCount,favoriteCount,category\n"+
			"alpha,100,10,music\n"+
			"beta,200,5,music\n"+
			"gamma,50,0,gaming\n"))
	require.NoError(t, err)
	return ds
}

func TestExecuteColumnStats(t *testing.T) {
	exec := NewDatasetExecutor(videoTable(t), zap.NewNop())

	out, err := exec.Execute(context.Background(), "column_stats", json.RawMessage(`{"column":"viewCount"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "count=3")
	assert.Contains(t, out, "min=50.0000")
	assert.Contains(t, out, "max=200.0000")

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "column_stats", calls[0].Name)
	assert.Equal(t, out, calls[0].Result)
}

func TestExecuteUnknownColumnIsDescriptiveNotError(t *testing.T) {
	exec := NewDatasetExecutor(videoTable(t), zap.NewNop())

	out, err := exec.Execute(context.Background(), "column_stats", json.RawMessage(`{"column":"nope"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `column "nope" does not exist`)
	assert.Contains(t, out, "viewCount")
}

func TestExecuteNonNumericColumnIsDescriptiveNotError(t *testing.T) {
	exec := NewDatasetExecutor(videoTable(t), zap.NewNop())

	out, err := exec.Execute(context.Background(), "column_stats", json.RawMessage(`{"column":"category"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "could not compute stats")
}

func TestExecuteValueCounts(t *testing.T) {
	exec := NewDatasetExecutor(videoTable(t), zap.NewNop())

	out, err := exec.Execute(context.Background(), "value_counts", json.RawMessage(`{"column":"category"}`))
	require.NoError(t, err)
	musicIdx := strings.Index(out, "music: 2")
	gamingIdx := strings.Index(out, "gaming: 1")
	require.NotEqual(t, -1, musicIdx)
	require.NotEqual(t, -1, gamingIdx)
	assert.Less(t, musicIdx, gamingIdx)
}

func TestExecuteTopN(t *testing.T) {
	exec := NewDatasetExecutor(videoTable(t), zap.NewNop())

	out, err := exec.Execute(context.Background(), "top_n", json.RawMessage(`{"column":"viewCount","n":2}`))
	require.NoError(t, err)
	assert.Contains(t, out, "top 2 rows")
	betaIdx := strings.Index(out, "beta")
	alphaIdx := strings.Index(out, "alpha")
	require.NotEqual(t, -1, betaIdx)
	require.NotEqual(t, -1, alphaIdx)
	assert.Less(t, betaIdx, alphaIdx)
	assert.NotContains(t, out, "gamma")
}

func TestExecuteEngagementRatioProducesChart(t *testing.T) {
	exec := NewDatasetExecutor(videoTable(t), zap.NewNop())

	out, err := exec.Execute(context.Background(), "engagement_ratio", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Contains(t, out, "across 3 rows")

	charts := exec.Charts()
	require.Len(t, charts, 1)
	assert.Equal(t, types.ChartEngagement, charts[0].Kind)
	// gamma has viewCount 50 but favoriteCount 0 -> ratio 0, still defined
	require.Len(t, charts[0].Points, 3)
	assert.Equal(t, "alpha", charts[0].Points[0].Label)
	assert.InDelta(t, 0.1, charts[0].Points[0].Value, 1e-9)
}

func TestExecuteUnknownToolErrors(t *testing.T) {
	exec := NewDatasetExecutor(videoTable(t), zap.NewNop())

	_, err := exec.Execute(context.Background(), "launch_rockets", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Empty(t, exec.Calls())
}

func TestSpecsCoverAllTools(t *testing.T) {
	specs := Specs()
	names := make([]string, len(specs))
	for i, s := range specs {
		assert.Equal(t, "function", s.Type)
		names[i] = s.Function.Name
	}
	assert.ElementsMatch(t, []string{"column_stats", "value_counts", "top_n", "engagement_ratio"}, names)
}
