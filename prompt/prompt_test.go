package prompt

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datachat/dataset"
	"datachat/intent"
)

func testTable(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.LoadCSV("videos.csv", strings.NewReader(
		"title,views\nfirst,100\nsecond,250\nthird,50\n"))
	require.NoError(t, err)
	return ds
}

func TestBuildSectionOrder(t *testing.T) {
	b := &Builder{SlimRows: 2}
	out := b.Build(testTable(t), intent.Plain, "what is the average view count?")

	idxIdentity := strings.Index(out, "Dataset: videos.csv (3 rows, 2 columns)")
	idxSummary := strings.Index(out, "Summary:")
	idxSlim := strings.Index(out, "Data (first rows):")
	idxSep := strings.Index(out, "\n---\n")
	idxUser := strings.Index(out, "what is the average view count?")

	require.NotEqual(t, -1, idxIdentity)
	require.NotEqual(t, -1, idxSummary)
	require.NotEqual(t, -1, idxSlim)
	require.NotEqual(t, -1, idxSep)
	require.NotEqual(t, -1, idxUser)

	assert.Less(t, idxIdentity, idxSummary)
	assert.Less(t, idxSummary, idxSlim)
	assert.Less(t, idxSlim, idxSep)
	assert.Less(t, idxSep, idxUser)
}

func TestBuildSlimRowsCap(t *testing.T) {
	b := &Builder{SlimRows: 2}
	out := b.Build(testTable(t), intent.Plain, "hi")

	assert.Contains(t, out, "first,100")
	assert.Contains(t, out, "second,250")
	assert.NotContains(t, out, "third,50")
}

func TestBuildBase64OnlyForCodeExecution(t *testing.T) {
	ds := testTable(t)
	b := &Builder{SlimRows: 10}
	encoded := base64.StdEncoding.EncodeToString([]byte(ds.CSVString()))

	for _, strategy := range []intent.Strategy{
		intent.Plain, intent.Stats, intent.MetricPlot, intent.ClientTools,
	} {
		out := b.Build(ds, strategy, "question")
		assert.NotContains(t, out, encoded, "strategy %s must not carry base64", strategy)
		assert.NotContains(t, out, "Base64 CSV:")
	}

	out := b.Build(ds, intent.CodeExecution, "question")
	assert.Contains(t, out, "Base64 CSV:")
	assert.Contains(t, out, encoded)
}

func TestBuildNilDatasetPassesTextThrough(t *testing.T) {
	b := &Builder{SlimRows: 5}
	assert.Equal(t, "hello there", b.Build(nil, intent.Plain, "  hello there "))
}

func TestBuildDefaultQuestion(t *testing.T) {
	b := &Builder{SlimRows: 5}
	out := b.Build(testTable(t), intent.Stats, "")
	assert.Contains(t, out, "Summarize the key statistics of this dataset.")
}
