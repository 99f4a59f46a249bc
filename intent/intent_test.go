package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyImageGeneration(t *testing.T) {
	c := New()
	assert.Equal(t, GenerateImage, c.Classify("generate an image of a cat", State{}))
	assert.Equal(t, GenerateImage, c.Classify("please create a picture of the sunset", State{HasJSON: true}))
}

func TestClassifyMetricPlot(t *testing.T) {
	c := New()
	assert.Equal(t, MetricPlot, c.Classify("plot views vs time", State{}))
	assert.Equal(t, MetricPlot, c.Classify("chart the likes over time", State{HasJSON: true}))
}

func TestClassifyStatsRequiresJSONChannel(t *testing.T) {
	c := New()

	// With a JSON channel loaded, stat vocabulary routes to local stats.
	assert.Equal(t, Stats, c.Classify("average likes", State{HasJSON: true}))
	assert.Equal(t, Stats, c.Classify("show summary statistics", State{HasJSON: true}))

	// Without any dataset the same text falls through to code execution.
	assert.Equal(t, CodeExecution, c.Classify("average likes", State{}))

	// With only CSV loaded, stat vocabulary goes to the local tool path.
	assert.Equal(t, ClientTools, c.Classify("average likes", State{HasCSV: true}))
}

func TestClassifyPlayVideo(t *testing.T) {
	c := New()
	assert.Equal(t, PlayVideo, c.Classify("play the video about whales", State{HasJSON: true}))
	// Video lookup needs the JSON channel; otherwise falls back to plain.
	assert.Equal(t, Plain, c.Classify("play the video about whales", State{}))
}

func TestClassifyClientTools(t *testing.T) {
	c := New()
	assert.Equal(t, ClientTools, c.Classify("compute the ratio for each row", State{HasCSV: true}))
	assert.Equal(t, ClientTools, c.Classify("rank the top rows by score", State{HasCSV: true}))
}

func TestClassifyCodeExecutionWithoutDataset(t *testing.T) {
	c := New()
	assert.Equal(t, CodeExecution, c.Classify("run a regression on this", State{}))
	assert.Equal(t, CodeExecution, c.Classify("write python to build a histogram", State{}))
}

func TestClassifyCodeExecutionWithDatasetLoaded(t *testing.T) {
	c := New()

	// Explicit code requests select code execution even with data loaded;
	// generic stat vocabulary still goes to the local tool paths instead.
	for _, text := range []string{
		"write python code to run a regression on this data",
		"run a pandas script over the dataset",
		"use matplotlib to make a histogram of views",
		"execute code to analyze this csv",
	} {
		assert.Equal(t, CodeExecution, c.Classify(text, State{HasCSV: true}), text)
		assert.Equal(t, CodeExecution, c.Classify(text, State{HasJSON: true}), text)
	}
}

func TestClassifyPlainFallback(t *testing.T) {
	c := New()
	assert.Equal(t, Plain, c.Classify("hello, how are you?", State{}))
	assert.Equal(t, Plain, c.Classify("tell me a joke", State{HasCSV: true}))
}

func TestClassifyPriorityOrder(t *testing.T) {
	c := New()
	// Image generation is checked before chart intents even when both match.
	got := c.Classify("generate an image of a chart of views", State{HasJSON: true})
	assert.Equal(t, GenerateImage, got)
}

func TestClassifyCustomRuleTable(t *testing.T) {
	c := New(DefaultRules()...)
	assert.Equal(t, MetricPlot, c.Classify("plot views vs time", State{}))
}
