// Package tools exposes local statistical operations over the loaded dataset
// as model-callable functions. Results are plain text fed back to the model;
// computation failures come back as descriptive text rather than errors so
// the tool conversation can continue.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"datachat/dataset"
	"datachat/llmclient"
	"datachat/web/types"
)

// DatasetExecutor runs tool calls against one session's dataset and records
// what it ran, so the finished message can carry the call trail and any
// charts derived along the way.
type DatasetExecutor struct {
	ds     *dataset.Dataset
	logger *zap.Logger

	mu     sync.Mutex
	calls  []types.ToolCall
	charts []types.Chart
}

func NewDatasetExecutor(ds *dataset.Dataset, logger *zap.Logger) *DatasetExecutor {
	return &DatasetExecutor{ds: ds, logger: logger}
}

// Calls returns the tool call trail accumulated so far.
func (e *DatasetExecutor) Calls() []types.ToolCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.ToolCall(nil), e.calls...)
}

// Charts returns chart payloads produced by tool calls.
func (e *DatasetExecutor) Charts() []types.Chart {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Chart(nil), e.charts...)
}

// Specs describes the available tools in the OpenAI function schema.
func Specs() []llmclient.Tool {
	mkTool := func(name, desc, params string) llmclient.Tool {
		return llmclient.Tool{
			Type: "function",
			Function: llmclient.ToolFunction{
				Name:        name,
				Description: desc,
				Parameters:  json.RawMessage(params),
			},
		}
	}
	return []llmclient.Tool{
		mkTool("column_stats",
			"Compute count, mean, median, standard deviation, min and max of a numeric column.",
			`{"type":"object","properties":{"column":{"type":"string","description":"Column name"}},"required":["column"]}`),
		mkTool("value_counts",
			"Count distinct values of a column, most frequent first.",
			`{"type":"object","properties":{"column":{"type":"string","description":"Column name"},"limit":{"type":"integer","description":"Max distinct values to return"}},"required":["column"]}`),
		mkTool("top_n",
			"Rank rows by a numeric column and return the top entries with their display fields.",
			`{"type":"object","properties":{"column":{"type":"string","description":"Ranking column"},"n":{"type":"integer","description":"Number of rows"},"ascending":{"type":"boolean","description":"Sort lowest first"}},"required":["column","n"]}`),
		mkTool("engagement_ratio",
			"Derive favorite/view engagement ratio per row and summarize it.",
			`{"type":"object","properties":{}}`),
	}
}

type columnArgs struct {
	Column string `json:"column"`
	Limit  int    `json:"limit"`
}

type topNArgs struct {
	Column    string `json:"column"`
	N         int    `json:"n"`
	Ascending bool   `json:"ascending"`
}

// Execute dispatches one tool call. The returned string is always model-safe
// text; only unknown tool names or a missing dataset produce a non-nil error.
func (e *DatasetExecutor) Execute(ctx context.Context, name string, args json.RawMessage) (result string, err error) {
	if e.ds == nil {
		return "", fmt.Errorf("no dataset loaded for tool %s", name)
	}

	switch name {
	case "column_stats":
		result = e.columnStats(args)
	case "value_counts":
		result = e.valueCounts(args)
	case "top_n":
		result = e.topN(args)
	case "engagement_ratio":
		result = e.engagementRatio()
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}

	e.logger.Debug("tool executed", zap.String("tool", name), zap.Int("result_len", len(result)))
	e.mu.Lock()
	e.calls = append(e.calls, types.ToolCall{Name: name, Args: string(args), Result: result})
	e.mu.Unlock()
	return result, nil
}

func (e *DatasetExecutor) columnStats(raw json.RawMessage) string {
	var args columnArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Column == "" {
		return "invalid arguments: expected {\"column\": \"<name>\"}"
	}
	if !e.ds.HasColumn(args.Column) {
		return fmt.Sprintf("column %q does not exist; available columns: %s",
			args.Column, strings.Join(e.ds.Columns, ", "))
	}
	stats, err := dataset.ColumnStats(e.ds, args.Column)
	if err != nil {
		return fmt.Sprintf("could not compute stats for %q: %v", args.Column, err)
	}
	return fmt.Sprintf("%s: count=%d mean=%.4f median=%.4f std=%.4f min=%.4f max=%.4f",
		args.Column, stats.Count, stats.Mean, stats.Median, stats.Std, stats.Min, stats.Max)
}

func (e *DatasetExecutor) valueCounts(raw json.RawMessage) string {
	var args columnArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Column == "" {
		return "invalid arguments: expected {\"column\": \"<name>\"}"
	}
	if !e.ds.HasColumn(args.Column) {
		return fmt.Sprintf("column %q does not exist; available columns: %s",
			args.Column, strings.Join(e.ds.Columns, ", "))
	}
	counts := dataset.ValueCounts(e.ds, args.Column, args.Limit)
	var b strings.Builder
	fmt.Fprintf(&b, "value counts for %s:\n", args.Column)
	for _, vc := range counts {
		fmt.Fprintf(&b, "- %s: %d\n", vc.Value, vc.Count)
	}
	return b.String()
}

func (e *DatasetExecutor) topN(raw json.RawMessage) string {
	var args topNArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Column == "" || args.N <= 0 {
		return "invalid arguments: expected {\"column\": \"<name>\", \"n\": <count>}"
	}
	if !e.ds.HasColumn(args.Column) {
		return fmt.Sprintf("column %q does not exist; available columns: %s",
			args.Column, strings.Join(e.ds.Columns, ", "))
	}
	rows := dataset.TopN(e.ds, args.Column, args.N, args.Ascending)
	if len(rows) == 0 {
		return fmt.Sprintf("no rows with numeric %q values to rank", args.Column)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "top %d rows by %s:\n", len(rows), args.Column)
	for i, row := range rows {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatRow(row, args.Column))
	}
	return b.String()
}

func (e *DatasetExecutor) engagementRatio() string {
	applied := dataset.WithEngagementRatio(e.ds)
	if applied == 0 {
		return "engagement ratio is undefined: no rows carry both favorite and view counts with views > 0"
	}
	stats, err := dataset.ColumnStats(e.ds, dataset.EngagementColumn)
	if err != nil {
		return fmt.Sprintf("could not summarize engagement ratio: %v", err)
	}

	e.mu.Lock()
	e.charts = append(e.charts, engagementChart(e.ds))
	e.mu.Unlock()

	return fmt.Sprintf("engagement ratio (favorites/views) across %d rows: mean=%.6f median=%.6f min=%.6f max=%.6f",
		applied, stats.Mean, stats.Median, stats.Min, stats.Max)
}

// engagementChart builds a bar-style chart payload of per-row engagement.
func engagementChart(ds *dataset.Dataset) types.Chart {
	chart := types.Chart{
		Kind:   types.ChartEngagement,
		Title:  "Engagement ratio (favorites/views)",
		Metric: dataset.EngagementColumn,
	}
	for i, row := range ds.Rows {
		val, ok := row.Numeric(dataset.EngagementColumn)
		if !ok {
			continue
		}
		chart.Points = append(chart.Points, types.ChartPoint{
			Label: rowLabel(row, i),
			Value: val,
		})
	}
	return chart
}

func rowLabel(row dataset.Row, index int) string {
	for _, col := range []string{"title", "name", "id", "video_id", "videoId"} {
		if v := row[col]; v != "" {
			return v
		}
	}
	return fmt.Sprintf("row %d", index+1)
}

func formatRow(row dataset.Row, rankCol string) string {
	extra := make([]string, 0, len(row))
	for col, val := range row {
		if col == rankCol || val == "" {
			continue
		}
		extra = append(extra, fmt.Sprintf("%s=%s", col, val))
	}
	sort.Strings(extra)
	parts := append([]string{fmt.Sprintf("%s=%s", rankCol, row[rankCol])}, extra...)
	return strings.Join(parts, " ")
}
