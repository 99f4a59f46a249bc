package agent

import (
	"context"
	"fmt"
	"strings"

	apperrors "datachat/errors"
	"datachat/dataset"
	"datachat/intent"
	"datachat/prompts"
	"datachat/tools"
	"datachat/web/types"
)

func (a *Agent) dispatch(ctx context.Context, sessionID string, strategy intent.Strategy, userText string, ds *dataset.Dataset, history []types.AgentMessage, sink Sink) (*Result, error) {
	switch strategy {
	case intent.GenerateImage:
		return a.generateImage(ctx, userText)
	case intent.MetricPlot:
		return a.metricPlot(userText, ds, sink)
	case intent.Stats:
		return a.localStats(ds, sink)
	case intent.PlayVideo:
		return a.playVideo(userText, ds, sink)
	case intent.ClientTools:
		return a.clientTools(ctx, strategy, userText, ds, history)
	case intent.CodeExecution:
		return a.codeExecution(ctx, strategy, userText, ds, history)
	default:
		return a.plainChat(ctx, sessionID, strategy, userText, ds, history, sink)
	}
}

// plainChat streams a free-form model reply, checking the cancellation flag
// between chunks. Partial output survives cancellation.
func (a *Agent) plainChat(ctx context.Context, sessionID string, strategy intent.Strategy, userText string, ds *dataset.Dataset, history []types.AgentMessage, sink Sink) (*Result, error) {
	messages := a.assemble(strategy, userText, ds, history, prompts.ChatSystem())
	chunks, err := a.client.ChatStream(ctx, a.cfg.ModelHost, messages, nil)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrModelCommunication, err.Error())
	}

	var content strings.Builder
	canceled := false
	for chunk := range chunks {
		if a.isCanceled(sessionID) {
			canceled = true
			break
		}
		content.WriteString(chunk)
		if sink != nil {
			if err := sink.Chunk(chunk); err != nil {
				// Client went away; keep collecting so the message persists.
				sink = nil
			}
		}
	}
	if content.Len() == 0 && !canceled {
		return nil, apperrors.WrapError(apperrors.ErrModelCommunication, "model returned no content")
	}
	return &Result{Content: content.String(), Canceled: canceled}, nil
}

func (a *Agent) generateImage(ctx context.Context, userText string) (*Result, error) {
	img, err := a.client.GenerateImage(ctx, a.cfg.ImageModelHost, userText)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrModelCommunication, err.Error())
	}
	return &Result{
		Content: "Here is the generated image.",
		Image:   img,
	}, nil
}

// metricPlot builds a chart locally from the dataset, no model round trip.
func (a *Agent) metricPlot(userText string, ds *dataset.Dataset, sink Sink) (*Result, error) {
	if ds == nil {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "no dataset loaded to plot")
	}
	metric := pickMetricColumn(userText, ds)
	if metric == "" {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "no numeric column found to plot")
	}

	chart := types.Chart{
		Kind:   types.ChartMetricOverTime,
		Title:  fmt.Sprintf("%s over time", metric),
		Metric: metric,
	}
	for i, row := range ds.Rows {
		val, ok := row.Numeric(metric)
		if !ok {
			continue
		}
		chart.Points = append(chart.Points, types.ChartPoint{Label: pointLabel(row, i), Value: val})
	}
	if len(chart.Points) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput,
			fmt.Sprintf("column %q has no numeric values to plot", metric))
	}

	if sink != nil {
		if err := sink.Chart(chart); err != nil {
			// Client went away; the chart still persists with the message.
			sink = nil
		}
	}
	content := fmt.Sprintf("Plotted %s across %d entries.", metric, len(chart.Points))
	if sink != nil {
		_ = sink.Chunk(content)
	}
	return &Result{Content: content, Charts: []types.Chart{chart}}, nil
}

// localStats answers from local aggregation only: engagement ratio column,
// per-column summary text and an engagement chart when defined.
func (a *Agent) localStats(ds *dataset.Dataset, sink Sink) (*Result, error) {
	if ds == nil {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "no dataset loaded for statistics")
	}

	applied := dataset.WithEngagementRatio(ds)
	var content strings.Builder
	fmt.Fprintf(&content, "Statistics for %s:\n\n", ds.String())
	content.WriteString(dataset.SummaryText(ds))

	res := &Result{}
	if applied > 0 {
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
			chart.Points = append(chart.Points, types.ChartPoint{Label: pointLabel(row, i), Value: val})
		}
		res.Charts = append(res.Charts, chart)
		if sink != nil {
			if err := sink.Chart(chart); err != nil {
				sink = nil
			}
		}
	}

	res.Content = content.String()
	if sink != nil {
		_ = sink.Chunk(res.Content)
	}
	return res, nil
}

// playVideo picks the row best matching the request and returns a playable
// video card payload.
func (a *Agent) playVideo(userText string, ds *dataset.Dataset, sink Sink) (*Result, error) {
	if ds == nil {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "no video data loaded")
	}
	row := bestVideoMatch(userText, ds)
	if row == nil {
		return nil, apperrors.WrapError(apperrors.ErrNotFound, "no matching video found")
	}

	card := &types.VideoCard{
		Title:     firstNonEmpty(row, "title", "name"),
		VideoID:   firstNonEmpty(row, "id", "video_id", "videoId", "contentDetails.videoId"),
		Thumbnail: firstNonEmpty(row, "thumbnail", "thumbnails.default.url", "thumbnail_url"),
	}
	if v, ok := row.Numeric("viewCount"); ok {
		card.Views = v
	} else if v, ok := row.Numeric("statistics.viewCount"); ok {
		card.Views = v
	}

	chart := types.Chart{Kind: types.ChartVideoCard, Title: card.Title, Video: card}
	if sink != nil {
		if err := sink.Chart(chart); err != nil {
			sink = nil
		}
	}
	content := fmt.Sprintf("Playing %q.", card.Title)
	if sink != nil {
		_ = sink.Chunk(content)
	}
	return &Result{Content: content, Charts: []types.Chart{chart}}, nil
}

// clientTools lets the model drive local statistical tools over the dataset.
func (a *Agent) clientTools(ctx context.Context, strategy intent.Strategy, userText string, ds *dataset.Dataset, history []types.AgentMessage) (*Result, error) {
	if ds == nil {
		return nil, apperrors.WrapError(apperrors.ErrInvalidInput, "no dataset loaded for tool analysis")
	}
	exec := tools.NewDatasetExecutor(ds, a.logger)
	messages := a.assemble(strategy, userText, ds, history, prompts.ToolSystem())

	content, err := a.client.ChatWithTools(ctx, a.cfg.ModelHost, messages, tools.Specs(), exec, nil)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrToolExecution, err.Error())
	}
	return &Result{
		Content:   content,
		Charts:    exec.Charts(),
		ToolCalls: exec.Calls(),
	}, nil
}

// codeExecution sends the full dataset as base64 CSV for the model's code
// environment. Non-streaming: executed-code answers arrive whole.
func (a *Agent) codeExecution(ctx context.Context, strategy intent.Strategy, userText string, ds *dataset.Dataset, history []types.AgentMessage) (*Result, error) {
	messages := a.assemble(strategy, userText, ds, history, prompts.ChatSystem())
	content, err := a.client.Chat(ctx, a.cfg.ModelHost, messages, nil)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrModelCommunication, err.Error())
	}
	return &Result{Content: content}, nil
}

// assemble builds the model message list: system prompt, prior turns, then
// the freshly built prompt for this message.
func (a *Agent) assemble(strategy intent.Strategy, userText string, ds *dataset.Dataset, history []types.AgentMessage, system string) []types.AgentMessage {
	messages := make([]types.AgentMessage, 0, len(history)+2)
	messages = append(messages, types.AgentMessage{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, types.AgentMessage{
		Role:    "user",
		Content: a.builder.Build(ds, strategy, userText),
	})
	return messages
}

// metricAliases maps vocabulary in the user text to candidate column names,
// most specific first.
var metricAliases = []struct {
	keyword string
	columns []string
}{
	{"view", []string{"viewCount", "statistics.viewCount", "views", "view_count"}},
	{"like", []string{"likeCount", "statistics.likeCount", "likes", "like_count"}},
	{"comment", []string{"commentCount", "statistics.commentCount", "comments", "comment_count"}},
	{"favorite", []string{"favoriteCount", "statistics.favoriteCount", "favorites"}},
	{"engagement", []string{dataset.EngagementColumn}},
	{"subscriber", []string{"subscriberCount", "statistics.subscriberCount", "subscribers"}},
}

func pickMetricColumn(userText string, ds *dataset.Dataset) string {
	lower := strings.ToLower(userText)
	for _, alias := range metricAliases {
		if !strings.Contains(lower, alias.keyword) {
			continue
		}
		for _, col := range alias.columns {
			if ds.HasColumn(col) {
				return col
			}
		}
	}
	// Fall back to the first column with numeric content.
	for _, col := range ds.Columns {
		if _, err := dataset.ColumnStats(ds, col); err == nil {
			return col
		}
	}
	return ""
}

func pointLabel(row dataset.Row, index int) string {
	for _, col := range []string{"publishedAt", "snippet.publishedAt", "date", "title", "name"} {
		if v := row[col]; v != "" {
			return v
		}
	}
	return fmt.Sprintf("%d", index+1)
}

func firstNonEmpty(row dataset.Row, cols ...string) string {
	for _, col := range cols {
		if v := row[col]; v != "" {
			return v
		}
	}
	return ""
}

// bestVideoMatch scores rows by how many words of the request appear in the
// title; ties and no-hits fall back to the most viewed row.
func bestVideoMatch(userText string, ds *dataset.Dataset) dataset.Row {
	if len(ds.Rows) == 0 {
		return nil
	}
	words := strings.Fields(strings.ToLower(userText))

	var best dataset.Row
	bestScore := 0
	for _, row := range ds.Rows {
		title := strings.ToLower(firstNonEmpty(row, "title", "name"))
		if title == "" {
			continue
		}
		score := 0
		for _, w := range words {
			if len(w) >= 3 && strings.Contains(title, w) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = row, score
		}
	}
	if best != nil {
		return best
	}

	topViews := dataset.TopN(ds, "viewCount", 1, false)
	if len(topViews) == 0 {
		topViews = dataset.TopN(ds, "statistics.viewCount", 1, false)
	}
	if len(topViews) > 0 {
		// TopN projects columns; find the original row by identity fields.
		id := firstNonEmpty(topViews[0], "id", "video_id", "videoId", "title")
		for _, row := range ds.Rows {
			if firstNonEmpty(row, "id", "video_id", "videoId", "title") == id {
				return row
			}
		}
	}
	return ds.Rows[0]
}
