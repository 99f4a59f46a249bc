package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"datachat/config"
	apperrors "datachat/errors"
	"datachat/dataset"
	"datachat/intent"
	"datachat/llmclient"
	"datachat/web/types"
)

// fakeModel scripts the ModelClient surface for tests.
type fakeModel struct {
	chatReply   string
	chatErr     error
	streamParts []string
	streamGate  chan struct{} // when set, blocks before each part
	imageBytes  []byte
	gotMessages []types.AgentMessage
}

func (f *fakeModel) Chat(ctx context.Context, host string, messages []types.AgentMessage, temperature *float64) (string, error) {
	f.gotMessages = messages
	return f.chatReply, f.chatErr
}

func (f *fakeModel) ChatStream(ctx context.Context, host string, messages []types.AgentMessage, temperature *float64) (<-chan string, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	out := make(chan string)
	go func() {
		defer close(out)
		for _, part := range f.streamParts {
			if f.streamGate != nil {
				<-f.streamGate
			}
			select {
			case out <- part:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeModel) ChatWithTools(ctx context.Context, host string, messages []types.AgentMessage, tools []llmclient.Tool, exec llmclient.ToolExecutor, observe llmclient.ToolCallObserver) (string, error) {
	return f.chatReply, f.chatErr
}

func (f *fakeModel) GenerateImage(ctx context.Context, host string, promptText string) ([]byte, error) {
	return f.imageBytes, f.chatErr
}

// captureSink records everything emitted.
type captureSink struct {
	mu     sync.Mutex
	chunks []string
	charts []types.Chart
}

func (s *captureSink) Chunk(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, text)
	return nil
}

func (s *captureSink) Chart(chart types.Chart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charts = append(s.charts, chart)
	return nil
}

// failingSink simulates a client that disconnected mid-reply.
type failingSink struct{}

func (failingSink) Chunk(string) error      { return errors.New("client gone") }
func (failingSink) Chart(types.Chart) error { return errors.New("client gone") }

func testConfig() *config.Config {
	return &config.Config{
		ModelHost:      "http://model",
		ImageModelHost: "http://image",
		SlimRows:       5,
		MaxToolTurns:   3,
	}
}

func jsonDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.LoadJSON("videos.json", strings.NewReader(`{"videos":[
		{"title":"cat compilation","id":"v1","statistics":{"viewCount":900,"favoriteCount":90}},
		{"title":"dog tricks","id":"v2","statistics":{"viewCount":100,"favoriteCount":1}}
	]}`))
	require.NoError(t, err)
	return ds
}

func TestRespondEmptyMessage(t *testing.T) {
	a := New(testConfig(), &fakeModel{}, zap.NewNop())
	_, err := a.Respond(context.Background(), "s1", "", nil, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrEmptyMessage)
}

func TestRespondPlainStreams(t *testing.T) {
	model := &fakeModel{streamParts: []string{"Hello", " there"}}
	a := New(testConfig(), model, zap.NewNop())
	sink := &captureSink{}

	res, err := a.Respond(context.Background(), "s1", "how are you?", nil, nil, sink)
	require.NoError(t, err)
	assert.Equal(t, intent.Plain, res.Strategy)
	assert.Equal(t, "Hello there", res.Content)
	assert.Equal(t, []string{"Hello", " there"}, sink.chunks)
	assert.False(t, a.Sending("s1"))
}

func TestRespondConcurrentSendRejected(t *testing.T) {
	gate := make(chan struct{})
	model := &fakeModel{streamParts: []string{"a", "b", "c"}, streamGate: gate}
	a := New(testConfig(), model, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := a.Respond(context.Background(), "s1", "hi", nil, nil, &captureSink{})
		done <- err
	}()

	// Wait for the first send to claim the slot.
	require.Eventually(t, func() bool { return a.Sending("s1") }, time.Second, time.Millisecond)

	_, err := a.Respond(context.Background(), "s1", "hi again", nil, nil, &captureSink{})
	assert.ErrorIs(t, err, apperrors.ErrSendInFlight)

	// Another session is unaffected.
	model2 := &fakeModel{streamParts: []string{"ok"}}
	a2 := New(testConfig(), model2, zap.NewNop())
	_, err = a2.Respond(context.Background(), "s2", "hi", nil, nil, &captureSink{})
	assert.NoError(t, err)

	close(gate)
	require.NoError(t, <-done)
}

func TestRespondCancelKeepsPartialText(t *testing.T) {
	gate := make(chan struct{}, 3)
	model := &fakeModel{streamParts: []string{"part one ", "part two ", "part three"}, streamGate: gate}
	a := New(testConfig(), model, zap.NewNop())
	sink := &captureSink{}

	done := make(chan *Result, 1)
	go func() {
		res, err := a.Respond(context.Background(), "s1", "tell me a story", nil, nil, sink)
		require.NoError(t, err)
		done <- res
	}()

	gate <- struct{}{} // release first chunk
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.chunks) == 1
	}, time.Second, time.Millisecond)

	a.Cancel("s1")
	gate <- struct{}{}
	gate <- struct{}{}

	res := <-done
	assert.True(t, res.Canceled)
	assert.Contains(t, res.Content, "part one")
	assert.NotContains(t, res.Content, "part three")
	assert.False(t, a.Sending("s1"))
}

func TestRespondCancelWithNothingInFlightIsNoop(t *testing.T) {
	a := New(testConfig(), &fakeModel{streamParts: []string{"fine"}}, zap.NewNop())
	a.Cancel("s1")

	res, err := a.Respond(context.Background(), "s1", "hello", nil, nil, &captureSink{})
	require.NoError(t, err)
	assert.False(t, res.Canceled)
	assert.Equal(t, "fine", res.Content)
}

func TestRespondModelErrorSurfaces(t *testing.T) {
	model := &fakeModel{chatErr: assert.AnError}
	a := New(testConfig(), model, zap.NewNop())

	_, err := a.Respond(context.Background(), "s1", "hello", nil, nil, &captureSink{})
	require.Error(t, err)
	// The send slot must be released after a failure.
	assert.False(t, a.Sending("s1"))
}

func TestRespondMetricPlotIsLocal(t *testing.T) {
	// Model errors on any call; the plot path must not touch it.
	model := &fakeModel{chatErr: assert.AnError}
	a := New(testConfig(), model, zap.NewNop())
	sink := &captureSink{}

	res, err := a.Respond(context.Background(), "s1", "plot views over time", jsonDataset(t), nil, sink)
	require.NoError(t, err)
	assert.Equal(t, intent.MetricPlot, res.Strategy)
	require.Len(t, res.Charts, 1)
	assert.Equal(t, types.ChartMetricOverTime, res.Charts[0].Kind)
	assert.Equal(t, "statistics.viewCount", res.Charts[0].Metric)
	assert.Len(t, res.Charts[0].Points, 2)
	require.Len(t, sink.charts, 1)
}

func TestRespondStatsIsLocal(t *testing.T) {
	model := &fakeModel{chatErr: assert.AnError}
	a := New(testConfig(), model, zap.NewNop())
	sink := &captureSink{}

	res, err := a.Respond(context.Background(), "s1", "show me the stats", jsonDataset(t), nil, sink)
	require.NoError(t, err)
	assert.Equal(t, intent.Stats, res.Strategy)
	assert.Contains(t, res.Content, "Rows: 2")
	require.Len(t, res.Charts, 1)
	assert.Equal(t, types.ChartEngagement, res.Charts[0].Kind)
}

func TestRespondPlayVideoMatchesTitle(t *testing.T) {
	model := &fakeModel{chatErr: assert.AnError}
	a := New(testConfig(), model, zap.NewNop())
	sink := &captureSink{}

	res, err := a.Respond(context.Background(), "s1", "play the dog tricks video", jsonDataset(t), nil, sink)
	require.NoError(t, err)
	assert.Equal(t, intent.PlayVideo, res.Strategy)
	require.Len(t, res.Charts, 1)
	require.NotNil(t, res.Charts[0].Video)
	assert.Equal(t, "dog tricks", res.Charts[0].Video.Title)
	assert.Equal(t, "v2", res.Charts[0].Video.VideoID)
	assert.InDelta(t, 100, res.Charts[0].Video.Views, 1e-9)
}

func TestRespondGenerateImage(t *testing.T) {
	model := &fakeModel{imageBytes: []byte{0x89, 'P', 'N', 'G'}}
	a := New(testConfig(), model, zap.NewNop())

	res, err := a.Respond(context.Background(), "s1", "generate an image of a sunset", nil, nil, &captureSink{})
	require.NoError(t, err)
	assert.Equal(t, intent.GenerateImage, res.Strategy)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, res.Image)
	assert.NotContains(t, res.Content, "iVBOR") // raw bytes stay out of the text
}

func TestRespondCodeExecutionWithoutDataset(t *testing.T) {
	model := &fakeModel{chatReply: "the mean is 42"}
	a := New(testConfig(), model, zap.NewNop())

	res, err := a.Respond(context.Background(), "s1", "run a regression on this", nil, nil, &captureSink{})
	require.NoError(t, err)
	assert.Equal(t, intent.CodeExecution, res.Strategy)
	assert.Equal(t, "the mean is 42", res.Content)
}

func TestRespondCodeExecutionCarriesDataset(t *testing.T) {
	model := &fakeModel{chatReply: "ran the regression"}
	a := New(testConfig(), model, zap.NewNop())
	ds, err := dataset.LoadCSV("videos.csv", strings.NewReader("title,views\na,10\nb,20\n"))
	require.NoError(t, err)

	res, err := a.Respond(context.Background(), "s1", "write python code to run a regression on this data", ds, nil, &captureSink{})
	require.NoError(t, err)
	assert.Equal(t, intent.CodeExecution, res.Strategy)

	// The loaded table rides along as base64 CSV in the final prompt.
	require.NotEmpty(t, model.gotMessages)
	last := model.gotMessages[len(model.gotMessages)-1]
	assert.Contains(t, last.Content, "Base64 CSV:")
	assert.Contains(t, last.Content, base64.StdEncoding.EncodeToString([]byte(ds.CSVString())))
}

func TestRespondLocalPathsSurviveSinkFailure(t *testing.T) {
	// Model errors on any call; all three paths answer locally even when the
	// sink rejects every write.
	model := &fakeModel{chatErr: assert.AnError}
	a := New(testConfig(), model, zap.NewNop())

	res, err := a.Respond(context.Background(), "s1", "plot views over time", jsonDataset(t), nil, failingSink{})
	require.NoError(t, err)
	require.Len(t, res.Charts, 1)
	assert.NotEmpty(t, res.Content)

	res, err = a.Respond(context.Background(), "s1", "show me the stats", jsonDataset(t), nil, failingSink{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Rows: 2")

	res, err = a.Respond(context.Background(), "s1", "play the dog tricks video", jsonDataset(t), nil, failingSink{})
	require.NoError(t, err)
	require.Len(t, res.Charts, 1)
	assert.Equal(t, "dog tricks", res.Charts[0].Video.Title)
}
