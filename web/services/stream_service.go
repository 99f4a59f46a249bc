package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"datachat/web/types"
)

// Stream event types sent to the client.
const (
	EventConnected = "connected"
	EventChunk     = "chunk"
	EventChart     = "chart"
	EventImage     = "image"
	EventError     = "error"
	EventEnd       = "end"
)

// StreamData is one SSE event. Chart is set only for chart events; Content
// carries text chunks, error text, or an image path.
type StreamData struct {
	Type    string       `json:"type"`
	Content string       `json:"content,omitempty"`
	Chart   *types.Chart `json:"chart,omitempty"`
}

type StreamService struct {
	logger *zap.Logger
}

func NewStreamService(logger *zap.Logger) *StreamService {
	return &StreamService{logger: logger}
}

// WriteSSEData is a helper to write SSE formatted data safely.
func (ss *StreamService) WriteSSEData(ctx context.Context, w http.ResponseWriter, data StreamData, mu *sync.Mutex) error {
	mu.Lock()
	defer mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// sseSink adapts an SSE write function to the incremental output interface
// the reply pipeline emits into.
type sseSink struct {
	write func(StreamData) error
}

func (s *sseSink) Chunk(text string) error {
	return s.write(StreamData{Type: EventChunk, Content: text})
}

func (s *sseSink) Chart(chart types.Chart) error {
	c := chart
	return s.write(StreamData{Type: EventChart, Chart: &c})
}
