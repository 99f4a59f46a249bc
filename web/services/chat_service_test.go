package services

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"datachat/agent"
	"datachat/config"
	"datachat/database"
	"datachat/llmclient"
	"datachat/web/types"
)

// blockingModel holds every reply open until released, keeping the session's
// send slot occupied.
type blockingModel struct{ release chan struct{} }

func (m *blockingModel) Chat(ctx context.Context, host string, messages []types.AgentMessage, temperature *float64) (string, error) {
	<-m.release
	return "done", nil
}

func (m *blockingModel) ChatStream(ctx context.Context, host string, messages []types.AgentMessage, temperature *float64) (<-chan string, error) {
	out := make(chan string)
	go func() {
		defer close(out)
		select {
		case <-m.release:
		case <-ctx.Done():
			return
		}
		out <- "done"
	}()
	return out, nil
}

func (m *blockingModel) ChatWithTools(ctx context.Context, host string, messages []types.AgentMessage, tools []llmclient.Tool, exec llmclient.ToolExecutor, observe llmclient.ToolCallObserver) (string, error) {
	<-m.release
	return "done", nil
}

func (m *blockingModel) GenerateImage(ctx context.Context, host string, promptText string) ([]byte, error) {
	<-m.release
	return nil, nil
}

func TestStreamReplyRejectsConcurrentSendBeforePersisting(t *testing.T) {
	model := &blockingModel{release: make(chan struct{})}
	cfg := &config.Config{ModelHost: "http://model", SlimRows: 5}
	chatAgent := agent.New(cfg, model, zap.NewNop())

	// No live database behind the store: any access would dereference the nil
	// handle and fail the test, which is the point — a rejected send must not
	// read or write the conversation.
	store := &database.PostgresStore{}
	cache, err := NewDatasetCache(4, zap.NewNop())
	require.NoError(t, err)
	cs := NewChatService(chatAgent, store,
		NewMessageService(store, zap.NewNop()),
		NewSessionService(store, zap.NewNop()),
		NewStreamService(zap.NewNop()),
		cache, zap.NewNop())

	sessionID := uuid.New()
	done := make(chan error, 1)
	go func() {
		_, err := chatAgent.Respond(context.Background(), sessionID.String(), "hello", nil, nil, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return chatAgent.Sending(sessionID.String()) }, time.Second, time.Millisecond)

	rec := httptest.NewRecorder()
	cs.StreamReply(context.Background(), rec, sessionID, "hello again")

	body := rec.Body.String()
	assert.Contains(t, body, EventError)
	assert.Contains(t, body, "already in progress")

	close(model.release)
	require.NoError(t, <-done)
}
