// Package agent orchestrates one assistant reply per user message: classify
// the intent, assemble the prompt, dispatch to the strategy handler, and
// deliver results through the sink while enforcing the per-session send
// guard and cooperative cancellation.
package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"datachat/config"
	apperrors "datachat/errors"
	"datachat/dataset"
	"datachat/intent"
	"datachat/llmclient"
	"datachat/prompt"
	"datachat/web/types"
)

// ModelClient is the slice of the LLM client the agent needs. Satisfied by
// *llmclient.Client; tests substitute fakes.
type ModelClient interface {
	Chat(ctx context.Context, host string, messages []types.AgentMessage, temperature *float64) (string, error)
	ChatStream(ctx context.Context, host string, messages []types.AgentMessage, temperature *float64) (<-chan string, error)
	ChatWithTools(ctx context.Context, host string, messages []types.AgentMessage, tools []llmclient.Tool, exec llmclient.ToolExecutor, observe llmclient.ToolCallObserver) (string, error)
	GenerateImage(ctx context.Context, host string, promptText string) ([]byte, error)
}

// Sink receives incremental output while a reply is being produced.
type Sink interface {
	Chunk(text string) error
	Chart(chart types.Chart) error
}

// Result is the finished assistant reply. Image holds raw generated image
// bytes for the caller to store as a file; it is never embedded in Content.
type Result struct {
	Strategy  intent.Strategy
	Content   string
	Charts    []types.Chart
	ToolCalls []types.ToolCall
	Image     []byte
	Canceled  bool
}

// sessionState tracks the in-flight send and cancellation flag per session.
type sessionState struct {
	sending  bool
	canceled bool
}

type Agent struct {
	cfg        *config.Config
	client     ModelClient
	classifier *intent.Classifier
	builder    *prompt.Builder
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func New(cfg *config.Config, client ModelClient, logger *zap.Logger) *Agent {
	return &Agent{
		cfg:        cfg,
		client:     client,
		classifier: intent.New(),
		builder:    &prompt.Builder{SlimRows: cfg.SlimRows},
		logger:     logger,
		sessions:   make(map[string]*sessionState),
	}
}

// begin claims the session's send slot. A session may have at most one reply
// in flight; concurrent sends are rejected, not queued.
func (a *Agent) begin(sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.sessions[sessionID]
	if st == nil {
		st = &sessionState{}
		a.sessions[sessionID] = st
	}
	if st.sending {
		return apperrors.ErrSendInFlight
	}
	st.sending = true
	st.canceled = false
	return nil
}

func (a *Agent) end(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st := a.sessions[sessionID]; st != nil {
		st.sending = false
	}
}

// Cancel requests cooperative cancellation of the session's in-flight reply.
// The reply stops at the next chunk boundary; partial output is kept. With
// nothing in flight this is a no-op.
func (a *Agent) Cancel(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st := a.sessions[sessionID]; st != nil && st.sending {
		st.canceled = true
	}
}

func (a *Agent) isCanceled(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.sessions[sessionID]
	return st != nil && st.canceled
}

// Sending reports whether the session has a reply in flight.
func (a *Agent) Sending(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.sessions[sessionID]
	return st != nil && st.sending
}

// Forget drops the session's in-memory state. Called when a session is
// deleted or expired.
func (a *Agent) Forget(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

// Respond produces one assistant reply. ds may be nil when the session has
// no dataset. Internal failures are recovered here and surfaced as an error
// the caller shows to the user; the process never dies for one bad message.
func (a *Agent) Respond(ctx context.Context, sessionID string, userText string, ds *dataset.Dataset, history []types.AgentMessage, sink Sink) (res *Result, err error) {
	if userText == "" {
		return nil, apperrors.ErrEmptyMessage
	}
	if err := a.begin(sessionID); err != nil {
		return nil, err
	}
	defer a.end(sessionID)

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic while producing reply",
				zap.Any("panic", r),
				zap.String("session_id", sessionID))
			res = nil
			err = fmt.Errorf("internal error while producing the reply")
		}
	}()

	st := intent.State{}
	if ds != nil {
		st.HasCSV = ds.Source == dataset.SourceCSV
		st.HasJSON = ds.Source == dataset.SourceJSON
	}
	strategy := a.classifier.Classify(userText, st)
	a.logger.Info("message classified",
		zap.String("session_id", sessionID),
		zap.String("strategy", string(strategy)))

	res, err = a.dispatch(ctx, sessionID, strategy, userText, ds, history, sink)
	if err != nil {
		a.logger.Error("reply failed",
			zap.String("session_id", sessionID),
			zap.String("strategy", string(strategy)),
			zap.Error(err))
		return nil, err
	}
	res.Strategy = strategy
	return res, nil
}
