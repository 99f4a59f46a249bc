package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"datachat/agent"
	"datachat/database"
	apperrors "datachat/errors"
	"datachat/dataset"
	"datachat/web/types"
)

type ChatService struct {
	agent          *agent.Agent
	store          *database.PostgresStore
	messageService *MessageService
	sessionService *SessionService
	streamService  *StreamService
	datasetCache   *DatasetCache
	logger         *zap.Logger
}

func NewChatService(
	a *agent.Agent,
	store *database.PostgresStore,
	messageService *MessageService,
	sessionService *SessionService,
	streamService *StreamService,
	datasetCache *DatasetCache,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		agent:          a,
		store:          store,
		messageService: messageService,
		sessionService: sessionService,
		streamService:  streamService,
		datasetCache:   datasetCache,
		logger:         logger,
	}
}

// Cancel stops the session's in-flight reply at the next chunk boundary.
func (cs *ChatService) Cancel(sessionID uuid.UUID) {
	cs.agent.Cancel(sessionID.String())
}

// Forget drops the session's in-memory agent state after deletion.
func (cs *ChatService) Forget(sessionID uuid.UUID) {
	cs.agent.Forget(sessionID.String())
}

// activeDataset resolves the session's current data context: the most recent
// CSV or JSON upload, parsed. nil when the session has no data file.
func (cs *ChatService) activeDataset(ctx context.Context, sessionID uuid.UUID) *dataset.Dataset {
	record, err := cs.store.GetLatestDataFile(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			cs.logger.Warn("Failed to resolve data context",
				zap.Error(err),
				zap.String("session_id", sessionID.String()))
		}
		return nil
	}
	ds, err := cs.datasetCache.Load(record)
	if err != nil {
		cs.logger.Warn("Failed to parse data context, continuing without it",
			zap.Error(err),
			zap.String("file", record.Filename))
		return nil
	}
	return ds
}

// StreamReply runs the full message lifecycle over SSE: persist the user
// turn, produce the reply, stream it, persist the assistant turn. Failures
// after this point surface as a visible assistant message, never a dropped
// conversation.
func (cs *ChatService) StreamReply(ctx context.Context, w http.ResponseWriter, sessionID uuid.UUID, userText string) {
	var writeMu sync.Mutex
	writeSSE := func(data StreamData) error {
		return cs.streamService.WriteSSEData(ctx, w, data, &writeMu)
	}

	if err := writeSSE(StreamData{Type: EventConnected}); err != nil {
		cs.logger.Error("Failed to open stream", zap.Error(err), zap.String("session_id", sessionID.String()))
		return
	}

	// A send while a prior send is in flight is a no-op: reject before the
	// user message is persisted so the stored conversation stays unchanged.
	if cs.agent.Sending(sessionID.String()) {
		writeSSE(StreamData{Type: EventError, Content: "A reply is already in progress for this session."})
		return
	}

	priorMessages, history, err := cs.messageService.History(ctx, sessionID)
	if err != nil {
		cs.logger.Error("Failed to load history",
			zap.Error(err),
			zap.String("session_id", sessionID.String()))
		writeSSE(StreamData{Type: EventError, Content: "Could not load conversation history."})
		return
	}

	if _, err := cs.messageService.SaveUserMessage(ctx, sessionID, userText, nil); err != nil {
		writeSSE(StreamData{Type: EventError, Content: "Could not save your message."})
		return
	}
	if len(priorMessages) == 0 {
		cs.sessionService.SetTitleFromMessage(ctx, sessionID, userText)
	}

	ds := cs.activeDataset(ctx, sessionID)
	res, err := cs.agent.Respond(ctx, sessionID.String(), userText, ds, history, &sseSink{write: writeSSE})

	// DB writes after the reply use a background context so a client
	// disconnect cannot lose the conversation.
	backgroundCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err != nil {
		if errors.Is(err, apperrors.ErrSendInFlight) {
			writeSSE(StreamData{Type: EventError, Content: "A reply is already in progress for this session."})
			return
		}
		visible := fmt.Sprintf("Sorry, I could not answer that: %v", err)
		writeSSE(StreamData{Type: EventError, Content: visible})
		if _, saveErr := cs.messageService.SaveAssistantMessage(backgroundCtx, sessionID, visible, nil, nil, nil); saveErr != nil {
			cs.logger.Error("Failed to persist error reply", zap.Error(saveErr))
		}
		writeSSE(StreamData{Type: EventEnd})
		return
	}

	var attachments []string
	if len(res.Image) > 0 {
		path, err := cs.saveGeneratedImage(sessionID, res.Image)
		if err != nil {
			cs.logger.Error("Failed to store generated image", zap.Error(err))
		} else {
			attachments = append(attachments, path)
			writeSSE(StreamData{Type: EventImage, Content: path})
		}
	}

	if _, err := cs.messageService.SaveAssistantMessage(backgroundCtx, sessionID, res.Content, res.Charts, res.ToolCalls, attachments); err != nil {
		writeSSE(StreamData{Type: EventError, Content: "The reply could not be saved."})
	}

	writeSSE(StreamData{Type: EventEnd})
}

// saveGeneratedImage writes generated image bytes into the session's upload
// directory and returns the stored path. Raw bytes never enter the database.
func (cs *ChatService) saveGeneratedImage(sessionID uuid.UUID, img []byte) (string, error) {
	dir := filepath.Join("uploads", sessionID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("generated-%s.png", uuid.New().String()[:8]))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Messages returns the stored conversation for display.
func (cs *ChatService) Messages(ctx context.Context, sessionID uuid.UUID) ([]types.ChatMessage, error) {
	messages, _, err := cs.messageService.History(ctx, sessionID)
	return messages, err
}
