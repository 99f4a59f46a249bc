package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"datachat/database"
	"datachat/web/format"
	"datachat/web/types"
)

type MessageService struct {
	store  *database.PostgresStore
	logger *zap.Logger
}

func NewMessageService(store *database.PostgresStore, logger *zap.Logger) *MessageService {
	return &MessageService{
		store:  store,
		logger: logger,
	}
}

// base64Block matches inline base64 payloads: data URIs and the encoded CSV
// attachment of code-execution prompts. Neither belongs in stored history.
var (
	dataURI     = regexp.MustCompile(`data:[\w/+.-]+;base64,[A-Za-z0-9+/=]+`)
	base64CSV   = regexp.MustCompile(`(?s)Base64 CSV:\s*[A-Za-z0-9+/=\s]+`)
	longBase64  = regexp.MustCompile(`[A-Za-z0-9+/]{512,}={0,2}`)
	placeholder = "[data omitted]"
)

// StripTransientPayloads removes base64 payloads from message text before it
// is persisted. Stored history round-trips; encoded data does not.
func StripTransientPayloads(content string) string {
	content = dataURI.ReplaceAllString(content, placeholder)
	content = base64CSV.ReplaceAllString(content, placeholder)
	content = longBase64.ReplaceAllString(content, placeholder)
	return content
}

// SaveUserMessage persists a user turn and returns its ID.
func (ms *MessageService) SaveUserMessage(ctx context.Context, sessionID uuid.UUID, content string, attachments []string) (string, error) {
	msg := types.ChatMessage{
		ID:          uuid.New().String(),
		SessionID:   sessionID.String(),
		Role:        "user",
		Content:     StripTransientPayloads(content),
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}
	if err := ms.store.CreateMessage(ctx, msg); err != nil {
		ms.logger.Error("Failed to save user message",
			zap.Error(err),
			zap.String("session_id", msg.SessionID))
		return "", err
	}
	return msg.ID, nil
}

// SaveAssistantMessage persists an assistant turn with its rendered HTML,
// charts, tool calls, and attachments.
func (ms *MessageService) SaveAssistantMessage(ctx context.Context, sessionID uuid.UUID, content string, charts []types.Chart, toolCalls []types.ToolCall, attachments []string) (string, error) {
	content = StripTransientPayloads(content)
	msg := types.ChatMessage{
		ID:          uuid.New().String(),
		SessionID:   sessionID.String(),
		Role:        "assistant",
		Content:     content,
		Rendered:    format.RenderMarkdown(content),
		Charts:      charts,
		ToolCalls:   toolCalls,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}
	if err := ms.store.CreateMessage(ctx, msg); err != nil {
		ms.logger.Error("Failed to save assistant message - CONVERSATION DATA MAY BE LOST",
			zap.Error(err),
			zap.String("session_id", msg.SessionID),
			zap.Int("content_length", len(content)))
		return "", err
	}
	return msg.ID, nil
}

// History converts stored messages into the model conversation format.
// Attachments, charts and renderings stay behind; the model sees text turns.
func (ms *MessageService) History(ctx context.Context, sessionID uuid.UUID) ([]types.ChatMessage, []types.AgentMessage, error) {
	messages, err := ms.store.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	history := make([]types.AgentMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		history = append(history, types.AgentMessage{Role: msg.Role, Content: msg.Content})
	}
	return messages, history, nil
}
