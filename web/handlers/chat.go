package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"datachat/web/middleware"
	"datachat/web/services"
)

type ChatHandler struct {
	chatService    *services.ChatService
	sessionService *services.SessionService
	uploadService  *services.UploadService
	logger         *zap.Logger
}

type ChatRequest struct {
	Message string `json:"message" form:"message"`
}

func NewChatHandler(
	chatService *services.ChatService,
	sessionService *services.SessionService,
	uploadService *services.UploadService,
	logger *zap.Logger,
) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		sessionService: sessionService,
		uploadService:  uploadService,
		logger:         logger,
	}
}

// ensureSession resolves the request's session, creating one lazily and
// setting the cookie when this is the client's first send.
func (h *ChatHandler) ensureSession(c *gin.Context) (uuid.UUID, bool) {
	var cookieID *uuid.UUID
	if id, ok := middleware.SessionID(c); ok {
		cookieID = &id
	}

	sessionID, created, err := h.sessionService.EnsureSession(c.Request.Context(), cookieID, nil)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not resolve session", h.logger)
		return uuid.Nil, false
	}
	if created {
		middleware.SetSessionCookie(c, sessionID)
	}
	return sessionID, true
}

// SendMessage accepts one user message and streams the reply as SSE events.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBind(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondWithClientError(c, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	sessionID, ok := h.ensureSession(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	h.chatService.StreamReply(c.Request.Context(), c.Writer, sessionID, strings.TrimSpace(req.Message))
}

// CancelMessage stops the session's in-flight reply. No-op when nothing is
// streaming.
func (h *ChatHandler) CancelMessage(c *gin.Context) {
	sessionID, ok := middleware.SessionID(c)
	if !ok {
		respondWithClientError(c, http.StatusBadRequest, "No session")
		return
	}
	h.chatService.Cancel(sessionID)
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

// Upload stores a data or image file for the session. A data file replaces
// the session's active dataset context.
func (h *ChatHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "No file provided")
		return
	}

	sessionID, ok := h.ensureSession(c)
	if !ok {
		return
	}

	result, err := h.uploadService.ProcessUpload(c.Request.Context(), file, sessionID)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, err, err.Error(), h.logger,
			zap.String("session_id", sessionID.String()))
		return
	}

	resp := gin.H{
		"filename":  result.Record.Filename,
		"file_type": result.Record.FileType,
		"path":      result.Record.FilePath,
	}
	if result.Dataset != nil {
		resp["dataset"] = gin.H{
			"rows":    len(result.Dataset.Rows),
			"columns": result.Dataset.Columns,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListSessions returns the active sessions for the sidebar.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions := h.sessionService.List(c.Request.Context(), nil)
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetMessages returns the stored conversation of one session.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("sessionID"))
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid session ID")
		return
	}
	messages, err := h.chatService.Messages(c.Request.Context(), sessionID)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Could not load messages", h.logger,
			zap.String("session_id", sessionID.String()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// DeleteSession deactivates a session and drops its in-memory state.
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("sessionID"))
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid session ID")
		return
	}
	if err := h.sessionService.Delete(c.Request.Context(), sessionID); err != nil {
		respondWithError(c, http.StatusNotFound, err, "Session not found", h.logger,
			zap.String("session_id", sessionID.String()))
		return
	}
	h.chatService.Forget(sessionID)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
