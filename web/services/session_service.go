package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"datachat/database"
	"datachat/web/types"
)

type SessionService struct {
	store  *database.PostgresStore
	logger *zap.Logger
}

func NewSessionService(store *database.PostgresStore, logger *zap.Logger) *SessionService {
	return &SessionService{
		store:  store,
		logger: logger,
	}
}

// EnsureSession returns the existing session or creates a new one. Sessions
// come into existence lazily, on the first message send or upload.
func (ss *SessionService) EnsureSession(ctx context.Context, sessionID *uuid.UUID, userID *uuid.UUID) (uuid.UUID, bool, error) {
	if sessionID != nil {
		session, err := ss.store.GetSessionByID(ctx, *sessionID)
		if err == nil {
			if userID != nil && (session.UserID == nil || *session.UserID != *userID) {
				ss.logger.Warn("Attempted to access session belonging to different user",
					zap.String("session_id", sessionID.String()),
					zap.String("user_id", userID.String()))
				return uuid.Nil, false, fmt.Errorf("unauthorized access to session")
			}
			return session.ID, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, fmt.Errorf("could not load session: %w", err)
		}
		// Stale cookie; fall through and create a fresh session.
	}

	newID, err := ss.store.CreateSession(ctx, userID, "")
	if err != nil {
		return uuid.Nil, false, err
	}
	ss.logger.Info("Session created", zap.String("session_id", newID.String()))
	return newID, true, nil
}

// List returns the active sessions, newest activity first. Returns an empty
// slice on error so the listing degrades instead of failing the page.
func (ss *SessionService) List(ctx context.Context, userID *uuid.UUID) []types.Session {
	sessions, err := ss.store.GetSessions(ctx, userID)
	if err != nil {
		ss.logger.Error("Failed to list sessions", zap.Error(err))
		return []types.Session{}
	}
	return sessions
}

// Delete deactivates the session.
func (ss *SessionService) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := ss.store.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		ss.logger.Error("Failed to delete session",
			zap.Error(err),
			zap.String("session_id", sessionID.String()))
		return err
	}
	return nil
}

// SetTitleFromMessage derives a short session title from the first user
// message and stores it. Best effort: failures leave the default title.
func (ss *SessionService) SetTitleFromMessage(ctx context.Context, sessionID uuid.UUID, message string) {
	title := deriveTitle(message)
	if title == "" {
		return
	}
	if err := ss.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
		ss.logger.Warn("Failed to update session title",
			zap.Error(err),
			zap.String("session_id", sessionID.String()))
	}
}

const titleMaxWords = 6

// deriveTitle extracts the noun phrases of the message for a compact title,
// falling back to the leading words when tagging finds nothing useful.
func deriveTitle(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return ""
	}

	doc, err := prose.NewDocument(message)
	if err == nil {
		var words []string
		for _, tok := range doc.Tokens() {
			if strings.HasPrefix(tok.Tag, "NN") || strings.HasPrefix(tok.Tag, "JJ") {
				words = append(words, tok.Text)
			}
			if len(words) >= titleMaxWords {
				break
			}
		}
		if len(words) >= 2 {
			return strings.Join(words, " ")
		}
	}

	fields := strings.Fields(message)
	if len(fields) > titleMaxWords {
		fields = fields[:titleMaxWords]
	}
	return strings.Join(fields, " ")
}
