package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"datachat/web/types"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type PostgresStore struct {
	DB     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(connStr string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	logger.Info("Connected to the database")
	return &PostgresStore{DB: db, logger: logger}, nil
}

// EnsureSchema creates the required tables if they do not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY,
            email TEXT UNIQUE,
            created_at TIMESTAMPTZ DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS sessions (
            id UUID PRIMARY KEY,
            user_id UUID REFERENCES users(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            last_active TIMESTAMPTZ DEFAULT NOW(),
            title TEXT DEFAULT '',
            is_active BOOLEAN DEFAULT TRUE
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            session_id UUID REFERENCES sessions(id) ON DELETE CASCADE,
            role TEXT NOT NULL,
            content TEXT NOT NULL,
            rendered TEXT NOT NULL DEFAULT '',
            attachments TEXT[] DEFAULT '{}'::TEXT[],
            charts JSONB DEFAULT '[]'::jsonb,
            tool_calls JSONB DEFAULT '[]'::jsonb,
            created_at TIMESTAMPTZ DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created_at ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS files (
            id UUID PRIMARY KEY,
            session_id UUID REFERENCES sessions(id) ON DELETE CASCADE,
            filename TEXT NOT NULL,
            file_path TEXT NOT NULL,
            file_type TEXT NOT NULL,
            file_size BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            message_id UUID,
            UNIQUE (session_id, filename)
        )`,
	}

	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID *uuid.UUID, title string) (uuid.UUID, error) {
	sessionID := uuid.New()
	now := time.Now()
	if title == "" {
		title = fmt.Sprintf("Chat from %s", now.Format("January 2, 2006"))
	}

	var userIDValue sql.NullString
	if userID != nil {
		userIDValue = sql.NullString{String: userID.String(), Valid: true}
	}

	query := `
        INSERT INTO sessions (id, user_id, created_at, last_active, title, is_active)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := s.DB.ExecContext(ctx, query, sessionID, userIDValue, now, now, title, true)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

func (s *PostgresStore) GetSessions(ctx context.Context, userID *uuid.UUID) ([]types.Session, error) {
	query := `
		SELECT id, user_id, created_at, last_active, title, is_active
		FROM sessions
		WHERE is_active = true
		ORDER BY last_active DESC
	`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		var sess types.Session
		var owner sql.NullString
		if err := rows.Scan(&sess.ID, &owner, &sess.CreatedAt, &sess.LastActive, &sess.Title, &sess.IsActive); err != nil {
			return nil, err
		}
		if owner.Valid {
			if parsed, err := uuid.Parse(owner.String); err == nil {
				sess.UserID = &parsed
			}
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) GetSessionByID(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	query := `
		SELECT id, user_id, created_at, last_active, title, is_active
		FROM sessions
		WHERE id = $1 AND is_active = true
	`
	var sess types.Session
	var owner sql.NullString
	err := s.DB.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.ID, &owner, &sess.CreatedAt, &sess.LastActive, &sess.Title, &sess.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if owner.Valid {
		if parsed, err := uuid.Parse(owner.String); err == nil {
			sess.UserID = &parsed
		}
	}
	return &sess, nil
}

// DeleteSession deactivates a session. History stays in place; inactive
// sessions never appear in listings and reject new messages.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET is_active = false WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateSessionTitle(ctx context.Context, sessionID uuid.UUID, title string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE sessions SET title = $1 WHERE id = $2`, title, sessionID)
	return err
}

// GetStaleSessions returns active sessions whose last activity is older than
// the cutoff. Used by the background cleanup loop.
func (s *PostgresStore) GetStaleSessions(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id FROM sessions WHERE is_active = true AND last_active < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg types.ChatMessage) error {
	messageUUID, err := uuid.Parse(msg.ID)
	if err != nil {
		return fmt.Errorf("invalid message ID: %w", err)
	}
	sessionUUID, err := uuid.Parse(msg.SessionID)
	if err != nil {
		return fmt.Errorf("invalid session ID in message: %w", err)
	}

	chartsJSON, err := json.Marshal(msg.Charts)
	if err != nil {
		return fmt.Errorf("marshal charts: %w", err)
	}
	toolCallsJSON, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages (id, session_id, role, content, rendered, attachments, charts, tool_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	now := time.Now()
	_, err = tx.ExecContext(ctx, query, messageUUID, sessionUUID, msg.Role, msg.Content,
		msg.Rendered, pq.Array(msg.Attachments), chartsJSON, toolCallsJSON, now)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET last_active = $1 WHERE id = $2`, now, sessionUUID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) GetMessagesBySession(ctx context.Context, sessionID uuid.UUID) ([]types.ChatMessage, error) {
	query := `
		SELECT id, session_id, role, content, rendered, attachments, charts, tool_calls, created_at
		FROM messages
		WHERE session_id = $1 ORDER BY created_at ASC
	`
	rows, err := s.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		var sessionUUID uuid.UUID
		var attachments pq.StringArray
		var chartsJSON, toolCallsJSON []byte
		if err := rows.Scan(&msg.ID, &sessionUUID, &msg.Role, &msg.Content, &msg.Rendered,
			&attachments, &chartsJSON, &toolCallsJSON, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.SessionID = sessionUUID.String()
		msg.Attachments = attachments
		if len(chartsJSON) > 0 {
			if err := json.Unmarshal(chartsJSON, &msg.Charts); err != nil {
				s.logger.Warn("corrupt charts payload", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
				s.logger.Warn("corrupt tool call payload", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
