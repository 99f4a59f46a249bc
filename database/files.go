package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FileRecord represents an uploaded file tracked in the database.
type FileRecord struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Filename  string
	FilePath  string
	FileType  string
	FileSize  int64
	CreatedAt time.Time
	MessageID *uuid.UUID
}

// dataFileTypes are file types that carry tabular context. Images are
// attachments only.
var dataFileTypes = map[string]bool{"csv": true, "json": true}

// CreateFile inserts a new file record. If a file with the same session_id
// and filename already exists, its id is kept but path, size and timestamp
// are refreshed, so a re-upload becomes the session's newest data file.
func (s *PostgresStore) CreateFile(ctx context.Context, file FileRecord) (FileRecord, error) {
	query := `
		INSERT INTO files (id, session_id, filename, file_path, file_type, file_size, created_at, message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, filename) DO UPDATE
		SET file_path = EXCLUDED.file_path,
		    file_size = EXCLUDED.file_size,
		    created_at = EXCLUDED.created_at
		RETURNING id, session_id, filename, file_path, file_type, file_size, created_at, message_id
	`

	var result FileRecord
	var messageID sql.NullString

	err := s.DB.QueryRowContext(ctx, query,
		file.ID,
		file.SessionID,
		file.Filename,
		file.FilePath,
		file.FileType,
		file.FileSize,
		file.CreatedAt,
		uuidToNullString(file.MessageID),
	).Scan(
		&result.ID,
		&result.SessionID,
		&result.Filename,
		&result.FilePath,
		&result.FileType,
		&result.FileSize,
		&result.CreatedAt,
		&messageID,
	)
	if err != nil {
		return FileRecord{}, fmt.Errorf("failed to create file record: %w", err)
	}

	result.MessageID = nullStringToUUID(messageID)
	return result, nil
}

// GetFilesBySession returns all files for a session, oldest first.
func (s *PostgresStore) GetFilesBySession(ctx context.Context, sessionID uuid.UUID) ([]FileRecord, error) {
	query := `
		SELECT id, session_id, filename, file_path, file_type, file_size, created_at, message_id
		FROM files
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var file FileRecord
		var messageID sql.NullString
		if err := rows.Scan(
			&file.ID,
			&file.SessionID,
			&file.Filename,
			&file.FilePath,
			&file.FileType,
			&file.FileSize,
			&file.CreatedAt,
			&messageID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		file.MessageID = nullStringToUUID(messageID)
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file rows: %w", err)
	}
	return files, nil
}

// GetLatestDataFile returns the most recently uploaded CSV or JSON file for
// the session. The newest data upload defines the active dataset context.
func (s *PostgresStore) GetLatestDataFile(ctx context.Context, sessionID uuid.UUID) (FileRecord, error) {
	query := `
		SELECT id, session_id, filename, file_path, file_type, file_size, created_at, message_id
		FROM files
		WHERE session_id = $1 AND file_type = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`
	types := make([]string, 0, len(dataFileTypes))
	for t := range dataFileTypes {
		types = append(types, t)
	}

	var file FileRecord
	var messageID sql.NullString
	err := s.DB.QueryRowContext(ctx, query, sessionID, pq.Array(types)).Scan(
		&file.ID,
		&file.SessionID,
		&file.Filename,
		&file.FilePath,
		&file.FileType,
		&file.FileSize,
		&file.CreatedAt,
		&messageID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FileRecord{}, sql.ErrNoRows
		}
		return FileRecord{}, fmt.Errorf("failed to get latest data file: %w", err)
	}
	file.MessageID = nullStringToUUID(messageID)
	return file, nil
}

// GetFileBySessionAndName retrieves a specific file by session ID and filename.
func (s *PostgresStore) GetFileBySessionAndName(ctx context.Context, sessionID uuid.UUID, filename string) (FileRecord, error) {
	query := `
		SELECT id, session_id, filename, file_path, file_type, file_size, created_at, message_id
		FROM files
		WHERE session_id = $1 AND filename = $2
	`

	var file FileRecord
	var messageID sql.NullString
	err := s.DB.QueryRowContext(ctx, query, sessionID, filename).Scan(
		&file.ID,
		&file.SessionID,
		&file.Filename,
		&file.FilePath,
		&file.FileType,
		&file.FileSize,
		&file.CreatedAt,
		&messageID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FileRecord{}, fmt.Errorf("file not found: %w", err)
		}
		return FileRecord{}, fmt.Errorf("failed to get file: %w", err)
	}
	file.MessageID = nullStringToUUID(messageID)
	return file, nil
}

// Helper functions for UUID <-> sql.NullString conversion
func uuidToNullString(u *uuid.UUID) sql.NullString {
	if u == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: u.String(), Valid: true}
}

func nullStringToUUID(ns sql.NullString) *uuid.UUID {
	if !ns.Valid {
		return nil
	}
	u, err := uuid.Parse(ns.String)
	if err != nil {
		return nil
	}
	return &u
}
