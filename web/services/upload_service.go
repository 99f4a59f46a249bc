package services

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"datachat/config"
	"datachat/database"
	"datachat/dataset"
)

// allowedExtensions maps upload extensions to their tracked file type.
var allowedExtensions = map[string]string{
	".csv":  "csv",
	".json": "json",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".gif":  "image",
}

type UploadService struct {
	store        *database.PostgresStore
	datasetCache *DatasetCache
	cfg          *config.Config
	logger       *zap.Logger
}

// UploadResult describes a stored upload. Dataset is non-nil only for data
// files, which become the session's active context.
type UploadResult struct {
	Record  database.FileRecord
	Dataset *dataset.Dataset
}

func NewUploadService(store *database.PostgresStore, datasetCache *DatasetCache, cfg *config.Config, logger *zap.Logger) *UploadService {
	return &UploadService{
		store:        store,
		datasetCache: datasetCache,
		cfg:          cfg,
		logger:       logger,
	}
}

// ValidateFile checks type and size and returns the sanitized filename and
// tracked file type.
func (us *UploadService) ValidateFile(file *multipart.FileHeader) (string, string, error) {
	sanitized := sanitizeFilename(file.Filename)
	if sanitized == "" {
		return "", "", fmt.Errorf("invalid or unsafe filename")
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	fileType, ok := allowedExtensions[ext]
	if !ok {
		return "", "", fmt.Errorf("invalid file type. Please upload CSV, JSON, or image files")
	}

	if us.cfg.MaxUploadSize > 0 && file.Size > us.cfg.MaxUploadSize {
		return "", "", fmt.Errorf("file too large. Maximum size is %d bytes", us.cfg.MaxUploadSize)
	}

	return sanitized, fileType, nil
}

// SaveFile writes the upload under the session's upload directory and
// returns the stored path.
func (us *UploadService) SaveFile(file *multipart.FileHeader, sessionID uuid.UUID, sanitizedFilename string) (string, error) {
	uploadDir := filepath.Join("uploads", sessionID.String())
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	dst := filepath.Join(uploadDir, sanitizedFilename)

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}
	defer out.Close()

	if _, err := out.ReadFrom(src); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	return dst, nil
}

// ProcessUpload validates, stores and tracks an upload. A data file is
// parsed immediately so a malformed table is rejected at upload time, before
// it becomes the session's context.
func (us *UploadService) ProcessUpload(ctx context.Context, file *multipart.FileHeader, sessionID uuid.UUID) (*UploadResult, error) {
	sanitized, fileType, err := us.ValidateFile(file)
	if err != nil {
		return nil, err
	}

	path, err := us.SaveFile(file, sessionID, sanitized)
	if err != nil {
		us.logger.Error("Failed to save uploaded file",
			zap.Error(err),
			zap.String("filename", sanitized),
			zap.String("session_id", sessionID.String()))
		return nil, err
	}

	record, err := us.store.CreateFile(ctx, database.FileRecord{
		ID:        uuid.New(),
		SessionID: sessionID,
		Filename:  sanitized,
		FilePath:  path,
		FileType:  fileType,
		FileSize:  file.Size,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to track uploaded file: %w", err)
	}

	result := &UploadResult{Record: record}
	if fileType == "csv" || fileType == "json" {
		us.datasetCache.Invalidate(record)
		ds, err := us.datasetCache.Load(record)
		if err != nil {
			return nil, err
		}
		result.Dataset = ds
	}

	us.logger.Info("File uploaded",
		zap.String("filename", sanitized),
		zap.String("file_type", fileType),
		zap.String("session_id", sessionID.String()),
		zap.Int64("size_bytes", file.Size))
	return result, nil
}

// sanitizeFilename sanitizes user-provided filenames for safe storage.
func sanitizeFilename(filename string) string {
	sanitized := strings.Trim(filename, " .")
	sanitized = strings.ReplaceAll(sanitized, "..", "")

	ext := filepath.Ext(sanitized)
	nameWithoutExt := strings.TrimSuffix(sanitized, ext)
	nameWithoutExt = replaceSpecialChars(nameWithoutExt)
	sanitized = nameWithoutExt + ext

	if len(sanitized) > 255 {
		maxNameLen := 255 - len(ext)
		if maxNameLen > 0 {
			sanitized = nameWithoutExt[:maxNameLen] + ext
		} else {
			sanitized = sanitized[:255]
		}
	}
	return sanitized
}

func replaceSpecialChars(s string) string {
	s = strings.ReplaceAll(s, "%", "pct")
	s = strings.ReplaceAll(s, "&", "and")
	s = strings.ReplaceAll(s, " ", "_")

	// Problematic across Windows, Linux, macOS
	unsafeChars := []string{
		"<", ">", ":", "\"", "/", "\\", "|", "?", "*",
		"(", ")", "[", "]", "{", "}", "'", ",", ";", "!",
		"@", "#", "$", "^", "`", "~", "+", "=",
	}
	for _, char := range unsafeChars {
		s = strings.ReplaceAll(s, char, "_")
	}

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}
