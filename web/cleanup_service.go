package web

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"datachat/agent"
	"datachat/config"
	"datachat/database"
)

// CleanupService retires sessions that have gone quiet and removes their
// uploaded files.
type CleanupService struct {
	store  *database.PostgresStore
	agent  *agent.Agent
	logger *zap.Logger
}

func NewCleanupService(store *database.PostgresStore, a *agent.Agent, logger *zap.Logger) *CleanupService {
	return &CleanupService{
		store:  store,
		agent:  a,
		logger: logger,
	}
}

// CleanupStaleSessions deactivates sessions with no activity since maxAge
// ago. Returns the number of sessions retired.
func (cs *CleanupService) CleanupStaleSessions(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	stale, err := cs.store.GetStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get stale sessions: %w", err)
	}
	if len(stale) == 0 {
		cs.logger.Debug("No stale sessions found")
		return 0, nil
	}

	cs.logger.Info("Retiring stale sessions", zap.Int("count", len(stale)))

	retired := 0
	for _, sessionID := range stale {
		if err := cs.retireSession(ctx, sessionID); err != nil {
			cs.logger.Error("Failed to retire stale session",
				zap.Error(err),
				zap.String("session_id", sessionID.String()))
			continue
		}
		retired++
	}
	return retired, nil
}

func (cs *CleanupService) retireSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := cs.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	cs.agent.Forget(sessionID.String())

	uploadDir := filepath.Join("uploads", sessionID.String())
	if err := os.RemoveAll(uploadDir); err != nil {
		cs.logger.Warn("Failed to delete upload directory",
			zap.Error(err),
			zap.String("path", uploadDir),
			zap.String("session_id", sessionID.String()))
	}
	return nil
}

// StartSessionCleanup runs the cleanup loop until the context ends.
func StartSessionCleanup(ctx context.Context, cfg *config.Config, cleanup *CleanupService, logger *zap.Logger) {
	if !cfg.CleanupEnabled {
		logger.Info("Session cleanup disabled")
		return
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	logger.Info("Session cleanup started",
		zap.Duration("interval", cfg.CleanupInterval),
		zap.Duration("retention", cfg.SessionRetentionAge))

	for {
		select {
		case <-ticker.C:
			if n, err := cleanup.CleanupStaleSessions(ctx, cfg.SessionRetentionAge); err != nil {
				logger.Error("Session cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("Session cleanup completed", zap.Int("sessions_retired", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
