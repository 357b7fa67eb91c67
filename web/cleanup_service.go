package web

import (
	"context"
	"time"

	"multichat/config"
	"multichat/web/services"

	"go.uber.org/zap"
)

// CleanupService drops workspaces nobody has touched in a while. Their chats
// live only in memory and are gone afterwards.
type CleanupService struct {
	workspaces *services.WorkspaceService
	logger     *zap.Logger
}

// NewCleanupService creates a new cleanup service instance
func NewCleanupService(workspaces *services.WorkspaceService, logger *zap.Logger) *CleanupService {
	return &CleanupService{
		workspaces: workspaces,
		logger:     logger,
	}
}

// CleanupStaleWorkspaces evicts workspaces idle for longer than maxAge and
// returns how many were dropped.
func (cs *CleanupService) CleanupStaleWorkspaces(maxAge time.Duration) int {
	evicted := cs.workspaces.EvictIdle(maxAge)
	if evicted == 0 {
		cs.logger.Debug("No stale workspaces found")
		return 0
	}

	cs.logger.Info("Stale workspace cleanup completed",
		zap.Int("workspaces_evicted", evicted),
		zap.Int("workspaces_remaining", cs.workspaces.Len()),
		zap.Duration("max_age", maxAge))
	return evicted
}

// StartWorkspaceCleanup runs CleanupStaleWorkspaces every cfg.CleanupInterval
// until ctx is done.
func StartWorkspaceCleanup(ctx context.Context, cfg *config.Config, cs *CleanupService, logger *zap.Logger) {
	if cfg.CleanupInterval <= 0 || cfg.WorkspaceIdleTTL <= 0 {
		logger.Info("Workspace cleanup disabled")
		return
	}

	logger.Info("Starting workspace cleanup routine",
		zap.Duration("interval", cfg.CleanupInterval),
		zap.Duration("idle_ttl", cfg.WorkspaceIdleTTL))

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cs.CleanupStaleWorkspaces(cfg.WorkspaceIdleTTL)
		case <-ctx.Done():
			return
		}
	}
}
