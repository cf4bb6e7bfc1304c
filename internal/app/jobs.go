/**
 * @description
 * Scheduled job implementations for the signup scheduler.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/signup-service/internal/config"
)

// StatsRefresher recomputes and stores the cached staff stats.
type StatsRefresher interface {
	RefreshStaffStats(ctx context.Context) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	stats  StatsRefresher
	logger *slog.Logger
	config config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(stats StatsRefresher, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		stats:  stats,
		logger: logger,
		config: cfg,
	}
}

// RefreshStaffStats writes the latest rollups onto staff accounts.
func (j *Jobs) RefreshStaffStats() {
	j.logger.Info("starting staff stats refresh job")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	updated, err := j.stats.RefreshStaffStats(ctx)
	if err != nil {
		j.logger.Error("failed to refresh staff stats", "error", err)
		return
	}

	j.logger.Info("staff stats refresh job finished", "updated_accounts", updated)
}
