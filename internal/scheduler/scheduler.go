// Package scheduler runs the daily background jobs of the client: pruning
// old history and logging a summary of what the history store holds.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/config"
)

// Pruner deletes history older than a cutoff. *db.HistoryDatabase
// implements it.
type Pruner interface {
	Prune(before time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	history Pruner
	now     func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, history Pruner) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		history: history,
		now:     time.Now,
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	histCfg := s.cfg.GetApplicationData().History
	if s.history == nil || histCfg.RetentionDays <= 0 {
		log.Info().Msg("history retention disabled, scheduler idle")
		<-ctx.Done()
		return
	}

	log.Info().Msg("scheduler started")
	s.runRetentionLoop(ctx)
	log.Info().Msg("scheduler stopped")
}

// runRetentionLoop prunes the history at the configured time every day.
func (s *Scheduler) runRetentionLoop(ctx context.Context) {
	for {
		histCfg := s.cfg.GetApplicationData().History
		now := s.now()
		nextRun := nextCleanupTime(histCfg.CleanupTime, now)
		sleepDuration := nextRun.Sub(now)
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history cleanup scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.RunRetention()
		}
	}
}

// RunRetention deletes history older than the retention window and
// returns the number of rows removed.
func (s *Scheduler) RunRetention() int64 {
	days := s.cfg.GetApplicationData().History.RetentionDays
	if s.history == nil || days <= 0 {
		return 0
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	log.Info().
		Int("retention_days", days).
		Time("cutoff", cutoff).
		Msg("running history cleanup")

	removed, err := s.history.Prune(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("history cleanup failed")
		return 0
	}

	log.Info().Int64("deleted_rows", removed).Msg("history cleanup completed")
	return removed
}

// nextCleanupTime returns the next occurrence of the HH:MM clock after now.
// Unparseable input falls back to 04:00.
func nextCleanupTime(clock string, now time.Time) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(clock, ":")
	if len(parts) >= 2 {
		var h, m int
		if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &h, &m); err == nil &&
			h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
