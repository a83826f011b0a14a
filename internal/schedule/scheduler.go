// Package schedule drives automatic backups on a fixed interval.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/florapos/backup-engine/internal/config"
	"github.com/florapos/backup-engine/internal/engine"
	"github.com/florapos/backup-engine/internal/manifest"
)

// pruneInterval is the coarse tick for retention sweeps that run even when
// no backup is due.
const pruneInterval = 24 * time.Hour

// Scheduler is the single background loop that triggers automatic backups
// and periodically prunes stale ones. All work happens synchronously inside
// the tick; the engine's run lock serializes it against operator commands.
type Scheduler struct {
	cfg     *config.Config
	eng     *engine.Engine
	log     zerolog.Logger
	lastRun time.Time
}

func New(cfg *config.Config, eng *engine.Engine, log zerolog.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, eng: eng, log: log}
}

// Run blocks until ctx is canceled. A fine-grained check ticker decides
// whether the backup interval has elapsed; a failed run is logged and
// retried on the next due tick, never terminating the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.cfg.Backup.Enabled || !s.cfg.Backup.AutoBackup {
		return fmt.Errorf("automatic backups are disabled in configuration")
	}

	interval := time.Duration(s.cfg.Backup.IntervalHours) * time.Hour
	s.lastRun = time.Now()
	s.log.Info().
		Dur("interval", interval).
		Dur("check_every", s.cfg.Scheduler.CheckInterval).
		Msg("scheduler started")

	checkTicker := time.NewTicker(s.cfg.Scheduler.CheckInterval)
	defer checkTicker.Stop()
	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return nil
		case now := <-checkTicker.C:
			if now.Sub(s.lastRun) < interval {
				continue
			}
			if err := s.runBackup(ctx); err != nil {
				s.log.Error().Err(err).Msg("automatic backup failed, waiting for next tick")
				continue
			}
			s.lastRun = now
		case <-pruneTicker.C:
			if n, err := s.eng.CleanupOldBackups(ctx); err != nil {
				s.log.Warn().Err(err).Msg("scheduled retention sweep failed")
			} else if n > 0 {
				s.log.Info().Int("deleted", n).Msg("scheduled retention sweep pruned backups")
			}
		}
	}
}

func (s *Scheduler) runBackup(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Global.OperationTimeout)
	defer cancel()

	name := engine.GeneratedName(manifest.TypeAuto, time.Now())
	if _, err := s.eng.CreateBackup(runCtx, name, manifest.TypeAuto); err != nil {
		return &engine.ScheduleError{Err: err}
	}
	return nil
}
