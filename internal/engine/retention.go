package engine

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/florapos/backup-engine/internal/lock"
)

// CleanupOldBackups applies the retention policy once, under the global run
// lock, and returns the number of backups deleted.
func (e *Engine) CleanupOldBackups(ctx context.Context) (int, error) {
	guard, err := lock.Acquire(e.cfg.LockPath())
	if err != nil {
		return 0, err
	}
	defer guard.Release()
	return e.cleanupLocked(ctx)
}

// cleanupLocked deletes every backup older than the retention_days cutoff
// and, when keep_count is set, everything beyond the keep_count most recent.
// Entries with unparsable names were already given filesystem times by the
// catalog, so corrupt backups age out too.
func (e *Engine) cleanupLocked(ctx context.Context) (int, error) {
	retentionDays := e.cfg.Backup.RetentionDays
	keepCount := e.cfg.Backup.KeepCount
	if retentionDays <= 0 && keepCount <= 0 {
		return 0, nil
	}

	entries, err := rawEntries(e.cfg.Paths.BackupDir)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Created.After(entries[j].Created) })

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		expired := retentionDays > 0 && entry.Created.Before(cutoff)
		overCount := keepCount > 0 && i >= keepCount
		if !expired && !overCount {
			continue
		}

		if err := os.RemoveAll(entry.Path); err != nil {
			e.log.Warn().Err(err).Str("backup", entry.Name).Msg("failed to delete stale backup")
			continue
		}
		deleted++
		e.log.Info().Str("backup", entry.Name).Time("created", entry.Created).Msg("deleted stale backup")
	}
	return deleted, nil
}
