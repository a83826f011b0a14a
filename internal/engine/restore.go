package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/florapos/backup-engine/internal/archive"
	"github.com/florapos/backup-engine/internal/checksum"
	"github.com/florapos/backup-engine/internal/lock"
	"github.com/florapos/backup-engine/internal/manifest"
)

// RestoreOptions selects the backup to restore and where to put it. An
// empty RestorePath replays every file to its original source root.
type RestoreOptions struct {
	BackupPath  string
	RestorePath string
}

// Restore replays a backup over the live tree. Sequence: take a pre-restore
// safety backup of the current state, extract the chosen backup if it is an
// archive, copy every manifest file into place, re-verify the result, and
// roll back from the safety backup if verification or a copy fails.
func (e *Engine) Restore(ctx context.Context, opts RestoreOptions) error {
	guard, err := lock.Acquire(e.cfg.LockPath())
	if err != nil {
		return err
	}
	defer guard.Release()

	e.log.Info().Str("backup", opts.BackupPath).Msg("starting restore")

	// Safety backup of the current live state, taken only for in-place
	// restores; an alternate target never held the live roots' state, so
	// there is nothing to protect or roll back. A failure here is only a
	// warning and the restore proceeds; there is then no rollback net, so
	// make the gap loud in the log.
	var pre *BackupResult
	if opts.RestorePath == "" {
		preName := GeneratedName(manifest.TypePreRestore, time.Now())
		pre, err = e.createPreRestoreBackup(ctx, preName)
		if err != nil {
			e.log.Warn().Err(err).Msg("pre-restore safety backup failed; continuing without rollback protection")
			pre = nil
		}
	}

	// Extraction happens before anything in the target is touched, so an
	// extraction failure aborts cleanly.
	workDir := opts.BackupPath
	if strings.HasSuffix(opts.BackupPath, archive.Suffix) {
		tmp, err := os.MkdirTemp("", "fpbak-restore-")
		if err != nil {
			return &IOError{Op: "create temp directory", Err: err}
		}
		defer os.RemoveAll(tmp)

		workDir, err = archive.Extract(opts.BackupPath, tmp)
		if err != nil {
			return &IOError{Op: "extract backup", Path: opts.BackupPath, Err: err}
		}
	}

	m, err := manifest.Load(workDir)
	if err != nil {
		return &IntegrityError{Backup: filepath.Base(opts.BackupPath), Detail: "manifest missing or malformed", Err: err}
	}

	if err := e.replayFiles(ctx, workDir, opts.RestorePath, m); err != nil {
		return e.rollback(ctx, pre, opts.RestorePath, err)
	}

	if e.cfg.Backup.VerifyBackup {
		if err := e.verifyRestored(ctx, opts.RestorePath, m); err != nil {
			return e.rollback(ctx, pre, opts.RestorePath, err)
		}
	}

	e.log.Info().Str("backup", m.BackupName).Int("files", m.FileCount).Msg("restore completed")
	return nil
}

// createPreRestoreBackup takes the safety backup. It is always stored
// uncompressed so a rollback can read its files directly.
func (e *Engine) createPreRestoreBackup(ctx context.Context, name string) (*BackupResult, error) {
	return e.createLocked(ctx, name, manifest.TypePreRestore, false)
}

// replayFiles copies every file record from the backup into the restore
// target. A file missing from the backup payload is logged and skipped; a
// copy failure aborts and triggers rollback.
func (e *Engine) replayFiles(ctx context.Context, workDir, restorePath string, m *manifest.Manifest) error {
	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return &IOError{Op: "restore", Err: err}
		}
		src := filepath.Join(workDir, filepath.FromSlash(f.RelativePath))
		if _, err := os.Stat(src); err != nil {
			e.log.Warn().Str("file", f.RelativePath).Msg("backup file missing, skipped")
			continue
		}
		target, err := e.restoreTarget(restorePath, f.RelativePath)
		if err != nil {
			e.log.Warn().Err(err).Str("file", f.RelativePath).Msg("no restore target, skipped")
			continue
		}
		if err := copyPreservingTimes(src, target); err != nil {
			return &IOError{Op: "restore file", Path: target, Err: err}
		}
		e.log.Debug().Str("file", target).Msg("restored")
	}
	return nil
}

// verifyRestored recomputes size and checksum for every restored file and
// compares them to the manifest.
func (e *Engine) verifyRestored(ctx context.Context, restorePath string, m *manifest.Manifest) error {
	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := e.restoreTarget(restorePath, f.RelativePath)
		if err != nil {
			continue
		}
		info, err := os.Stat(target)
		if err != nil {
			return &IntegrityError{Backup: m.BackupName, Detail: "restored file missing: " + f.RelativePath, Err: err}
		}
		if info.Size() != f.Size {
			return &IntegrityError{Backup: m.BackupName, Detail: fmt.Sprintf("size mismatch for %s: %d != %d", f.RelativePath, info.Size(), f.Size)}
		}
		sum, err := checksum.File(target)
		if err != nil {
			return &IntegrityError{Backup: m.BackupName, Detail: "cannot checksum restored file " + f.RelativePath, Err: err}
		}
		if sum != f.Checksum {
			return &IntegrityError{Backup: m.BackupName, Detail: "checksum mismatch for restored " + f.RelativePath}
		}
	}
	return nil
}

// rollback copies the pre-restore backup's files back over the live roots
// and re-surfaces the original error. A rollback failure on top of a restore
// failure is the worst case and both errors are reported.
func (e *Engine) rollback(ctx context.Context, pre *BackupResult, restorePath string, cause error) error {
	if restorePath != "" {
		// The live roots were never touched; at worst the alternate target
		// holds a partial replay.
		e.log.Error().Err(cause).Str("target", restorePath).Msg("restore to alternate target failed; source roots are intact")
		return cause
	}
	if pre == nil {
		e.log.Error().Err(cause).Msg("restore failed and no pre-restore backup exists; target may be inconsistent")
		return cause
	}

	e.log.Warn().Err(cause).Str("safety_backup", pre.Name).Msg("restore failed, rolling back")
	// The rollback must run even when the restore failed through operator
	// cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := e.replayFiles(ctx, pre.Path, restorePath, pre.Manifest); err != nil {
		e.log.Error().Err(err).Msg("rollback failed; target left inconsistent")
		return fmt.Errorf("%w (rollback from %s also failed: %v)", cause, pre.Name, err)
	}
	e.log.Info().Str("safety_backup", pre.Name).Msg("rollback completed")
	return cause
}

// restoreTarget maps a manifest relative path (label/rel) to its location
// under the restore target. With no explicit restore path, files return to
// their original source roots.
func (e *Engine) restoreTarget(restorePath, relativePath string) (string, error) {
	if restorePath != "" {
		return filepath.Join(restorePath, filepath.FromSlash(relativePath)), nil
	}
	label, rest, ok := strings.Cut(path.Clean(relativePath), "/")
	if !ok {
		return "", fmt.Errorf("malformed relative path %q", relativePath)
	}
	var root string
	switch label {
	case "data":
		root = e.cfg.Paths.DataDir
	case "config":
		root = e.cfg.Paths.ConfigDir
	case "logs":
		root = e.cfg.Paths.LogsDir
	default:
		return "", fmt.Errorf("unknown source root %q", label)
	}
	return filepath.Join(root, filepath.FromSlash(rest)), nil
}
