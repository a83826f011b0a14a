package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/florapos/backup-engine/internal/archive"
	"github.com/florapos/backup-engine/internal/checksum"
	"github.com/florapos/backup-engine/internal/manifest"
	"github.com/florapos/backup-engine/internal/snapshot"
)

// VerifyBackup checks an existing backup, given as a directory or a
// compressed archive. Archives are extracted to a temporary directory
// first. Both checks of the manifest must pass: every file record's
// checksum, and every database snapshot's internal integrity.
func (e *Engine) VerifyBackup(ctx context.Context, backupPath string) error {
	dir := backupPath
	if strings.HasSuffix(backupPath, archive.Suffix) {
		tmp, err := os.MkdirTemp("", "fpbak-verify-")
		if err != nil {
			return &IOError{Op: "create temp directory", Err: err}
		}
		defer os.RemoveAll(tmp)

		dir, err = archive.Extract(backupPath, tmp)
		if err != nil {
			return &IOError{Op: "extract backup", Path: backupPath, Err: err}
		}
	}

	m, err := manifest.Load(dir)
	if err != nil {
		return &IntegrityError{Backup: filepath.Base(backupPath), Detail: "manifest missing or malformed", Err: err}
	}
	return e.verifyDir(ctx, dir, m)
}

// verifyDir verifies the backup directory at dir against m. It is also
// invoked by the create pipeline before the manifest is written, with the
// in-memory manifest.
func (e *Engine) verifyDir(ctx context.Context, dir string, m *manifest.Manifest) error {
	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(dir, filepath.FromSlash(f.RelativePath))
		want, ok := m.Checksums[f.RelativePath]
		if !ok {
			return &IntegrityError{Backup: m.BackupName, Detail: "no recorded checksum for " + f.RelativePath}
		}
		got, err := checksum.File(p)
		if err != nil {
			return &IntegrityError{Backup: m.BackupName, Detail: "missing backup file " + f.RelativePath, Err: err}
		}
		if got != want {
			return &IntegrityError{Backup: m.BackupName, Detail: "checksum mismatch for " + f.RelativePath}
		}
	}

	for _, d := range m.Databases {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(dir, databasesDir, d.Name)
		if err := snapshot.IntegrityCheck(ctx, p); err != nil {
			return &IntegrityError{Backup: m.BackupName, Detail: "database " + d.Name, Err: err}
		}
	}

	e.log.Debug().Str("backup", m.BackupName).Msg("verification passed")
	return nil
}
