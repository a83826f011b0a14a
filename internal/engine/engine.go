// Package engine implements backup creation, verification, cataloging,
// retention, and restoration over a local backup store.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/florapos/backup-engine/internal/archive"
	"github.com/florapos/backup-engine/internal/checksum"
	"github.com/florapos/backup-engine/internal/config"
	"github.com/florapos/backup-engine/internal/lock"
	"github.com/florapos/backup-engine/internal/manifest"
	"github.com/florapos/backup-engine/internal/match"
	"github.com/florapos/backup-engine/internal/snapshot"
	"github.com/florapos/backup-engine/internal/version"
)

// databasesDir is the subdirectory of a backup holding database snapshots.
const databasesDir = "databases"

type Engine struct {
	cfg *config.Config
	log zerolog.Logger
}

func New(cfg *config.Config, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// BackupResult reports a completed backup run.
type BackupResult struct {
	Name     string
	Path     string // final location: directory, or archive when compressed
	Manifest *manifest.Manifest
}

// CreateBackup runs the full backup pipeline under the global run lock:
// collect files, snapshot databases, build the manifest, verify, optionally
// compress, then prune stale backups.
func (e *Engine) CreateBackup(ctx context.Context, name string, typ manifest.Type) (*BackupResult, error) {
	if !e.cfg.Backup.Enabled {
		return nil, fmt.Errorf("backups are disabled in configuration")
	}

	guard, err := lock.Acquire(e.cfg.LockPath())
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	res, err := e.createLocked(ctx, name, typ, e.cfg.Backup.Compression)
	if err != nil {
		return nil, err
	}

	if typ != manifest.TypePreRestore {
		if n, err := e.cleanupLocked(ctx); err != nil {
			e.log.Warn().Err(err).Msg("retention cleanup failed")
		} else if n > 0 {
			e.log.Info().Int("deleted", n).Msg("pruned stale backups")
		}
	}
	return res, nil
}

// createLocked is the pipeline body; the caller holds the run lock. The
// compress flag is passed explicitly because pre-restore backups are always
// kept uncompressed regardless of configuration.
func (e *Engine) createLocked(ctx context.Context, name string, typ manifest.Type, compress bool) (*BackupResult, error) {
	start := time.Now()
	if name == "" {
		name = GeneratedName(typ, start)
	}
	name = uniqueName(e.cfg.Paths.BackupDir, name)
	backupPath := filepath.Join(e.cfg.Paths.BackupDir, name)

	e.log.Info().Str("backup", name).Str("type", string(typ)).Msg("starting backup")

	if err := os.MkdirAll(backupPath, 0o750); err != nil {
		return nil, &IOError{Op: "create backup directory", Path: backupPath, Err: err}
	}

	matcher := match.New(e.cfg.Files.Include, e.cfg.Files.Exclude)
	var (
		files   []manifest.FileRecord
		partial bool
	)
	for _, root := range e.cfg.SourceRoots() {
		records, rootPartial, err := e.collectRoot(ctx, root, backupPath, matcher)
		if err != nil {
			return nil, err
		}
		files = append(files, records...)
		partial = partial || rootPartial
	}

	databases, err := e.snapshotDatabases(ctx, backupPath)
	if err != nil {
		// A failed online backup fails the whole run; no partial
		// DatabaseRecord is kept.
		return nil, err
	}

	m := e.buildManifest(name, typ, start, files, databases, partial)

	if e.cfg.Backup.VerifyBackup {
		if err := e.verifyDir(ctx, backupPath, m); err != nil {
			return nil, err
		}
	}

	// The manifest is written last; its presence is what marks the backup
	// usable.
	if err := m.Write(backupPath); err != nil {
		return nil, &IOError{Op: "write manifest", Path: backupPath, Err: err}
	}

	finalPath := backupPath
	if compress {
		archivePath := backupPath + archive.Suffix
		if err := archive.Pack(backupPath, archivePath); err != nil {
			// The uncompressed directory is retained for inspection, but
			// the run is reported as failed.
			return nil, &IOError{Op: "compress backup", Path: backupPath, Err: err}
		}
		if err := os.RemoveAll(backupPath); err != nil {
			return nil, &IOError{Op: "remove uncompressed backup", Path: backupPath, Err: err}
		}
		finalPath = archivePath
	}

	e.log.Info().
		Str("backup", name).
		Int("files", m.FileCount).
		Int("databases", len(m.Databases)).
		Int64("bytes", m.TotalSize).
		Bool("partial", m.Partial).
		Dur("elapsed", time.Since(start)).
		Msg("backup completed")

	return &BackupResult{Name: name, Path: finalPath, Manifest: m}, nil
}

// snapshotDatabases copies every *.db under the data dir into the backup's
// databases/ subdirectory via the SQLite online-backup primitive.
func (e *Engine) snapshotDatabases(ctx context.Context, backupPath string) ([]manifest.DatabaseRecord, error) {
	sources, err := filepath.Glob(filepath.Join(e.cfg.Paths.DataDir, "*.db"))
	if err != nil {
		return nil, &IOError{Op: "locate databases", Path: e.cfg.Paths.DataDir, Err: err}
	}
	if len(sources) == 0 {
		return nil, nil
	}

	destDir := filepath.Join(backupPath, databasesDir)
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, &IOError{Op: "create databases directory", Path: destDir, Err: err}
	}

	var records []manifest.DatabaseRecord
	for _, src := range sources {
		name := filepath.Base(src)
		dest := filepath.Join(destDir, name)
		if err := snapshot.Snapshot(ctx, src, dest); err != nil {
			return nil, &IOError{Op: "snapshot database", Path: src, Err: err}
		}
		info, err := os.Stat(dest)
		if err != nil {
			return nil, &IOError{Op: "stat snapshot", Path: dest, Err: err}
		}
		sum, err := checksum.File(dest)
		if err != nil {
			return nil, &IOError{Op: "checksum snapshot", Path: dest, Err: err}
		}
		records = append(records, manifest.DatabaseRecord{
			Name:       name,
			SourcePath: src,
			BackupPath: dest,
			Size:       info.Size(),
			Checksum:   sum,
		})
		e.log.Debug().Str("database", name).Int64("bytes", info.Size()).Msg("database snapshot taken")
	}
	return records, nil
}

func (e *Engine) buildManifest(name string, typ manifest.Type, created time.Time, files []manifest.FileRecord, databases []manifest.DatabaseRecord, partial bool) *manifest.Manifest {
	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })

	hostname, _ := os.Hostname()
	m := &manifest.Manifest{
		Version:    manifest.Version,
		BackupName: name,
		BackupType: typ,
		CreatedAt:  created,
		SystemInfo: manifest.SystemInfo{
			Hostname:    hostname,
			Platform:    runtime.GOOS,
			ToolVersion: version.Version,
		},
		Files:     files,
		Databases: databases,
		FileCount: len(files),
		Checksums: make(map[string]string, len(files)),
		Partial:   partial,
	}
	for _, f := range files {
		m.TotalSize += f.Size
		m.Checksums[f.RelativePath] = f.Checksum
	}
	for _, d := range databases {
		m.TotalSize += d.Size
	}
	return m
}
