package engine

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/florapos/backup-engine/internal/config"
	"github.com/florapos/backup-engine/internal/manifest"
	"github.com/florapos/backup-engine/internal/match"

	_ "modernc.org/sqlite"
)

// newTestEngine builds an engine over an isolated directory tree with a
// data dir, a config dir, and a backup store.
func newTestEngine(t *testing.T) (*Engine, *config.Config) {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{}
	cfg.Paths = config.PathsConfig{
		DataDir:   filepath.Join(base, "data"),
		ConfigDir: filepath.Join(base, "config"),
		LogsDir:   filepath.Join(base, "logs"),
		BackupDir: filepath.Join(base, "backup"),
	}
	cfg.Files = config.FilesConfig{
		Include: []string{"*.txt", "*.json", "*.ini"},
		Exclude: []string{"*.tmp"},
	}
	cfg.Backup = config.BackupConfig{
		Enabled:      true,
		VerifyBackup: true,
	}
	cfg.Global.OperationTimeout = time.Minute
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ConfigDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return New(cfg, zerolog.Nop()), cfg
}

func writeSourceFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func createSalesDB(t *testing.T, dir string) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(dir, "sales.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("CREATE TABLE sales (id INTEGER PRIMARY KEY, total REAL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec("INSERT INTO sales (total) VALUES (12.5), (7.0)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestCreateBackupManual(t *testing.T) {
	eng, cfg := newTestEngine(t)
	writeSourceFile(t, cfg.Paths.DataDir, "a.txt", 10)
	writeSourceFile(t, cfg.Paths.DataDir, "b.txt", 20)
	writeSourceFile(t, cfg.Paths.ConfigDir, "settings.json", 30)
	createSalesDB(t, cfg.Paths.DataDir)

	res, err := eng.CreateBackup(context.Background(), "manual_test", manifest.TypeManual)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	m := res.Manifest
	if m.FileCount != 3 {
		t.Fatalf("expected file_count 3, got %d", m.FileCount)
	}
	if len(m.Databases) != 1 {
		t.Fatalf("expected 1 database record, got %d", len(m.Databases))
	}
	if m.Partial {
		t.Fatalf("run should not be partial")
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("manifest invariants: %v", err)
	}

	// Uncompressed run: the directory holds manifest.json and the payload.
	if _, err := os.Stat(filepath.Join(res.Path, manifest.FileName)); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if err := eng.VerifyBackup(context.Background(), res.Path); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestCreateBackupExcludesPatterns(t *testing.T) {
	eng, cfg := newTestEngine(t)
	writeSourceFile(t, cfg.Paths.DataDir, "keep.txt", 5)
	writeSourceFile(t, cfg.Paths.DataDir, "scratch.tmp", 5)

	res, err := eng.CreateBackup(context.Background(), "manual_excl", manifest.TypeManual)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if res.Manifest.FileCount != 1 {
		t.Fatalf("expected only keep.txt, got %d files", res.Manifest.FileCount)
	}
	if res.Manifest.Files[0].RelativePath != "data/keep.txt" {
		t.Fatalf("unexpected record: %+v", res.Manifest.Files[0])
	}
}

func TestVerifyIdempotent(t *testing.T) {
	eng, cfg := newTestEngine(t)
	writeSourceFile(t, cfg.Paths.DataDir, "a.txt", 64)

	res, err := eng.CreateBackup(context.Background(), "manual_idem", manifest.TypeManual)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := eng.VerifyBackup(context.Background(), res.Path); err != nil {
			t.Fatalf("verification pass %d: %v", i+1, err)
		}
	}
}

func TestVerifyDetectsSingleFlippedByte(t *testing.T) {
	eng, cfg := newTestEngine(t)
	writeSourceFile(t, cfg.Paths.DataDir, "ledger.txt", 256)

	res, err := eng.CreateBackup(context.Background(), "manual_corrupt", manifest.TypeManual)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	target := filepath.Join(res.Path, "data", "ledger.txt")
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read backup payload: %v", err)
	}
	data[128] ^= 0x01
	if err := os.WriteFile(target, data, 0o600); err != nil {
		t.Fatalf("write corrupted payload: %v", err)
	}

	err = eng.VerifyBackup(context.Background(), res.Path)
	if err == nil {
		t.Fatalf("expected verification to fail after corruption")
	}
	var ierr *IntegrityError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected IntegrityError, got %T: %v", err, err)
	}
}

func TestCompressedBackupVerifies(t *testing.T) {
	eng, cfg := newTestEngine(t)
	cfg.Backup.Compression = true
	writeSourceFile(t, cfg.Paths.DataDir, "a.txt", 100)
	createSalesDB(t, cfg.Paths.DataDir)

	res, err := eng.CreateBackup(context.Background(), "manual_gz", manifest.TypeManual)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if !strings.HasSuffix(res.Path, ".tar.gz") {
		t.Fatalf("expected compressed archive, got %s", res.Path)
	}
	if _, err := os.Stat(strings.TrimSuffix(res.Path, ".tar.gz")); !os.IsNotExist(err) {
		t.Fatalf("uncompressed directory should be removed after archiving")
	}
	if err := eng.VerifyBackup(context.Background(), res.Path); err != nil {
		t.Fatalf("verify archive: %v", err)
	}
}

func TestBackupNameCollisionGetsSuffix(t *testing.T) {
	eng, cfg := newTestEngine(t)
	writeSourceFile(t, cfg.Paths.DataDir, "a.txt", 10)

	first, err := eng.CreateBackup(context.Background(), "manual_dup", manifest.TypeManual)
	if err != nil {
		t.Fatalf("first backup: %v", err)
	}
	second, err := eng.CreateBackup(context.Background(), "manual_dup", manifest.TypeManual)
	if err != nil {
		t.Fatalf("second backup: %v", err)
	}
	if first.Name == second.Name {
		t.Fatalf("colliding names were not disambiguated: %s", second.Name)
	}
	if second.Name != "manual_dup_2" {
		t.Fatalf("expected monotonic suffix, got %s", second.Name)
	}
}

func TestCreateBackupDisabled(t *testing.T) {
	eng, cfg := newTestEngine(t)
	cfg.Backup.Enabled = false
	if _, err := eng.CreateBackup(context.Background(), "manual_off", manifest.TypeManual); err == nil {
		t.Fatalf("expected error when backups are disabled")
	}
}

func TestListBackupsSkipsManifestless(t *testing.T) {
	eng, cfg := newTestEngine(t)
	writeSourceFile(t, cfg.Paths.DataDir, "a.txt", 10)

	if _, err := eng.CreateBackup(context.Background(), "manual_ok", manifest.TypeManual); err != nil {
		t.Fatalf("create backup: %v", err)
	}
	// A directory without a manifest is not a usable backup.
	if err := os.MkdirAll(filepath.Join(cfg.Paths.BackupDir, "manual_broken"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	backups, err := eng.ListBackups()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected 1 listed backup, got %d", len(backups))
	}
	if backups[0].Name != "manual_ok" {
		t.Fatalf("unexpected backup listed: %s", backups[0].Name)
	}
	if backups[0].Kind != KindDirectory {
		t.Fatalf("unexpected kind: %s", backups[0].Kind)
	}
}

func TestCollectAbortsOnUnwritableStore(t *testing.T) {
	eng, cfg := newTestEngine(t)
	writeSourceFile(t, cfg.Paths.DataDir, "a.txt", 10)

	// A regular file sits where the collector must create the data/
	// subdirectory, so every destination write fails.
	backupDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(backupDir, "data"), nil, 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	matcher := match.New(cfg.Files.Include, cfg.Files.Exclude)
	root := config.SourceRoot{Label: "data", Path: cfg.Paths.DataDir}
	_, _, err := eng.collectRoot(context.Background(), root, backupDir, matcher)
	if err == nil {
		t.Fatalf("expected collect to fail when the store cannot be written")
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %T: %v", err, err)
	}
}

func TestUnreadableSourceMarksPartial(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	eng, cfg := newTestEngine(t)
	writeSourceFile(t, cfg.Paths.DataDir, "ok.txt", 10)
	writeSourceFile(t, cfg.Paths.DataDir, "locked.txt", 10)
	if err := os.Chmod(filepath.Join(cfg.Paths.DataDir, "locked.txt"), 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	res, err := eng.CreateBackup(context.Background(), "manual_partial", manifest.TypeManual)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if !res.Manifest.Partial {
		t.Fatalf("run with a skipped file should be marked partial")
	}
	if res.Manifest.FileCount != 1 {
		t.Fatalf("expected only the readable file, got %d records", res.Manifest.FileCount)
	}
	if _, err := os.Stat(filepath.Join(res.Path, "data", "locked.txt")); !os.IsNotExist(err) {
		t.Fatalf("skipped file should not be in the backup")
	}
}

func TestPackFailureRetainsDirectory(t *testing.T) {
	eng, cfg := newTestEngine(t)
	cfg.Backup.Compression = true
	writeSourceFile(t, cfg.Paths.DataDir, "a.txt", 10)

	// The name fits the filesystem's name limit but name+".tar.gz" does not,
	// so archive creation fails after the directory is fully written.
	name := strings.Repeat("x", 250)
	_, err := eng.CreateBackup(context.Background(), name, manifest.TypeManual)
	if err == nil {
		t.Fatalf("expected archiving to fail")
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %T: %v", err, err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.BackupDir, name, manifest.FileName)); err != nil {
		t.Fatalf("uncompressed directory not retained: %v", err)
	}
}

func TestParseNameTime(t *testing.T) {
	ts, ok := parseNameTime("auto_backup_20260115_093000")
	if !ok {
		t.Fatalf("expected auto_backup name to parse")
	}
	want := time.Date(2026, 1, 15, 9, 30, 0, 0, time.Local)
	if !ts.Equal(want) {
		t.Fatalf("parsed %v, want %v", ts, want)
	}
	if _, ok := parseNameTime("pre_restore_20260115_093000.tar.gz"); !ok {
		t.Fatalf("expected archive name to parse")
	}
	if _, ok := parseNameTime("quarterly-close"); ok {
		t.Fatalf("operator-chosen name should not parse")
	}
}
