// Package snapshot produces point-in-time-consistent copies of live SQLite
// databases and checks their internal integrity.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// Snapshot copies the database at sourcePath to destPath using VACUUM INTO,
// SQLite's online page-level copy. It runs concurrently with readers and
// writers and can never observe a torn page, unlike a raw file copy of an
// open database.
func Snapshot(ctx context.Context, sourcePath, destPath string) error {
	// The driver would happily create a missing source as an empty database.
	if _, err := os.Stat(sourcePath); err != nil {
		return fmt.Errorf("source database: %w", err)
	}

	db, err := sql.Open("sqlite", sourcePath)
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping source database: %w", err)
	}
	// Wait out short write bursts instead of failing with SQLITE_BUSY.
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	// VACUUM INTO refuses to write over an existing file.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("clear snapshot target: %w", err)
		}
	}

	escaped := strings.ReplaceAll(destPath, "'", "''")
	if _, err := db.ExecContext(ctx, "VACUUM INTO '"+escaped+"'"); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

// IntegrityCheck opens the database at path and runs PRAGMA integrity_check.
// Any result other than "ok" is an error.
func IntegrityCheck(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database for integrity check: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
