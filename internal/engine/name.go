package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/florapos/backup-engine/internal/archive"
	"github.com/florapos/backup-engine/internal/manifest"
)

// nameTimeLayout is the second-granularity timestamp embedded in generated
// backup names.
const nameTimeLayout = "20060102_150405"

// GeneratedName builds the conventional name for a non-manual backup:
// auto_backup_YYYYMMDD_HHMMSS or pre_restore_YYYYMMDD_HHMMSS.
func GeneratedName(typ manifest.Type, when time.Time) string {
	prefix := "auto_backup"
	if typ == manifest.TypePreRestore {
		prefix = "pre_restore"
	}
	return fmt.Sprintf("%s_%s", prefix, when.Format(nameTimeLayout))
}

// uniqueName disambiguates a backup name that already exists in the store,
// either as a directory or a compressed archive, by appending a monotonic
// numeric suffix. Two backups requested within the same second otherwise
// collide.
func uniqueName(backupDir, name string) string {
	candidate := name
	for n := 2; ; n++ {
		if !nameTaken(backupDir, candidate) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
}

func nameTaken(backupDir, name string) bool {
	if _, err := os.Stat(filepath.Join(backupDir, name)); err == nil {
		return true
	}
	_, err := os.Stat(filepath.Join(backupDir, name+archive.Suffix))
	return err == nil
}

// parseNameTime extracts the creation timestamp embedded in a generated
// backup name. It recognizes the auto_backup_/manual_backup_/pre_restore_
// prefixes; anything else (operator-chosen manual names, disambiguation
// suffixes) reports false and callers fall back to filesystem times.
func parseNameTime(name string) (time.Time, bool) {
	name = strings.TrimSuffix(name, archive.Suffix)
	for _, prefix := range []string{"auto_backup_", "manual_backup_", "pre_restore_"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			t, err := time.ParseInLocation(nameTimeLayout, rest, time.Local)
			if err != nil {
				return time.Time{}, false
			}
			return t, true
		}
	}
	return time.Time{}, false
}
