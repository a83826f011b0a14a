package engine

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/florapos/backup-engine/internal/archive"
	"github.com/florapos/backup-engine/internal/manifest"
)

// Kind distinguishes the two on-disk forms a backup can take.
type Kind string

const (
	KindDirectory  Kind = "directory"
	KindCompressed Kind = "compressed"
)

// BackupDescriptor is a derived catalog entry. It has no lifecycle of its
// own: the catalog recomputes descriptors on every listing.
type BackupDescriptor struct {
	Name       string
	Path       string
	Kind       Kind
	SizeOnDisk int64
	Created    time.Time
	BackupType manifest.Type
	FileCount  int
	Partial    bool
}

// ListBackups enumerates the usable backups in the store, most recent
// first. Directory backups without a well-formed manifest are invalid and
// omitted.
func (e *Engine) ListBackups() ([]BackupDescriptor, error) {
	entries, err := rawEntries(e.cfg.Paths.BackupDir)
	if err != nil {
		return nil, err
	}

	var backups []BackupDescriptor
	for _, entry := range entries {
		desc := entry
		if desc.Kind == KindDirectory {
			m, err := manifest.Load(desc.Path)
			if err != nil {
				e.log.Debug().Err(err).Str("backup", desc.Name).Msg("skipping backup without usable manifest")
				continue
			}
			desc.Created = m.CreatedAt
			desc.BackupType = m.BackupType
			desc.FileCount = m.FileCount
			desc.Partial = m.Partial
		}
		backups = append(backups, desc)
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Created.After(backups[j].Created) })
	return backups, nil
}

// rawEntries lists everything in the store that looks like a backup,
// including directories whose manifest is missing or corrupt; the retention
// manager prunes those too. Created is taken from the name-embedded
// timestamp when parsable, otherwise the filesystem modification time.
func rawEntries(backupDir string) ([]BackupDescriptor, error) {
	dirEntries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IOError{Op: "list backups", Path: backupDir, Err: err}
	}

	var entries []BackupDescriptor
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(backupDir, name)

		var desc BackupDescriptor
		switch {
		case de.IsDir():
			desc = BackupDescriptor{
				Name:       name,
				Path:       full,
				Kind:       KindDirectory,
				SizeOnDisk: directorySize(full),
			}
		case strings.HasSuffix(name, archive.Suffix):
			info, err := de.Info()
			if err != nil {
				continue
			}
			desc = BackupDescriptor{
				Name:       strings.TrimSuffix(name, archive.Suffix),
				Path:       full,
				Kind:       KindCompressed,
				SizeOnDisk: info.Size(),
			}
		default:
			continue
		}

		if t, ok := parseNameTime(name); ok {
			desc.Created = t
		} else if info, err := os.Stat(full); err == nil {
			desc.Created = info.ModTime()
		}
		entries = append(entries, desc)
	}
	return entries, nil
}

func directorySize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
