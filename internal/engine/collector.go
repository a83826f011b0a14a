package engine

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florapos/backup-engine/internal/checksum"
	"github.com/florapos/backup-engine/internal/config"
	"github.com/florapos/backup-engine/internal/manifest"
	"github.com/florapos/backup-engine/internal/match"
)

// copyParallelism bounds how many files are copied and checksummed at once.
const copyParallelism = 4

// collectRoot walks one source root, applies the include/exclude matcher,
// and copies every eligible regular file into backupDir/<label>/ preserving
// relative paths. It returns the file records plus a partial flag set when
// an unreadable source file had to be skipped. Failures writing into the
// store (permissions, disk full) abort the run instead.
func (e *Engine) collectRoot(ctx context.Context, root config.SourceRoot, backupDir string, m *match.Matcher) ([]manifest.FileRecord, bool, error) {
	if _, err := os.Stat(root.Path); os.IsNotExist(err) {
		return nil, false, nil
	}

	type task struct {
		sourcePath string
		relSlash   string
		info       fs.FileInfo
	}
	var tasks []task

	walkErr := filepath.WalkDir(root.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			// Directories descend; symlinks and specials are skipped.
			return nil
		}
		rel, err := filepath.Rel(root.Path, p)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		if !m.Eligible(relSlash) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		tasks = append(tasks, task{sourcePath: p, relSlash: relSlash, info: info})
		return nil
	})
	if walkErr != nil {
		return nil, false, &IOError{Op: "scan", Path: root.Path, Err: walkErr}
	}

	var (
		mu      sync.Mutex
		records []manifest.FileRecord
		partial bool
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(copyParallelism)
	for _, t := range tasks {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			relativePath := path.Join(root.Label, t.relSlash)
			destPath := filepath.Join(backupDir, filepath.FromSlash(relativePath))

			// An unreadable source is the only tolerated copy failure: the
			// file is skipped and the run marked partial. Anything that goes
			// wrong on the store side aborts the run.
			in, err := os.Open(t.sourcePath)
			if err != nil {
				e.log.Warn().Err(err).Str("file", t.sourcePath).Msg("skipping unreadable file")
				mu.Lock()
				partial = true
				mu.Unlock()
				return nil
			}
			err = writeCopy(in, destPath, t.info.ModTime())
			in.Close()
			if err != nil {
				return &IOError{Op: "copy", Path: destPath, Err: err}
			}
			// Checksum and size are taken from the copy, not the live
			// source, so later verification compares like with like even
			// if the source keeps changing.
			sum, err := checksum.File(destPath)
			if err != nil {
				return &IOError{Op: "checksum", Path: destPath, Err: err}
			}
			destInfo, err := os.Stat(destPath)
			if err != nil {
				return &IOError{Op: "stat", Path: destPath, Err: err}
			}

			mu.Lock()
			records = append(records, manifest.FileRecord{
				SourcePath:      t.sourcePath,
				DestinationPath: destPath,
				RelativePath:    relativePath,
				Size:            destInfo.Size(),
				Checksum:        sum,
				ModifiedTime:    t.info.ModTime(),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, partial, &IOError{Op: "collect", Path: root.Path, Err: err}
	}
	return records, partial, nil
}

// writeCopy streams in to dest, creating parent directories and stamping the
// given modification time.
func writeCopy(in io.Reader, dest string, mtime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dest, mtime, mtime)
}

// copyPreservingTimes copies src to dest, carrying over the source's
// modification time.
func copyPreservingTimes(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	return writeCopy(in, dest, info.ModTime())
}
