package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPackExtractRoundTrip(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "manual_test")
	if err := os.MkdirAll(filepath.Join(src, "data", "nested"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"manifest.json":         `{"version":1}`,
		"data/a.txt":            "alpha",
		"data/nested/b.txt":     "beta",
		"data/nested/ledger.db": "not really a db",
	}
	for rel, content := range files {
		p := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}

	archivePath := filepath.Join(base, "manual_test"+Suffix)
	if err := Pack(src, archivePath); err != nil {
		t.Fatalf("pack: %v", err)
	}

	dest := t.TempDir()
	top, err := Extract(archivePath, dest)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if filepath.Base(top) != "manual_test" {
		t.Fatalf("unexpected top-level dir: %s", top)
	}
	for rel, content := range files {
		data, err := os.ReadFile(filepath.Join(top, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("read extracted %s: %v", rel, err)
		}
		if string(data) != content {
			t.Fatalf("content mismatch for %s: %q", rel, data)
		}
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	base := t.TempDir()
	bogus := filepath.Join(base, "bogus"+Suffix)
	if err := os.WriteFile(bogus, []byte("this is not gzip"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Extract(bogus, t.TempDir()); err == nil {
		t.Fatalf("expected error for corrupt archive")
	}
}

func TestPackMissingSource(t *testing.T) {
	base := t.TempDir()
	err := Pack(filepath.Join(base, "does-not-exist"), filepath.Join(base, "out"+Suffix))
	if err == nil {
		t.Fatalf("expected error for missing source directory")
	}
	if _, statErr := os.Stat(filepath.Join(base, "out"+Suffix)); statErr == nil {
		t.Fatalf("failed pack should not leave an archive behind")
	}
}
