// Package manifest defines the durable record of what a backup contains.
// The presence of a well-formed manifest is the sole signal that a backup is
// usable; a backup directory without one is invalid.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Version is bumped whenever a field is added or changes meaning, so older
// manifests can be detected and migrated explicitly.
const Version = 1

// FileName is the manifest's name inside a backup directory.
const FileName = "manifest.json"

// Type classifies who requested a backup.
type Type string

const (
	TypeAuto       Type = "auto"
	TypeManual     Type = "manual"
	TypePreRestore Type = "pre_restore"
)

// FileRecord describes one non-database file included in a backup.
// RelativePath is relative to the collector root and is the stable restore
// key.
type FileRecord struct {
	SourcePath      string    `json:"source_path"`
	DestinationPath string    `json:"destination_path"`
	RelativePath    string    `json:"relative_path"`
	Size            int64     `json:"size"`
	Checksum        string    `json:"checksum"`
	ModifiedTime    time.Time `json:"modified_time"`
}

// DatabaseRecord describes one backed-up database file.
type DatabaseRecord struct {
	Name       string `json:"name"`
	SourcePath string `json:"source_path"`
	BackupPath string `json:"backup_path"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum"`
}

// SystemInfo is run metadata recorded for diagnostics.
type SystemInfo struct {
	Hostname    string `json:"hostname"`
	Platform    string `json:"platform"`
	ToolVersion string `json:"tool_version"`
}

// Manifest is the authoritative record of a backup. It is written once,
// after every file and database copy has succeeded, and is read-only
// thereafter.
type Manifest struct {
	Version    int              `json:"version"`
	BackupName string           `json:"backup_name"`
	BackupType Type             `json:"backup_type"`
	CreatedAt  time.Time        `json:"created_at"`
	SystemInfo SystemInfo       `json:"system_info"`
	Files      []FileRecord     `json:"files"`
	Databases  []DatabaseRecord `json:"databases"`
	TotalSize  int64            `json:"total_size"`
	FileCount  int              `json:"file_count"`
	// Checksums maps relative_path to digest; its keys exactly match
	// Files[*].RelativePath.
	Checksums map[string]string `json:"checksums"`
	// Partial is set when at least one eligible file could not be read and
	// was skipped.
	Partial bool `json:"partial,omitempty"`
}

// Validate checks the structural invariants that every well-formed manifest
// satisfies.
func (m *Manifest) Validate() error {
	if m.Version <= 0 || m.Version > Version {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if m.FileCount != len(m.Files) {
		return fmt.Errorf("file_count %d does not match %d file records", m.FileCount, len(m.Files))
	}
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	for _, d := range m.Databases {
		total += d.Size
	}
	if m.TotalSize != total {
		return fmt.Errorf("total_size %d does not match record sum %d", m.TotalSize, total)
	}
	if len(m.Checksums) != len(m.Files) {
		return fmt.Errorf("checksum map has %d entries for %d files", len(m.Checksums), len(m.Files))
	}
	for _, f := range m.Files {
		if _, ok := m.Checksums[f.RelativePath]; !ok {
			return fmt.Errorf("missing checksum for %s", f.RelativePath)
		}
	}
	return nil
}

// Write serializes the manifest into dir as manifest.json. Callers invoke
// this last, once all copies have succeeded.
func (m *Manifest) Write(dir string) error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), payload, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Load reads and validates the manifest from a backup directory.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}
