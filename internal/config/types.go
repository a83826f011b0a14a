package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration schema. It is constructed once by Load
// and passed by reference into every component; nothing mutates it after
// startup.
type Config struct {
	Global    GlobalConfig    `mapstructure:"global"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Files     FilesConfig     `mapstructure:"files"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type BackupConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	AutoBackup    bool `mapstructure:"auto_backup"`
	IntervalHours int  `mapstructure:"interval_hours"`
	RetentionDays int  `mapstructure:"retention_days"` // 0 disables age-based pruning
	KeepCount     int  `mapstructure:"keep_count"`     // 0 disables count-based pruning
	Compression   bool `mapstructure:"compression"`
	VerifyBackup  bool `mapstructure:"verify_backup"`
	IncludeLogs   bool `mapstructure:"include_logs"`

	// Parsed but not enforced. Encryption is reserved for a future release;
	// MaxBackupSizeMB is advisory only.
	Encryption      bool `mapstructure:"encryption"`
	MaxBackupSizeMB int  `mapstructure:"max_backup_size_mb"`
}

type PathsConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	ConfigDir string `mapstructure:"config_dir"`
	LogsDir   string `mapstructure:"logs_dir"`
	BackupDir string `mapstructure:"backup_dir"`
}

type FilesConfig struct {
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

type SchedulerConfig struct {
	// CheckInterval is the fine-grained tick used only to decide whether an
	// automatic backup is due; the backup period itself comes from
	// backup.interval_hours.
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// SourceRoot is one directory the collector walks, plus the subdirectory of
// the backup it is copied into.
type SourceRoot struct {
	Label string // subdirectory inside the backup ("data", "config", "logs")
	Path  string
}

// SourceRoots returns the directories to collect, honoring include_logs.
func (c *Config) SourceRoots() []SourceRoot {
	roots := []SourceRoot{
		{Label: "data", Path: c.Paths.DataDir},
		{Label: "config", Path: c.Paths.ConfigDir},
	}
	if c.Backup.IncludeLogs {
		roots = append(roots, SourceRoot{Label: "logs", Path: c.Paths.LogsDir})
	}
	return roots
}

// LockPath returns the lock file path, defaulting to a file inside the
// backup directory so every process pointed at the same store contends on
// the same lock.
func (c *Config) LockPath() string {
	if c.Global.LockFile != "" {
		return c.Global.LockFile
	}
	return filepath.Join(c.Paths.BackupDir, ".fpbak.lock")
}
