package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "FPBAK"

// Load reads configuration from a JSON file, env vars, and defaults.
// An empty path triggers discovery: $FPBAK_CONFIG, ./fpbak.json, then the
// user config dir. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved := resolveConfigPath(path)
	if resolved != "" {
		vp.SetConfigFile(resolved)
		vp.SetConfigType("json")
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if envPath := os.Getenv("FPBAK_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("fpbak.json"); err == nil {
		return "fpbak.json"
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(configDir, "fpbak", "fpbak.json")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
	vp.SetDefault("global.operation_timeout", "1h")
	vp.SetDefault("backup.enabled", true)
	vp.SetDefault("backup.auto_backup", true)
	vp.SetDefault("backup.interval_hours", 24)
	vp.SetDefault("backup.retention_days", 30)
	vp.SetDefault("backup.compression", true)
	vp.SetDefault("backup.verify_backup", true)
	vp.SetDefault("backup.max_backup_size_mb", 1000)
	vp.SetDefault("paths.data_dir", "data")
	vp.SetDefault("paths.config_dir", "config")
	vp.SetDefault("paths.logs_dir", "logs")
	vp.SetDefault("paths.backup_dir", "backup")
	vp.SetDefault("files.include", []string{"*.db", "*.json", "*.ini", "*.log", "*.txt"})
	vp.SetDefault("files.exclude", []string{"*.tmp", "*.cache", "__pycache__", ".git", "node_modules"})
	vp.SetDefault("scheduler.check_interval", "60s")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = time.Hour
	}
	if cfg.Backup.IntervalHours <= 0 {
		cfg.Backup.IntervalHours = 24
	}
	if cfg.Scheduler.CheckInterval <= 0 {
		cfg.Scheduler.CheckInterval = time.Minute
	}
}
