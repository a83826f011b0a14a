package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/florapos/backup-engine/internal/config"
	"github.com/florapos/backup-engine/internal/engine"
	"github.com/florapos/backup-engine/internal/logging"
	"github.com/florapos/backup-engine/internal/manifest"
	"github.com/florapos/backup-engine/internal/schedule"
	"github.com/florapos/backup-engine/internal/util"
	"github.com/florapos/backup-engine/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

func main() {
	root := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "fpbak",
		Short:         "Backup and recovery engine for the point-of-sale datastore",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (json)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.AddCommand(newBackupCmd(root))
	rootCmd.AddCommand(newRestoreCmd(root))
	rootCmd.AddCommand(newListCmd(root))
	rootCmd.AddCommand(newVerifyCmd(root))
	rootCmd.AddCommand(newSchedulerCmd(root))
	rootCmd.AddCommand(newCleanupCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newBackupCmd(root *rootFlags) *cobra.Command {
	var name string
	var backupType string
	var retry int
	var retryBackoff time.Duration

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, eng, err := buildEngine(root)
			if err != nil {
				return err
			}
			typ := manifest.TypeManual
			if strings.EqualFold(backupType, string(manifest.TypeAuto)) {
				typ = manifest.TypeAuto
			}
			if name == "" && typ == manifest.TypeManual {
				return fmt.Errorf("--name is required for manual backups")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Global.OperationTimeout)
			defer cancel()

			return util.Retry(ctx, retry, retryBackoff, logger, func() error {
				res, err := eng.CreateBackup(ctx, name, typ)
				if err != nil {
					return err
				}
				logger.Info().Str("backup", res.Name).Str("path", res.Path).Msg("backup completed")
				fmt.Printf("Backup created: %s\n", res.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Backup name")
	cmd.Flags().StringVar(&backupType, "type", "manual", "Backup type (auto/manual)")
	cmd.Flags().IntVar(&retry, "retry", 1, "Retry attempts")
	cmd.Flags().DurationVar(&retryBackoff, "retry-backoff", 10*time.Second, "Retry backoff")
	return cmd
}

func newRestoreCmd(root *rootFlags) *cobra.Command {
	var backupPath string
	var restorePath string
	var interactive bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, eng, err := buildEngine(root)
			if err != nil {
				return err
			}

			if interactive {
				selected, err := selectBackupInteractive(eng)
				if err != nil {
					return err
				}
				if selected == "" {
					fmt.Println("Restore cancelled")
					return nil
				}
				backupPath = selected
			}
			if backupPath == "" {
				return fmt.Errorf("--backup-path is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Global.OperationTimeout)
			defer cancel()

			if err := eng.Restore(ctx, engine.RestoreOptions{BackupPath: backupPath, RestorePath: restorePath}); err != nil {
				return err
			}
			logger.Info().Str("backup", backupPath).Msg("restore completed")
			fmt.Println("Restore completed successfully")
			return nil
		},
	}

	cmd.Flags().StringVar(&backupPath, "backup-path", "", "Path of the backup to restore")
	cmd.Flags().StringVar(&restorePath, "restore-path", "", "Restore target (default: original locations)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Choose a backup interactively and confirm before restoring")
	return cmd
}

func newListCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, eng, err := buildEngine(root)
			if err != nil {
				return err
			}
			backups, err := eng.ListBackups()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Println("No backups found")
				return nil
			}
			for _, b := range backups {
				typ := b.BackupType
				if typ == "" {
					typ = "unknown"
				}
				fmt.Printf("%s\t%s\t%s\t%d files\t%s\t%s\n",
					b.Name, typ, b.Kind, b.FileCount,
					humanize.IBytes(uint64(b.SizeOnDisk)),
					b.Created.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newVerifyCmd(root *rootFlags) *cobra.Command {
	var backupPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an existing backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if backupPath == "" {
				return fmt.Errorf("--backup-path is required")
			}
			cfg, _, eng, err := buildEngine(root)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Global.OperationTimeout)
			defer cancel()

			if err := eng.VerifyBackup(ctx, backupPath); err != nil {
				return err
			}
			fmt.Println("Backup verified successfully")
			return nil
		},
	}

	cmd.Flags().StringVar(&backupPath, "backup-path", "", "Path of the backup to verify")
	return cmd
}

func newSchedulerCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the automatic backup scheduler (blocks)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, eng, err := buildEngine(root)
			if err != nil {
				return err
			}
			return schedule.New(cfg, eng, logger).Run(cmd.Context())
		},
	}
}

func newCleanupCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups that exceed the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, eng, err := buildEngine(root)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Global.OperationTimeout)
			defer cancel()

			deleted, err := eng.CleanupOldBackups(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Cleanup complete, deleted %d backup(s)\n", deleted)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fpbak %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func buildEngine(root *rootFlags) (*config.Config, zerolog.Logger, *engine.Engine, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	return cfg, logger, engine.New(cfg, logger), nil
}

// selectBackupInteractive lists the catalog, asks the operator to pick an
// entry, and requires a literal "yes" before anything is touched. It
// returns "" when the operator backs out.
func selectBackupInteractive(eng *engine.Engine) (string, error) {
	backups, err := eng.ListBackups()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("no backups available")
	}

	fmt.Printf("Found %d backup(s):\n", len(backups))
	for i, b := range backups {
		fmt.Printf("%d. %s\n   type: %s | size: %s | created: %s\n",
			i+1, b.Name, b.BackupType,
			humanize.IBytes(uint64(b.SizeOnDisk)),
			b.Created.Format("2006-01-02 15:04:05"))
	}

	reader := bufio.NewReader(os.Stdin)
	var choice int
	for {
		fmt.Printf("Select a backup to restore (1-%d): ", len(backups))
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		choice, err = strconv.Atoi(strings.TrimSpace(line))
		if err == nil && choice >= 1 && choice <= len(backups) {
			break
		}
		fmt.Println("Invalid selection, try again")
	}

	fmt.Println("Warning: restoring will overwrite current data!")
	fmt.Print("Continue? (yes/no): ")
	confirm, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(strings.ToLower(confirm)) != "yes" {
		return "", nil
	}
	return backups[choice-1].Path, nil
}
