package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/audit"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/capability"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/config"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/logging"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logLevel   string // overrides general.logLevel when set
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "remotebot",
		Short: "Remote control of this computer from a chat",
		Long: `remotebot lets an authorized operator control the host from Telegram,
Discord, Slack or the local console: power actions, screen lock, screenshots,
processes, windows and volume. Critical actions need an explicit confirmation.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file, .json or .yaml (default: ~/.remotebot/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override general.logLevel (debug, info, warn, error)")

	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(runCmd())
	root.AddCommand(consoleCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serviceCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("remotebot", version)
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults plus
// environment overrides when the file does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}
	return cfg, nil
}

// setupLogging replaces the bootstrap logger with one built from cfg.
func setupLogging(cfg *config.Config) (io.Closer, error) {
	l, closer, err := logging.New(logging.Options{
		Level:      cfg.General.LogLevel,
		File:       cfg.General.LogFile,
		MaxSizeMB:  cfg.General.LogMaxSizeMB,
		MaxBackups: cfg.General.LogMaxBackups,
		MaxAgeDays: cfg.General.LogMaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	logger = l
	slog.SetDefault(l)
	return closer, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Writes the default configuration to the --config path (or ~/.remotebot/config.json).
The Telegram token references ${BOT_TOKEN}; AUTHORIZED_USER_ID from the
environment overrides channels.telegram.authorizedUser, so secrets can stay
out of the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			cfg.Channels.Telegram.Enabled = true
			cfg.Channels.Telegram.Token = "${BOT_TOKEN}"
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Config written to %s\n", cfgPath)
			fmt.Println("Next: export BOT_TOKEN and AUTHORIZED_USER_ID, then run 'remotebot doctor'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show host information and bot configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			prov, err := capability.New(cfg.Provider.Mode, time.Duration(cfg.Provider.CommandTimeoutSeconds)*time.Second, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			fmt.Printf("remotebot v%s\n\n", version)
			fmt.Printf("Provider: %s\n", prov.Name())
			info := prov.SystemInfo(ctx)
			keys := make([]string, 0, len(info))
			for k := range info {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("  %-8s %s\n", k+":", info[k])
			}

			guard := newGuard(cfg, false)
			fmt.Println()
			if guard.Open() {
				fmt.Println("Authorization: OPEN (any user can control this host)")
			} else {
				fmt.Printf("Authorization: %v\n", guard.Identities())
			}
			fmt.Printf("Transports:    %v\n", enabledTransports(cfg))
			fmt.Printf("Confirmation:  %ds timeout\n", cfg.Confirm.TimeoutSeconds)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	var (
		limit     int
		pruneDays int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Audit.DBPath == "" {
				return fmt.Errorf("audit.dbPath is not configured")
			}
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return fmt.Errorf("audit store: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()
			if pruneDays > 0 {
				n, err := store.Prune(ctx, time.Duration(pruneDays)*24*time.Hour)
				if err != nil {
					return fmt.Errorf("prune: %w", err)
				}
				fmt.Printf("Pruned %d entries older than %d days\n", n, pruneDays)
				return nil
			}

			entries, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No audit entries.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %-20s %-18s %-20s %-7s %s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.Caller, e.Action, e.Code, e.Result, e.Details)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	cmd.Flags().IntVar(&pruneDays, "prune", 0, "delete entries older than this many days instead of listing")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. confirm.timeoutSeconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. confirm.timeoutSeconds 60)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			original, err := os.ReadFile(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg, err := config.LoadRaw(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			// Validate the saved file the way run would see it.
			if _, err := config.Load(cfgPath); err != nil {
				if rerr := os.WriteFile(cfgPath, original, 0o600); rerr != nil {
					logger.Error("restoring config failed", "file", cfgPath, "err", rerr)
				}
				return err
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (tokens masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
