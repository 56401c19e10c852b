package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/audit"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/capability"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/config"
)

// report tallies doctor check results.
type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your remotebot installation",
		Long: `Verifies the configuration, transport tokens, authorization mode, provider
mode, required host tools and audit database. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("remotebot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults and environment)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return summarize(r)
			}
			r.pass("Config validation", "valid")

			checkTransports(&r, cfg)
			checkAuthorization(&r, cfg)
			checkProvider(&r, cfg)

			if cfg.Audit.Enabled {
				if err := checkDatabase(cmd.Context(), cfg.Audit.DBPath); err != nil {
					r.fail("Audit database", err.Error())
				} else {
					r.pass("Audit database", cfg.Audit.DBPath)
				}
			} else {
				r.warn("Audit database", "audit log disabled")
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					r.warn("Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass("Metrics address", cfg.Metrics.Addr+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return summarize(r)
		},
	}
}

func summarize(r report) error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running remotebot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nremotebot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! remotebot is ready to run.\n")
	}
	return nil
}

func checkTransports(r *report, cfg *config.Config) {
	tokens := map[string][]string{
		"telegram": {cfg.Channels.Telegram.Token},
		"discord":  {cfg.Channels.Discord.Token},
		"slack":    {cfg.Channels.Slack.BotToken, cfg.Channels.Slack.AppToken},
	}
	names := enabledTransports(cfg)
	if len(names) == 0 {
		r.fail("Transports", "none enabled (set BOT_TOKEN or enable a channel)")
		return
	}
	for _, name := range names {
		unresolved := false
		for _, tok := range tokens[name] {
			if strings.Contains(tok, "${") {
				unresolved = true
			}
		}
		if unresolved {
			r.fail("Transport: "+name, "token references an unset environment variable")
		} else {
			r.pass("Transport: "+name, "token configured")
		}
	}
}

func checkAuthorization(r *report, cfg *config.Config) {
	guard := newGuard(cfg, false)
	if guard.Open() {
		r.warn("Authorization", "OPEN mode: any user who finds the bot can control this host (set AUTHORIZED_USER_ID)")
		return
	}
	r.pass("Authorization", strings.Join(guard.Identities(), ", "))
}

func checkProvider(r *report, cfg *config.Config) {
	prov, err := capability.New(cfg.Provider.Mode, time.Second, logger)
	if err != nil {
		r.fail("Provider", err.Error())
		return
	}
	if cfg.Provider.Mode == capability.ModeUnavailable || prov.Name() == "unavailable" {
		r.warn("Provider", "host control unavailable; every action will report an error")
		return
	}
	r.pass("Provider", prov.Name())

	for _, tool := range capability.RequiredTools(runtime.GOOS) {
		if path, err := exec.LookPath(tool); err != nil {
			r.warn("Tool: "+tool, "not found in PATH; related actions will fail")
		} else {
			r.pass("Tool: "+tool, path)
		}
	}
}

func checkDatabase(ctx context.Context, dbPath string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := audit.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Try a read through the same code path the audit command uses.
	if _, err := store.Recent(ctx, 1); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
