package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/audit"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/bus"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/capability"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/channel"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/config"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/dispatch"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/metrics"
	"github.com/SatoKazuma1/wake-on-lan-bot/internal/security"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot on every enabled chat transport",
		Long:  "Starts the enabled transports (Telegram, Discord, Slack) and the dispatcher. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), false)
		},
	}
}

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Control this host from the local terminal",
		Long:  "Runs the dispatcher with the console transport only. Type /start for the menu, /quit to exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), true)
		},
	}
}

func serve(parent context.Context, console bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var channels []domain.Channel
	if console {
		channels = []domain.Channel{channel.NewCLI(channel.CLIConfig{
			Logger:   logger,
			PhotoDir: cfg.Channels.CLI.PhotoDir,
		})}
	} else {
		channels = networkChannels(cfg)
		if len(channels) == 0 {
			return fmt.Errorf("no chat transport enabled: set BOT_TOKEN or enable channels.telegram, channels.discord or channels.slack")
		}
	}

	a, err := newApp(ctx, cfg, console)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.serve(ctx, channels...)
}

// app holds the components shared by every transport.
type app struct {
	cfg        *config.Config
	bus        *bus.InMemoryBus
	guard      *security.Guard
	audit      *audit.SQLiteStore // nil when disabled
	metrics    *metrics.Collector
	dispatcher *dispatch.Dispatcher
}

func newApp(ctx context.Context, cfg *config.Config, console bool) (*app, error) {
	prov, err := capability.New(cfg.Provider.Mode, time.Duration(cfg.Provider.CommandTimeoutSeconds)*time.Second, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		bus:   bus.New(100, logger),
		guard: newGuard(cfg, console),
	}

	// The audit interface stays nil unless the store is open.
	var auditLog domain.AuditLogger
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		a.audit = store
		auditLog = store
		if days := cfg.Audit.RetentionDays; days > 0 {
			if _, err := store.Prune(ctx, time.Duration(days)*24*time.Hour); err != nil {
				logger.Warn("audit prune failed", "err", err)
			}
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(reg)

	a.dispatcher = dispatch.New(dispatch.Config{
		Provider:           prov,
		Auth:               a.guard,
		Bus:                a.bus,
		Audit:              auditLog,
		Metrics:            a.metrics,
		Logger:             logger,
		ConfirmTTL:         time.Duration(cfg.Confirm.TimeoutSeconds) * time.Second,
		SweepInterval:      time.Duration(cfg.Confirm.SweepIntervalSeconds) * time.Second,
		RateLimitPerMinute: cfg.RateLimit.PerMinute,
		RateLimitBurst:     cfg.RateLimit.Burst,
		Concurrency:        cfg.General.MaxConcurrentIntents,
	})
	return a, nil
}

// serve runs the dispatcher, the transports and the optional metrics server
// until ctx is cancelled, any of them fails, or every transport has returned.
func (a *app) serve(ctx context.Context, channels ...domain.Channel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.dispatcher.Run(gctx)
		return nil
	})

	var remaining sync.WaitGroup
	remaining.Add(len(channels))
	for _, ch := range channels {
		g.Go(func() error {
			defer remaining.Done()
			logger.Info("channel starting", "channel", ch.Name())
			if err := ch.Start(gctx, a.bus); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			logger.Info("channel stopped", "channel", ch.Name())
			return nil
		})
	}
	go func() {
		remaining.Wait()
		cancel()
	}()

	if a.cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           a.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("remotebot started", "transports", len(channels), "open_mode", a.guard.Open())

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-gctx.Done():
		logger.Info("shutting down...")
		select {
		case err = <-done:
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out, forcing exit")
			return fmt.Errorf("shutdown timed out")
		}
	}

	for _, ch := range channels {
		if serr := ch.Stop(); serr != nil {
			logger.Warn("channel stop failed", "channel", ch.Name(), "err", serr)
		}
	}
	logger.Info("shutdown complete")
	return err
}

func (a *app) Close() {
	a.bus.Close()
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warn("closing audit store failed", "err", err)
		}
	}
}

// newGuard collects the operator's identity on each configured transport.
// The local console is trusted only when some identity is configured;
// otherwise the guard stays in open mode.
func newGuard(cfg *config.Config, console bool) *security.Guard {
	var ids []string
	if id := cfg.Channels.Telegram.AuthorizedUser.String(); id != "" {
		ids = append(ids, id)
	}
	if id := cfg.Channels.Discord.AuthorizedUser.String(); id != "" {
		ids = append(ids, "discord:"+id)
	}
	if id := cfg.Channels.Slack.AuthorizedUser.String(); id != "" {
		ids = append(ids, "slack:"+id)
	}
	if console && len(ids) > 0 {
		ids = append(ids, string(channel.ConsoleCaller))
	}
	return security.NewGuard(logger, ids...)
}

func networkChannels(cfg *config.Config) []domain.Channel {
	var chs []domain.Channel
	if tg := cfg.Channels.Telegram; tg.Enabled {
		chs = append(chs, channel.NewTelegram(channel.TelegramConfig{Token: tg.Token, Logger: logger}))
	}
	if dc := cfg.Channels.Discord; dc.Enabled {
		chs = append(chs, channel.NewDiscord(channel.DiscordConfig{Token: dc.Token, GuildID: dc.GuildID, Logger: logger}))
	}
	if sl := cfg.Channels.Slack; sl.Enabled {
		chs = append(chs, channel.NewSlack(channel.SlackConfig{BotToken: sl.BotToken, AppToken: sl.AppToken, Logger: logger}))
	}
	return chs
}

func enabledTransports(cfg *config.Config) []string {
	var names []string
	for _, ch := range networkChannels(cfg) {
		names = append(names, ch.Name())
	}
	return names
}
