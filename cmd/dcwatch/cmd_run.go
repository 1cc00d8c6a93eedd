package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dcwatch/internal/auth"
	"dcwatch/internal/browser"
	"dcwatch/internal/config"
	"dcwatch/internal/extract"
	"dcwatch/internal/logging"
	"dcwatch/internal/monitor"
	"dcwatch/internal/queue"
	"dcwatch/internal/report"
	"dcwatch/internal/screenshot"
	"dcwatch/internal/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	headful     bool
	manualLogin bool
)

// runCmd starts watching
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the configured channels until interrupted",
	Long: `Launches the persistent browser, checks the Discord session, opens every
configured channel and processes the author queue.

SIGINT/SIGTERM stop the queue first, then close the channel pages and
finally the browser.`,
	RunE: runWatch,
}

// loginCmd opens a visible browser for a manual login
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open a visible browser and wait for a manual Discord login",
	RunE:  runLogin,
}

// buildReporter assembles the reporters enabled by cfg. The returned close
// function releases the archive.
func buildReporter(cfg *config.Config) (report.Reporter, func() error, error) {
	reporters := report.Multi{report.Log{}}
	closeFn := func() error { return nil }

	if cfg.Report.BackupDir != "" {
		reporters = append(reporters, report.NewBackup(cfg.Report.BackupDir, nil))
	}
	if cfg.Report.ArchivePath != "" {
		archive, err := report.OpenArchive(cfg.Report.ArchivePath)
		if err != nil {
			return nil, nil, err
		}
		reporters = append(reporters, archive)
		closeFn = archive.Close
	}
	if cfg.Report.Webhook.URL != "" {
		reporters = append(reporters, report.NewWebhook(report.WebhookOptions{
			URL:      cfg.Report.Webhook.URL,
			Username: cfg.Report.Webhook.Username,
			Attempts: cfg.Report.Webhook.Attempts,
		}))
	}
	return reporters, closeFn, nil
}

// buildScreenshots returns the screenshot store, or nil when disabled.
func buildScreenshots(cfg *config.Config) *screenshot.Store {
	if !cfg.Screenshots.Enabled {
		return nil
	}
	store := screenshot.New(cfg.Screenshots.Dir, nil)
	if maxAge := cfg.GetScreenshotMaxAge(); maxAge > 0 {
		if n, err := store.Prune(maxAge); err != nil {
			logging.BootWarn("prune screenshots: %v", err)
		} else if n > 0 {
			logging.Boot("pruned %d screenshot(s) older than %v", n, maxAge)
		}
	}
	return store
}

func ensureSession(ctx context.Context, sessions *browser.SessionManager, cfg *config.Config, manual bool) error {
	_, page, err := sessions.Launch(ctx, browser.LaunchOptions{
		Headful:              manual,
		UsePersistentSession: true,
	})
	if err != nil {
		return err
	}

	// The page stays open; closing the only tab of a visible browser ends it.
	return auth.EnsureAuthenticated(ctx, auth.NewPageProber(page, cfg.Browser.NavigationTimeout()), auth.Options{
		Attempts:     cfg.Auth.Attempts,
		ManualLogin:  manual,
		LoginTimeout: cfg.GetLoginTimeout(),
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Discord.Channels) == 0 {
		return fmt.Errorf("no channels configured (use 'dcwatch channels add <link>')")
	}
	if headful || manualLogin {
		cfg.Browser.Headless = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := browser.NewSessionManager(cfg.Browser)
	defer func() {
		if err := sessions.Shutdown(context.Background()); err != nil {
			logger.Warn("browser shutdown", zap.Error(err))
		}
	}()

	startTimeout := timeout
	if manualLogin {
		startTimeout += cfg.GetLoginTimeout()
	}
	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	defer cancelStart()

	logger.Info("Launching persistent browser", zap.String("profile", cfg.Browser.ProfileDir))
	if err := ensureSession(startCtx, sessions, cfg, manualLogin); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) || errors.Is(err, auth.ErrCaptchaRequired) {
			return fmt.Errorf("%w (run 'dcwatch login' first)", err)
		}
		return err
	}

	reporter, closeReporter, err := buildReporter(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeReporter() }()

	screenshots := buildScreenshots(cfg)
	w := worker.New(worker.Options{
		Drivers: worker.LeaseDrivers{
			Lease:  browser.NewPageLease(sessions),
			Config: cfg.DriverConfig(),
		},
		Extractor: extract.New(extract.Options{
			CopyID:     cfg.Extract.CopyID,
			Screenshot: screenshots != nil,
		}),
		Screenshots: screenshots,
		Reporter:    reporter,
		TaskTimeout: cfg.GetTaskTimeout(),
	})

	q, err := queue.New(queue.Options{
		Store:      queue.NewFileStore(cfg.Queue.Path),
		Runner:     w,
		MaxRetries: cfg.Queue.MaxRetries,
		Cooldown:   cfg.GetCooldown(),
		FlushDelay: cfg.GetFlushDelay(),
	})
	if err != nil {
		return err
	}

	sup := monitor.New(monitor.Options{
		Opener: monitor.PageOpener{
			Sessions:         sessions,
			ContainerTimeout: cfg.GetContainerTimeout(),
		},
		Queue:         q,
		SettleDelay:   cfg.GetSettleDelay(),
		PollInterval:  cfg.GetPollInterval(),
		StatsInterval: cfg.GetStatsInterval(),
	})
	if err := sup.Start(startCtx, cfg.Discord.Channels); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = q.Close(closeCtx)
		return err
	}
	logger.Info("Watching channels", zap.Int("channels", len(sup.Channels())))

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		if err := sup.Sync(ctx, next.Discord.Channels); err != nil {
			logger.Warn("Channel sync after config reload", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Supervisor shutdown", zap.Error(err))
	}
	st := q.Stats()
	logger.Info("Stopped",
		zap.Int("pending", st.Pending),
		zap.Int("done", st.Done),
		zap.Int("failed", st.Failed))
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Browser.Headless = false

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout+cfg.GetLoginTimeout())
	defer cancel()

	sessions := browser.NewSessionManager(cfg.Browser)
	defer func() { _ = sessions.Shutdown(context.Background()) }()

	fmt.Fprintf(cmd.OutOrStdout(), "Log into Discord in the browser window (waiting up to %v)...\n", cfg.GetLoginTimeout())
	if err := ensureSession(ctx, sessions, cfg, true); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session saved to %s\n", cfg.Browser.ProfileDir)
	return nil
}
