// Command headspace runs the agent-lifecycle observation server: hook
// ingest, terminal-pane reconciliation, and the read-projection API that
// feeds a live dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/agentwatch/headspace/pkg/api"
	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/config"
	"github.com/agentwatch/headspace/pkg/correlator"
	"github.com/agentwatch/headspace/pkg/database"
	"github.com/agentwatch/headspace/pkg/hooks"
	"github.com/agentwatch/headspace/pkg/hookstate"
	"github.com/agentwatch/headspace/pkg/lifecycle"
	"github.com/agentwatch/headspace/pkg/lock"
	"github.com/agentwatch/headspace/pkg/reaper"
	"github.com/agentwatch/headspace/pkg/redact"
	"github.com/agentwatch/headspace/pkg/retention"
	"github.com/agentwatch/headspace/pkg/slack"
	"github.com/agentwatch/headspace/pkg/terminal"
	"github.com/agentwatch/headspace/pkg/transcript"
	"github.com/agentwatch/headspace/pkg/watchdog"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:   "headspace",
		Short: "Agent lifecycle observation server",
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", os.Getenv("HEADSPACE_ENV_FILE"), "optional .env file to load before reading the environment")

	root.AddCommand(serveCmd(), migrateCmd(), reapOnceCmd(), advisoryLocksCmd())

	if err := root.Execute(); err != nil {
		slog.Error("headspace: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.LoadFromEnv(envFile)
	if err != nil {
		slog.Error("headspace: failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// deps is every long-lived collaborator main wires together, shared by
// the serve and reap-once subcommands.
type deps struct {
	cfg          *config.Config
	db           *database.Client
	lockMgr      *lock.Manager
	correlator   *correlator.Correlator
	hookState    *hookstate.Store
	broadcaster  *broadcaster.Broadcaster
	pgNotifier   *broadcaster.PgNotifier
	redactor     *redact.Combined
	slackSvc     *slack.Service
	lifecycleM   *lifecycle.Manager
	reconciler   *transcript.Reconciler
	ingestor     *hooks.Ingestor
	reaperSvc    *reaper.Reaper
	watchdogSvc  *watchdog.Watchdog
	retentionSvc *retention.Service
}

const pgNotifyChannel = "headspace_events"

func wire(ctx context.Context, cfg *config.Config) (*deps, error) {
	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	pgNotifier := broadcaster.NewPgNotifier(dbClient.DB(), pgNotifyChannel)
	b := broadcaster.New(cfg.Broadcaster, pgNotifier.Notify)

	redactor := redact.New()
	slackSvc := slack.NewService(slack.ServiceConfig{
		Token:        cfg.Slack.Token,
		Channel:      cfg.Slack.Channel,
		DashboardURL: cfg.DashboardURL,
	})

	// slack.Service is nil-safe (a nil *Service satisfies Notifier as a
	// no-op), but passing a typed-nil through an interface parameter
	// would make lifecycle.Manager's own nil checks on the interface
	// value useless, so only wire the interface when the service
	// actually exists.
	var notifier lifecycle.Notifier
	if slackSvc != nil {
		notifier = slackSvc
	}

	lifecycleM := lifecycle.New(dbClient.Client, notifier, redactor)
	reconciler := transcript.New(dbClient.Client, lifecycleM, redactor)

	lockMgr := lock.NewManager(dbClient.DB())

	hookState := hookstate.New()
	ingestor := hooks.New(dbClient.Client, lifecycleM, hookState, b, reconciler, redactor, lockMgr)
	ingestor.SetQuestionTools(cfg.QuestionTools)
	ingestor.SetDeferredStopDelays(cfg.DeferredStopDelays)
	ingestor.SetLockTimeout(cfg.LockTimeout)
	ingestor.SetStaleAwaitingRecoveryWindow(cfg.StaleAwaitingRecoveryWindow)
	ingestor.SetTerminal(terminal.Tmux{})

	reaperSvc := reaper.New(cfg.Reaper, dbClient.Client, lifecycleM, nil, b, lockMgr)
	watchdogSvc := watchdog.New(cfg.Watchdog, watchdog.TmuxCapturer{}, dbClient.Client, reconciler, lockMgr, b)
	retentionSvc := retention.New(retention.Config{
		SessionRetentionDays: cfg.Retention.SessionRetentionDays,
		EventTTL:             cfg.Retention.EventTTL,
		CleanupInterval:      cfg.Retention.CleanupInterval,
	}, dbClient.Client)

	return &deps{
		cfg:          cfg,
		db:           dbClient,
		lockMgr:      lockMgr,
		correlator:   correlator.New(cfg.CorrelatorCacheTTL),
		hookState:    hookState,
		broadcaster:  b,
		pgNotifier:   pgNotifier,
		redactor:     redactor,
		slackSvc:     slackSvc,
		lifecycleM:   lifecycleM,
		reconciler:   reconciler,
		ingestor:     ingestor,
		reaperSvc:    reaperSvc,
		watchdogSvc:  watchdogSvc,
		retentionSvc: retentionSvc,
	}, nil
}

func (d *deps) Close() {
	if err := d.db.Close(); err != nil {
		slog.Warn("headspace: error closing database", "error", err)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server plus the reaper and watchdog background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); d.reaperSvc.Run(ctx) }()
			go func() { defer wg.Done(); d.watchdogSvc.Run(ctx) }()
			d.retentionSvc.Start(ctx)
			defer d.retentionSvc.Stop()

			gin.SetMode(getenvOr("GIN_MODE", "release"))
			router := gin.New()
			router.Use(gin.Recovery())
			api.Mount(router, api.Deps{
				DB:          d.db,
				Lifecycle:   d.lifecycleM,
				Ingestor:    d.ingestor,
				Correlator:  d.correlator,
				HookState:   d.hookState,
				Broadcaster: d.broadcaster,
				LockMgr:     d.lockMgr,
				Config:      d.cfg,
				Watchdog:    d.watchdogSvc,
			})

			srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
			srvErr := make(chan error, 1)
			go func() { srvErr <- srv.ListenAndServe() }()

			slog.Info("headspace: listening", "addr", cfg.HTTPAddr)

			select {
			case <-ctx.Done():
				slog.Info("headspace: shutting down")
			case err := <-srvErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("headspace: error during HTTP shutdown", "error", err)
			}
			wg.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override HEADSPACE_HTTP_ADDR")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			dbClient, err := database.NewClient(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer dbClient.Close()
			slog.Info("headspace: migrations applied")
			return nil
		},
	}
}

func reapOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap-once",
		Short: "Run a single reaper sweep and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			d, err := wire(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			result, err := d.reaperSvc.ReapOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("reap-once: %w", err)
			}
			slog.Info("headspace: reap-once complete",
				"checked", result.Checked,
				"reaped", result.Reaped,
				"skipped_grace", result.SkippedGrace,
				"skipped_alive", result.SkippedAlive,
				"skipped_locked", result.SkippedLocked)
			for _, det := range result.Details {
				slog.Info("headspace: reaped agent", "agent_id", det.AgentID, "reason", det.Reason)
			}
			return nil
		},
	}
}

func advisoryLocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advisory-locks",
		Short: "List currently held advisory locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			dbClient, err := database.NewClient(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("advisory-locks: %w", err)
			}
			defer dbClient.Close()

			mgr := lock.NewManager(dbClient.DB())
			locks, err := mgr.HeldLocks(cmd.Context())
			if err != nil {
				return fmt.Errorf("advisory-locks: %w", err)
			}
			if len(locks) == 0 {
				fmt.Println("no advisory locks currently held")
				return nil
			}
			for _, l := range locks {
				fmt.Printf("pid=%d app=%q state=%q entity=%d mode=%s granted=%t held_for=%.1fs\n",
					l.PID, l.Application, l.State, l.EntityID, l.Mode, l.Granted, l.DurationSecs)
			}
			return nil
		},
	}
}

func getenvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
