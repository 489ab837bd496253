package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/api"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/monitoring"
	"github.com/sells-group/comms-cli/internal/syncer"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the scheduled incremental syncs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if n, err := env.Orchestrator.RecoverStale(ctx); err != nil {
			return eris.Wrap(err, "recover stale sessions")
		} else if n > 0 {
			zap.L().Warn("marked interrupted sessions failed", zap.Int("count", n))
		}

		scheduler, err := startScheduler(env.Gate, cfg.Sync.Schedule, cfg.Sync.AccountToken)
		if err != nil {
			return err
		}
		if scheduler != nil {
			defer func() { <-scheduler.Stop().Done() }()
		}

		collector := monitoring.NewCollector(env.Store)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		handler := api.NewRouter(api.Deps{
			Store:      env.Store,
			Syncs:      env.Gate,
			Extractor:  env.Extractor,
			Classifier: env.Classifier,
			Router:     env.Ranker,
			Escalator:  env.Escalator,
			Notifier:   env.Notifier,
			Metrics:    collector,
			Breakers:   env.Breakers,
		}, api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: time.Duration(cfg.Server.TimeoutSecs) * time.Second,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		// Let running sessions finish their in-flight batch.
		waitCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := env.Orchestrator.Shutdown(waitCtx); err != nil {
			zap.L().Warn("sessions still running at shutdown", zap.Error(err))
		}
		return nil
	},
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// startScheduler runs an incremental sync for account on every tick of
// expr. It returns nil when no schedule is configured.
func startScheduler(g *syncer.Gate, expr, account string) (*cron.Cron, error) {
	if expr == "" {
		return nil, nil
	}
	if account == "" {
		return nil, eris.New("sync.schedule requires sync.account_token")
	}

	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(expr, func() {
		scheduledSync(context.Background(), g, account)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "parse sync.schedule %q", expr)
	}
	c.Start()
	zap.L().Info("scheduled incremental syncs", zap.String("schedule", expr), zap.String("account_token", account))
	return c, nil
}

// scheduledSync starts one incremental session, skipping the tick when the
// account already has one running.
func scheduledSync(ctx context.Context, g *syncer.Gate, account string) {
	sess, _, err := g.Start(ctx, syncer.NewOptions(account, model.SyncModeIncremental))
	switch {
	case eris.Is(err, syncer.ErrAccountBusy):
		zap.L().Info("scheduled sync skipped, session already running", zap.String("account_token", account))
	case err != nil:
		zap.L().Error("scheduled sync failed to start", zap.String("account_token", account), zap.Error(err))
	default:
		zap.L().Info("scheduled sync started", zap.String("session_id", sess.ID), zap.String("account_token", account))
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
