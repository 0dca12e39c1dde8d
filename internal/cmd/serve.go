package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/batchdeck/internal/config"
	"github.com/3leaps/batchdeck/internal/observability"
	"github.com/3leaps/batchdeck/internal/server"
	"github.com/3leaps/batchdeck/internal/server/handlers"
	"github.com/3leaps/batchdeck/internal/server/middleware"
	"github.com/3leaps/batchdeck/pkg/console"
	"github.com/3leaps/batchdeck/pkg/dashboard"
	"github.com/3leaps/batchdeck/pkg/livefeed"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard and test console",
	Long: `Start the HTTP server hosting the dashboard (/) and the test console
(/console).

The dashboard polls /api/batch/status on poller.interval and pushes
updates to open pages over /ws. Health endpoints are served under
/health, and /health/ready probes the backend.

Examples:
  batchdeck serve
  batchdeck serve --port 9000 --backend-url http://analysis:8000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	logger := observability.CLILogger
	middleware.Logger = logger

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	dcfg, err := cfg.DashboardConfig()
	if err != nil {
		return err
	}

	poller := dashboard.New(client, dcfg, dashboard.WithLogger(logger))
	cons := console.New(client,
		console.WithLogger(logger),
		console.WithToastTimeout(cfg.Toast.Timeout))

	hub := livefeed.NewHub(
		livefeed.WithLogger(logger),
		livefeed.WithSnapshot(livefeed.PageDashboard, poller.Fragments),
		livefeed.WithSnapshot(livefeed.PageConsole, cons.Fragments))
	defer hub.Close()
	poller.Subscribe(hub.Publisher(livefeed.PageDashboard))
	cons.Subscribe(hub.Publisher(livefeed.PageConsole))

	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	health := handlers.InitHealthManager(versionInfo.Version)
	if cfg.Health.Enabled {
		health.SetCheckTimeout(cfg.Health.ProbeTimeout)
		health.RegisterChecker("backend", handlers.BackendChecker{Backend: client})
	}

	ui, err := handlers.NewUI(poller, cons, logger)
	if err != nil {
		return fmt.Errorf("load page templates: %w", err)
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithUI(ui),
		server.WithLiveFeed(hub),
		server.WithLogger(logger),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting batchdeck",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.String("backend", client.BaseURL()))

	// The first load is best effort; the pages render dashes until a poll
	// succeeds.
	if err := poller.Initialize(ctx); err != nil {
		logger.Warn("Initial dashboard load failed", zap.Error(err))
	}
	if err := cons.LoadUsers(ctx); err != nil {
		logger.Warn("Initial user list load failed", zap.Error(err))
	}

	task := poller.Schedule(ctx)
	defer task.Stop()

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}
