package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aluiziolira/go-scop-orders/api"
	"github.com/aluiziolira/go-scop-orders/config"
)

type serveOptions struct {
	addr            string
	maxSessions     int
	sessionPolicy   string
	restartInterval time.Duration
	showBrowser     bool
	fixture         bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve order queries over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, cmd.Flags(), opts.apply)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "", "HTTP listen address (default from PORT or :3000)")
	f.IntVar(&opts.maxSessions, "max-sessions", 0, "Maximum concurrent portal sessions")
	f.StringVar(&opts.sessionPolicy, "session-policy", "", "Session release policy: close or reuse")
	f.DurationVar(&opts.restartInterval, "restart-interval", 0, "Scheduled browser restart interval (0 disables)")
	f.BoolVar(&opts.showBrowser, "show-browser", false, "Run the browser with a visible window")
	f.BoolVar(&opts.fixture, "fixture", false, "Answer with the fixture record instead of querying the portal")
	return cmd
}

func (o *serveOptions) apply(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("addr") {
		cfg.Addr = o.addr
	}
	if flags.Changed("max-sessions") {
		cfg.MaxSessions = o.maxSessions
	}
	if flags.Changed("session-policy") {
		cfg.SessionPolicy = o.sessionPolicy
	}
	if flags.Changed("restart-interval") {
		cfg.RestartInterval = o.restartInterval
	}
	if flags.Changed("show-browser") {
		cfg.ShowBrowser = o.showBrowser
	}
	if flags.Changed("fixture") {
		cfg.FixtureMode = o.fixture
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := setupLogging(cfg.Verbose)

	svc, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	go svc.pool.RunRestartLoop(ctx, cfg.RestartInterval)

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewRouter(api.Options{
			Service: svc.scraper,
			Stats:   svc.pool.Stats,
			Metrics: promhttp.HandlerFor(svc.metrics.Registry, promhttp.HandlerOpts{}),
			Logger:  logger.With("component", "http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("server listening",
		slog.String("addr", cfg.Addr),
		slog.Int("max_sessions", cfg.MaxSessions),
		slog.String("session_policy", cfg.SessionPolicy),
		slog.Bool("fixture", cfg.FixtureMode),
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received, closing server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Query)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}
	logger.Info("server closed")
	return nil
}
