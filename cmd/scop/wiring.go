package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-scop-orders/browser"
	"github.com/aluiziolira/go-scop-orders/config"
	"github.com/aluiziolira/go-scop-orders/pipeline"
	"github.com/aluiziolira/go-scop-orders/pool"
	"github.com/aluiziolira/go-scop-orders/scraper"
)

// service is the assembled query stack shared by serve and batch.
type service struct {
	scraper *scraper.Scraper
	pool    *pool.Pool
	process *browser.ProcessManager
	metrics *scraper.Metrics
}

func buildService(cfg *config.Config, logger *slog.Logger) (*service, error) {
	creds, err := loadCredentials(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := scraper.NewMetrics()

	launcher := browser.NewPlaywrightLauncher(browser.PlaywrightOptions{
		Headless:         !cfg.ShowBrowser,
		SlowMo:           cfg.SlowMo,
		ExecutablePath:   cfg.ExecutablePath,
		UserAgent:        cfg.Portal.UserAgent,
		LightMode:        cfg.LightMode,
		ChallengeSiteKey: cfg.Portal.ChallengeSiteKey,
		ChallengeAction:  cfg.Portal.ChallengeAction,
		Logger:           logger.With("component", "browser"),
	})
	process := browser.NewProcessManager(launcher, logger.With("component", "process"))

	auth := scraper.NewAuthenticator(process, cfg.Portal, cfg.Timeouts, logger.With("component", "auth"), metrics)
	sessions := pool.New(auth, process, pool.Options{
		MaxSessions: cfg.MaxSessions,
		Policy:      pool.Policy(cfg.SessionPolicy),
		Logger:      logger.With("component", "pool"),
	})
	metrics.RegisterPool(sessions.Stats)

	var screenshots scraper.ScreenshotHook
	if cfg.SaveScreenshots {
		screenshots = func(ctx context.Context, code string, png []byte) {
			logger.Debug("detail screenshot captured", slog.String("code", code), slog.Int("bytes", len(png)))
		}
	}

	var fetcher scraper.DetailFetcher
	switch cfg.DetailFetchMode {
	case "http":
		fetcher = scraper.NewHTTPDetailFetcher(cfg.Portal, cfg.Timeouts.Detail, nil, logger.With("component", "detail"))
	default:
		fetcher = &scraper.BrowserDetailFetcher{
			DetailURL:   cfg.Portal.DetailURL,
			Timeout:     cfg.Timeouts.Detail,
			Screenshots: screenshots,
		}
	}

	orchestrator := scraper.NewOrchestrator(cfg.Portal, cfg.Timeouts, scraper.OrchestratorOptions{
		MaxDetails:      cfg.MaxDetails,
		ShowFullDetails: cfg.ShowFullDetails,
	}, fetcher, logger.With("component", "orchestrator"), metrics)

	s := scraper.New(creds, process, sessions, orchestrator, scraper.Options{
		StartDate:      cfg.StartDate,
		DefaultSiteKey: cfg.DefaultSiteKey,
		FixtureMode:    cfg.FixtureMode,
		CacheTTL:       cfg.ResultCacheTTL,
		CacheSize:      cfg.ResultCacheSize,
		QueryTimeout:   cfg.Timeouts.Query,
		Retry: scraper.RetryPolicy{
			MaxAttempts:           cfg.MaxAttempts,
			FirstRunExtraAttempts: cfg.FirstRunExtraAttempts,
			Backoff:               cfg.RetryBackoff,
			BackoffMax:            cfg.RetryBackoffMax,
		},
	}, logger.With("component", "scraper"), metrics)

	return &service{scraper: s, pool: sessions, process: process, metrics: metrics}, nil
}

// loadCredentials reads the credentials file. Fixture mode runs without one.
func loadCredentials(cfg *config.Config, logger *slog.Logger) (*config.CredentialStore, error) {
	if cfg.CredentialsFile == "" {
		return &config.CredentialStore{}, nil
	}
	creds, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		if cfg.FixtureMode {
			logger.Warn("credentials unavailable in fixture mode", slog.Any("error", err))
			return &config.CredentialStore{}, nil
		}
		return nil, err
	}
	logger.Info("credentials loaded", slog.Int("sites", len(creds.SiteKeys())))
	return creds, nil
}

// close tears down sessions first, then the browser they live in.
func (s *service) close(logger *slog.Logger) {
	s.pool.Close()
	if err := s.process.Shutdown(); err != nil {
		logger.Error("browser shutdown failed", slog.Any("error", err))
	}
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
