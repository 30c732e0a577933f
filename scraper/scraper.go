// Package scraper authenticates portal sessions, runs order queries on them
// and exposes the inbound query service.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aluiziolira/go-scop-orders/browser"
	"github.com/aluiziolira/go-scop-orders/config"
	"github.com/aluiziolira/go-scop-orders/models"
	"github.com/aluiziolira/go-scop-orders/parser"
	"github.com/aluiziolira/go-scop-orders/pool"
)

var errMissing = errors.New("required")

// InboundRequest is a query as received from a caller.
type InboundRequest struct {
	AuthorizationCode string
	SiteKey           string
}

// CredentialLookup resolves credentials by site key.
type CredentialLookup interface {
	Lookup(siteKey string) (models.Credentials, bool)
}

// SessionPool hands out authenticated sessions.
type SessionPool interface {
	Checkout(ctx context.Context, creds models.Credentials) (*pool.Session, error)
	Release(sess *pool.Session)
}

// BrowserProcess is the shared browser the service warms before checkout.
type BrowserProcess interface {
	EnsureStarted(ctx context.Context) (browser.Browser, error)
}

// Runner executes one query run on a session.
type Runner interface {
	Run(ctx context.Context, sess *pool.Session, req models.QueryRequest) (*models.QueryResult, error)
}

// Options configures a Scraper.
type Options struct {
	StartDate      string
	DefaultSiteKey string
	FixtureMode    bool
	CacheTTL       time.Duration
	CacheSize      int
	QueryTimeout   time.Duration
	Retry          RetryPolicy
	// Now supplies the query end date. Defaults to time.Now.
	Now func() time.Time
}

// Scraper is the inbound query service: it validates a request, resolves
// credentials and runs the query on a pooled session with retries.
type Scraper struct {
	creds   CredentialLookup
	process BrowserProcess
	pool    SessionPool
	runner  Runner
	opts    Options
	cache   *expirable.LRU[string, *models.QueryResult]
	warm    atomic.Bool
	logger  *slog.Logger
	Metrics *Metrics
	tracer  trace.Tracer
}

// New builds the query service.
func New(creds CredentialLookup, process BrowserProcess, sessions SessionPool, runner Runner, opts Options, logger *slog.Logger, metrics *Metrics) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger
	}
	if opts.Retry.Metrics == nil {
		opts.Retry.Metrics = metrics
	}
	s := &Scraper{
		creds:   creds,
		process: process,
		pool:    sessions,
		runner:  runner,
		opts:    opts,
		logger:  logger,
		Metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 256
		}
		s.cache = expirable.NewLRU[string, *models.QueryResult](size, nil, opts.CacheTTL)
	}
	return s
}

// Query resolves in to a result or a single classified error.
func (s *Scraper) Query(ctx context.Context, in InboundRequest) (*models.QueryResult, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "scop.query", trace.WithAttributes(
		attribute.String("scop.authorization_code", in.AuthorizationCode),
		attribute.String("scop.site_key", in.SiteKey),
	))
	defer span.End()

	if s.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
	}

	res, err := s.query(ctx, in)
	elapsed := time.Since(started)
	s.Metrics.ObserveDuration(elapsed)
	if err != nil {
		label := errorTypeLabel(err)
		s.Metrics.IncQuery("error")
		s.Metrics.IncError(label)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("query failed",
			slog.String("code", in.AuthorizationCode),
			slog.String("error_type", label),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		return nil, err
	}

	outcome := "ok"
	switch {
	case res.Cached:
		outcome = "cached"
	case res.Message != "":
		outcome = "empty"
	}
	s.Metrics.IncQuery(outcome)
	s.logger.Info("query finished",
		slog.String("code", in.AuthorizationCode),
		slog.String("outcome", outcome),
		slog.Int("rows", len(res.Rows)),
		slog.Int("attempts", res.Attempts),
		slog.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (s *Scraper) query(ctx context.Context, in InboundRequest) (*models.QueryResult, error) {
	req, creds, err := s.resolve(in)
	if err != nil {
		return nil, err
	}

	if s.opts.FixtureMode {
		s.logger.Info("fixture mode, skipping portal", slog.String("code", req.AuthorizationCode))
		return FixtureResult(req), nil
	}

	key := cacheKey(req)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			out := *cached
			out.Cached = true
			return &out, nil
		}
	}

	if _, err := s.process.EnsureStarted(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, ErrBrowserInit{Err: err}
	}

	first := s.warm.CompareAndSwap(false, true)
	started := time.Now()
	var result *models.QueryResult
	attempts, err := s.opts.Retry.Do(ctx, first, func(ctx context.Context, attempt int) error {
		ctx, span := s.tracer.Start(ctx, "scop.attempt", trace.WithAttributes(attribute.Int("scop.attempt", attempt)))
		defer span.End()

		sess, err := s.pool.Checkout(ctx, creds)
		if err != nil {
			span.RecordError(err)
			return err
		}
		res, err := s.runner.Run(ctx, sess, req)
		if err != nil {
			sess.MarkFailed()
			span.RecordError(err)
		}
		s.pool.Release(sess)
		result = res
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Attempts = attempts
	result.StartedAt = started
	result.EndedAt = time.Now()
	if s.cache != nil {
		s.cache.Add(key, result)
	}
	return result, nil
}

// resolve validates in and looks up its credentials. No pool or browser work
// happens before it succeeds.
func (s *Scraper) resolve(in InboundRequest) (models.QueryRequest, models.Credentials, error) {
	code := strings.TrimSpace(in.AuthorizationCode)
	if code == "" {
		return models.QueryRequest{}, models.Credentials{}, ErrValidation{Field: "authorization code", Err: errMissing}
	}
	site := strings.TrimSpace(in.SiteKey)
	if site == "" {
		site = s.opts.DefaultSiteKey
	}
	if site == "" {
		return models.QueryRequest{}, models.Credentials{}, ErrValidation{Field: "site key", Err: errMissing}
	}
	if !parser.IsValidDateFormat(s.opts.StartDate) {
		return models.QueryRequest{}, models.Credentials{}, ErrValidation{
			Field: "date from",
			Err:   fmt.Errorf("%q is not DD/MM/YYYY", s.opts.StartDate),
		}
	}

	creds, ok := s.creds.Lookup(site)
	if !ok {
		return models.QueryRequest{}, models.Credentials{}, ErrCredentialLookup{SiteKey: config.PadSiteKey(site)}
	}

	return models.QueryRequest{
		AuthorizationCode: code,
		SiteKey:           creds.SiteKey,
		DateFrom:          s.opts.StartDate,
		DateTo:            parser.FormatDate(s.opts.Now()),
	}, creds, nil
}

func cacheKey(req models.QueryRequest) string {
	return strings.Join([]string{req.SiteKey, req.AuthorizationCode, req.DateFrom, req.DateTo}, "|")
}
