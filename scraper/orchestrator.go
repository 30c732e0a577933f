package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

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

const tracerName = "github.com/aluiziolira/go-scop-orders/scraper"

// MissingCodeDetail is the detail error recorded for rows without an authorization code.
const MissingCodeDetail = "missing authorization code"

// OrchestratorOptions controls detail fetching.
type OrchestratorOptions struct {
	// MaxDetails limits how many leading rows are considered for detail; 0 means all.
	MaxDetails      int
	ShowFullDetails bool
}

// Orchestrator runs the listing query and the per-row detail protocol on one
// checked-out session.
type Orchestrator struct {
	portal   config.Portal
	timeouts config.Timeouts
	opts     OrchestratorOptions
	fetcher  DetailFetcher
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewOrchestrator builds an orchestrator. A nil fetcher navigates the session's page.
func NewOrchestrator(portal config.Portal, timeouts config.Timeouts, opts OrchestratorOptions, fetcher DetailFetcher, logger *slog.Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if fetcher == nil {
		fetcher = &BrowserDetailFetcher{DetailURL: portal.DetailURL, Timeout: timeouts.Detail}
	}
	return &Orchestrator{
		portal:   portal,
		timeouts: timeouts,
		opts:     opts,
		fetcher:  fetcher,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer(tracerName),
	}
}

// QueryPayload builds the listing form fields. The authorization code and the
// date range are the only populated filters.
func QueryPayload(req models.QueryRequest) url.Values {
	v := url.Values{}
	for _, name := range []string{
		"ind", "codvendope", "codigoAgente", "codigo_referencia", "tipoOperacion",
		"tipoAgente", "nombreAgente", "tipoDocumento", "numeroDocumento",
		"estadoOrdenPedido", "canalOrdenPedido", "tipoOrdenPedido", "txt_placa", "tipoFecha",
	} {
		v.Set(name, "")
	}
	v.Set("opc", "1")
	v.Set("tipoUsuario", "C")
	v.Set("codigo_autorizacion", req.AuthorizationCode)
	v.Set("txt_fecini", req.DateFrom)
	v.Set("txt_fecfin", req.DateTo)
	return v
}

const submitFormScript = `([action, fields]) => {
	const form = document.createElement("form");
	form.method = "POST";
	form.action = action;
	for (const [name, value] of fields) {
		const input = document.createElement("input");
		input.type = "hidden";
		input.name = name;
		input.value = value;
		form.appendChild(input);
	}
	document.body.appendChild(form);
	form.submit();
	return true;
}`

func formFields(v url.Values) []any {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, []any{k, v.Get(k)})
	}
	return out
}

// Run submits the query, parses the listing and attaches details to the
// qualifying rows. An empty or unparseable listing is a result with a message,
// not an error.
func (o *Orchestrator) Run(ctx context.Context, sess *pool.Session, req models.QueryRequest) (*models.QueryResult, error) {
	driver := sess.Driver
	logger := o.logger.With(slog.String("session", sess.ID), slog.String("code", req.AuthorizationCode))

	if err := driver.Navigate(ctx, o.portal.QueryURL, browser.NavigateOptions{
		WaitUntil: browser.WaitDOMContentLoaded,
		Timeout:   o.timeouts.Navigation,
	}); err != nil {
		return nil, classifyWait("query page", err)
	}

	payload := QueryPayload(req)
	logger.Debug("submitting query", slog.String("payload", payload.Encode()))
	err := driver.AwaitNavigation(ctx, func(ctx context.Context) error {
		_, err := driver.Evaluate(ctx, submitFormScript, []any{o.portal.QueryAction, formFields(payload)})
		return err
	}, o.timeouts.Submit)
	if err != nil {
		return nil, classifyWait("query submit", err)
	}

	if err := driver.WaitForSelector(ctx, o.portal.ResultsSelector, o.timeouts.Results); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("results table did not appear", slog.Any("error", err))
	}

	html, err := driver.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	listing, err := parser.ParseListing(html)
	var perr *parser.ParseError
	if errors.As(err, &perr) {
		logger.Info("no listing rows", slog.String("reason", perr.Reason))
		return &models.QueryResult{
			Rows:    []*models.ListingRow{},
			Message: fmt.Sprintf("no results for authorization code %s: %s", req.AuthorizationCode, perr.Reason),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	for _, rowErr := range listing.RowErrors {
		logger.Warn("listing row skipped", slog.Int("row", rowErr.Index), slog.Int("cells", rowErr.Cells))
	}

	rows := listing.Rows
	for _, row := range rows {
		parser.NormalizeRow(row)
	}

	if err := o.attachDetails(ctx, sess, rows, logger); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if !o.qualifies(row) {
			row.Detail = nil
		}
	}
	return &models.QueryResult{Rows: rows}, nil
}

func (o *Orchestrator) qualifies(row *models.ListingRow) bool {
	return o.opts.ShowFullDetails || strings.EqualFold(row.Status, models.StatusRequested)
}

// attachDetails fetches details one row at a time; the session has a single page.
func (o *Orchestrator) attachDetails(ctx context.Context, sess *pool.Session, rows []*models.ListingRow, logger *slog.Logger) error {
	referer := sess.Driver.URL()
	limit := len(rows)
	if o.opts.MaxDetails > 0 && o.opts.MaxDetails < limit {
		limit = o.opts.MaxDetails
	}

	for _, row := range rows[:limit] {
		if !o.qualifies(row) {
			continue
		}
		if row.AuthorizationCode == "" {
			row.Detail = models.DetailError(MissingCodeDetail)
			continue
		}

		row.Detail = o.fetchDetail(ctx, sess, row.AuthorizationCode, logger)
		if err := ctx.Err(); err != nil {
			return err
		}

		if !o.fetcher.UsesPage() || referer == "" {
			continue
		}
		if err := sess.Driver.Navigate(ctx, referer, browser.NavigateOptions{
			WaitUntil: browser.WaitDOMContentLoaded,
			Timeout:   o.timeouts.Navigation,
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("return to listing failed", slog.Any("error", err))
		}
	}
	return nil
}

func (o *Orchestrator) fetchDetail(ctx context.Context, sess *pool.Session, code string, logger *slog.Logger) *models.DetailRecord {
	ctx, span := o.tracer.Start(ctx, "scop.detail", trace.WithAttributes(attribute.String("scop.authorization_code", code)))
	defer span.End()

	rec, err := o.loadDetail(ctx, sess, code)
	if err != nil {
		label := errorTypeLabel(err)
		o.metrics.IncDetail(label)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("detail failed", slog.String("detail", code), slog.String("error_type", label), slog.Any("error", err))
		return models.DetailError(err.Error())
	}

	if rec.Totals.LowConfidence {
		o.metrics.IncLowConfidence()
		logger.Warn("detail totals taken from total row",
			slog.String("detail", code),
			slog.String("layout", rec.Layout),
			slog.String("ordered", rec.Totals.OrderedQty),
			slog.String("subtotal", rec.Totals.SubtotalWeight),
		)
	}
	o.metrics.IncDetail("ok")
	span.SetAttributes(attribute.String("scop.layout", rec.Layout), attribute.Int("scop.products", len(rec.Products)))
	return rec
}

// loadDetail fetches and parses one detail page. Parse failures are ErrParse.
func (o *Orchestrator) loadDetail(ctx context.Context, sess *pool.Session, code string) (*models.DetailRecord, error) {
	html, err := o.fetcher.FetchDetail(ctx, sess, code)
	if err != nil {
		return nil, err
	}
	rec, err := parser.ParseDetail(html)
	if err != nil {
		return nil, ErrParse{Page: "detail " + code, Err: err}
	}
	return rec, nil
}
