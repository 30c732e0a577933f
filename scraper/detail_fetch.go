package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scop-orders/browser"
	"github.com/aluiziolira/go-scop-orders/config"
	"github.com/aluiziolira/go-scop-orders/pool"
)

// DetailFetcher loads the detail page HTML for one authorization code using
// an authenticated session.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, sess *pool.Session, code string) (string, error)
	// UsesPage reports whether fetching moves the session's page away from the listing.
	UsesPage() bool
}

// DetailURL builds the detail endpoint URL for code.
func DetailURL(base, code string) string {
	q := url.Values{}
	q.Set("codigoAutorizacion", code)
	q.Set("opc", "2")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// ScreenshotHook receives screenshots captured after a detail page loads.
type ScreenshotHook func(ctx context.Context, code string, png []byte)

// BrowserDetailFetcher navigates the session's page to the detail endpoint.
type BrowserDetailFetcher struct {
	DetailURL   string
	Timeout     time.Duration
	Screenshots ScreenshotHook
}

func (f *BrowserDetailFetcher) UsesPage() bool { return true }

func (f *BrowserDetailFetcher) FetchDetail(ctx context.Context, sess *pool.Session, code string) (string, error) {
	target := DetailURL(f.DetailURL, code)
	if err := sess.Driver.Navigate(ctx, target, browser.NavigateOptions{
		WaitUntil: browser.WaitDOMContentLoaded,
		Timeout:   f.Timeout,
	}); err != nil {
		return "", classifyWait("detail page", err)
	}
	if f.Screenshots != nil {
		if png, err := sess.Driver.Screenshot(ctx); err == nil {
			f.Screenshots(ctx, code, png)
		}
	}
	html, err := sess.Driver.Content(ctx)
	if err != nil {
		return "", fmt.Errorf("read detail page: %w", err)
	}
	return html, nil
}

// HTTPDetailFetcher replays the session's cookies over plain HTTP through a
// colly collector, leaving the page on the listing.
type HTTPDetailFetcher struct {
	detailURL string
	referer   string
	base      *colly.Collector
	logger    *slog.Logger
}

// NewHTTPDetailFetcher builds a cookie-replay fetcher. transport may be nil.
func NewHTTPDetailFetcher(portal config.Portal, timeout time.Duration, transport http.RoundTripper, logger *slog.Logger) *HTTPDetailFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	c := colly.NewCollector(
		colly.UserAgent(portal.UserAgent),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	)
	c.SetRequestTimeout(timeout)
	// Cookies are sent per request from the owning session.
	c.DisableCookies()
	if transport != nil {
		c.WithTransport(transport)
	}
	return &HTTPDetailFetcher{
		detailURL: portal.DetailURL,
		referer:   portal.QueryURL,
		base:      c,
		logger:    logger,
	}
}

func (f *HTTPDetailFetcher) UsesPage() bool { return false }

func (f *HTTPDetailFetcher) FetchDetail(ctx context.Context, sess *pool.Session, code string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cookies, err := sess.Driver.Cookies(ctx)
	if err != nil {
		return "", fmt.Errorf("read session cookies: %w", err)
	}

	hdr := http.Header{}
	hdr.Set("Cookie", cookieHeader(cookies))
	hdr.Set("Referer", f.referer)

	var (
		body     string
		fetchErr error
	)
	c := f.base.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("detail request status %d: %w", status, err)
	})

	target := DetailURL(f.detailURL, code)
	f.logger.Debug("fetching detail over http", slog.String("code", code))
	if err := c.Request(http.MethodGet, target, nil, nil, hdr); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return "", fetchErr
	}
	return body, nil
}

func cookieHeader(cookies []browser.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	return strings.Join(parts, "; ")
}
