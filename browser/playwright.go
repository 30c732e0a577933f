package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightOptions configures the Chromium engine.
type PlaywrightOptions struct {
	Headless       bool
	SlowMo         time.Duration
	ExecutablePath string
	UserAgent      string
	// LightMode aborts image, font and stylesheet requests.
	LightMode bool
	// ChallengeSiteKey and ChallengeAction drive TrySolveChallenge.
	ChallengeSiteKey string
	ChallengeAction  string
	Logger           *slog.Logger
}

var launchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
}

var lightModeBlocked = map[string]bool{
	"image":      true,
	"font":       true,
	"stylesheet": true,
}

// PlaywrightLauncher launches Chromium through playwright-go.
type PlaywrightLauncher struct {
	opts PlaywrightOptions
}

// NewPlaywrightLauncher returns a Launcher backed by playwright-go.
func NewPlaywrightLauncher(opts PlaywrightOptions) *PlaywrightLauncher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PlaywrightLauncher{opts: opts}
}

// Launch starts the playwright driver and a Chromium process.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args:     launchArgs,
	}
	if l.opts.SlowMo > 0 {
		launchOpts.SlowMo = playwright.Float(float64(l.opts.SlowMo.Milliseconds()))
	}
	if l.opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(l.opts.ExecutablePath)
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &playwrightBrowser{pw: pw, browser: b, opts: l.opts}, nil
}

type playwrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    PlaywrightOptions
}

// NewDriver opens a page in its own browser context so sessions never share cookies.
func (b *playwrightBrowser) NewDriver(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.browser.IsConnected() {
		return nil, ErrClosed
	}
	contextOpts := playwright.BrowserNewContextOptions{}
	if b.opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(b.opts.UserAgent)
	}
	bctx, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	d := &playwrightDriver{ctx: bctx, page: page, opts: b.opts, logger: b.opts.Logger}
	if b.opts.LightMode {
		if err := page.Route("**/*", d.routeLight); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("install light mode route: %w", err)
		}
	}
	page.OnRequest(func(r playwright.Request) {
		d.logger.Debug("request", slog.String("method", r.Method()), slog.String("url", r.URL()))
	})
	page.OnResponse(func(r playwright.Response) {
		d.logger.Debug("response", slog.Int("status", r.Status()), slog.String("url", r.URL()))
	})
	return d, nil
}

func (b *playwrightBrowser) Close() error {
	var errs []error
	if err := b.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.pw.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type playwrightDriver struct {
	ctx    playwright.BrowserContext
	page   playwright.Page
	opts   PlaywrightOptions
	logger *slog.Logger
}

func (d *playwrightDriver) routeLight(route playwright.Route) {
	if lightModeBlocked[route.Request().ResourceType()] {
		_ = route.Abort()
		return
	}
	_ = route.Continue()
}

func (d *playwrightDriver) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	timeout, err := budget(ctx, opts.Timeout)
	if err != nil {
		return err
	}
	gotoOpts := playwright.PageGotoOptions{Timeout: timeout}
	if opts.WaitUntil != "" {
		state := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &state
	}
	if _, err := d.page.Goto(url, gotoOpts); err != nil {
		return mapError(fmt.Sprintf("navigate %s", url), err)
	}
	return nil
}

func (d *playwrightDriver) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.page.Fill(selector, value); err != nil {
		return mapError(fmt.Sprintf("fill %s", selector), err)
	}
	return nil
}

func (d *playwrightDriver) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.page.Click(selector); err != nil {
		return mapError(fmt.Sprintf("click %s", selector), err)
	}
	return nil
}

func (d *playwrightDriver) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	_, err = d.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{Timeout: ms})
	if err != nil {
		return mapError(fmt.Sprintf("wait for %s", selector), err)
	}
	return nil
}

func (d *playwrightDriver) WaitForPredicate(ctx context.Context, expression string, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	_, err = d.page.WaitForFunction(expression, nil, playwright.PageWaitForFunctionOptions{Timeout: ms})
	if err != nil {
		return mapError("wait for predicate", err)
	}
	return nil
}

func (d *playwrightDriver) AwaitNavigation(ctx context.Context, trigger func(ctx context.Context) error, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	_, err = d.page.ExpectNavigation(func() error {
		return trigger(ctx)
	}, playwright.PageExpectNavigationOptions{Timeout: ms})
	if err != nil {
		return mapError("await navigation", err)
	}
	return nil
}

func (d *playwrightDriver) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		v   any
		err error
	)
	if arg == nil {
		v, err = d.page.Evaluate(script)
	} else {
		v, err = d.page.Evaluate(script, arg)
	}
	if err != nil {
		return nil, mapError("evaluate", err)
	}
	return v, nil
}

func (d *playwrightDriver) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := d.page.Content()
	if err != nil {
		return "", mapError("content", err)
	}
	return html, nil
}

func (d *playwrightDriver) URL() string {
	return d.page.URL()
}

func (d *playwrightDriver) Cookies(ctx context.Context) ([]Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := d.ctx.Cookies()
	if err != nil {
		return nil, mapError("cookies", err)
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	return out, nil
}

func (d *playwrightDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := d.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	if err != nil {
		return nil, mapError("screenshot", err)
	}
	return buf, nil
}

func (d *playwrightDriver) Close() error {
	if err := d.ctx.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}

const challengeScript = `async ([siteKey, action, timeoutMs]) => {
	if (typeof grecaptcha === "undefined" || typeof grecaptcha.execute !== "function") {
		return "";
	}
	const timer = new Promise((resolve) => setTimeout(() => resolve(""), timeoutMs));
	const token = new Promise((resolve) => {
		grecaptcha.ready(() => {
			grecaptcha.execute(siteKey, { action }).then(resolve, () => resolve(""));
		});
	});
	return Promise.race([token, timer]);
}`

// TrySolveChallenge asks the page's reCAPTCHA v3 client for a token.
func (d *playwrightDriver) TrySolveChallenge(ctx context.Context, timeout time.Duration) (string, bool) {
	if d.opts.ChallengeSiteKey == "" || ctx.Err() != nil {
		return "", false
	}
	v, err := d.page.Evaluate(challengeScript, []any{d.opts.ChallengeSiteKey, d.opts.ChallengeAction, timeout.Milliseconds()})
	if err != nil {
		d.logger.Warn("challenge script failed", slog.Any("error", err))
		return "", false
	}
	token, _ := v.(string)
	return token, token != ""
}

// budget converts a wait timeout to playwright milliseconds, bounded by the
// context deadline.
func budget(ctx context.Context, timeout time.Duration) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, nil
	}
	return playwright.Float(float64(timeout.Milliseconds())), nil
}

func mapError(op string, err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	}
	if errors.Is(err, playwright.ErrTargetClosed) {
		return fmt.Errorf("%s: %w: %v", op, ErrClosed, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
