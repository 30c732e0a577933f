package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-scop-orders/browser"
	"github.com/aluiziolira/go-scop-orders/config"
	"github.com/aluiziolira/go-scop-orders/models"
	"github.com/aluiziolira/go-scop-orders/pool"
)

// DriverOpener opens pages on the shared browser process.
type DriverOpener interface {
	NewDriver(ctx context.Context) (browser.Driver, error)
}

// Authenticator logs a fresh page into the portal and activates the order
// query module. It is the pool's session factory.
type Authenticator struct {
	opener   DriverOpener
	portal   config.Portal
	timeouts config.Timeouts
	logger   *slog.Logger
	metrics  *Metrics
	sleep    func(context.Context, time.Duration) error
}

// NewAuthenticator builds an authenticator over opener.
func NewAuthenticator(opener DriverOpener, portal config.Portal, timeouts config.Timeouts, logger *slog.Logger, metrics *Metrics) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		opener:   opener,
		portal:   portal,
		timeouts: timeouts,
		logger:   logger,
		metrics:  metrics,
		sleep:    sleepContext,
	}
}

var _ pool.Factory = (*Authenticator)(nil)

const injectFieldScript = `([field, token]) => {
	const form = document.querySelector("form");
	if (!form) {
		return false;
	}
	let input = form.querySelector('input[name="' + field + '"]');
	if (!input) {
		input = document.createElement("input");
		input.type = "hidden";
		input.name = field;
		form.appendChild(input);
	}
	input.value = token;
	return true;
}`

// Create opens a page and drives it to Ready. On any failure the page is
// closed and the session is left Failed.
func (a *Authenticator) Create(ctx context.Context, creds models.Credentials) (_ *pool.Session, err error) {
	driver, err := a.opener.NewDriver(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrLaunch) {
			return nil, ErrBrowserInit{Err: err}
		}
		return nil, fmt.Errorf("open page: %w", err)
	}

	sess := pool.NewSession(driver, creds)
	logger := a.logger.With(slog.String("session", sess.ID), slog.String("site", creds.SiteKey))
	defer func() {
		if err == nil {
			a.metrics.IncLogin("ok")
			return
		}
		sess.SetState(pool.StateFailed)
		a.metrics.IncLogin(errorTypeLabel(err))
		if cerr := driver.Close(); cerr != nil {
			logger.Warn("close failed session", slog.Any("error", cerr))
		}
	}()

	sess.SetState(pool.StateLoggingIn)
	logger.Debug("opening login page")
	if err := driver.Navigate(ctx, a.portal.LoginURL, browser.NavigateOptions{
		WaitUntil: browser.WaitDOMContentLoaded,
		Timeout:   a.timeouts.Navigation,
	}); err != nil {
		return nil, classifyWait("login page", err)
	}
	if err := driver.WaitForSelector(ctx, a.portal.UsernameSelector, a.timeouts.Selector); err != nil {
		return nil, classifyWait("login form", err)
	}
	if err := driver.Fill(ctx, a.portal.UsernameSelector, creds.Username); err != nil {
		return nil, fmt.Errorf("fill username: %w", err)
	}
	if err := driver.Fill(ctx, a.portal.PasswordSelector, creds.Password); err != nil {
		return nil, fmt.Errorf("fill password: %w", err)
	}

	a.injectChallengeToken(ctx, driver, logger)

	sess.SetState(pool.StateActivating)
	err = driver.AwaitNavigation(ctx, func(ctx context.Context) error {
		return driver.Click(ctx, a.portal.SubmitSelector)
	}, a.timeouts.Submit)
	if err != nil {
		return nil, classifyWait("login submit", err)
	}
	if current := driver.URL(); strings.Contains(current, a.portal.LoginErrorMarker) {
		logger.Warn("login rejected by portal", slog.String("url", current))
		return nil, ErrAuthentication{Err: fmt.Errorf("portal rejected credentials for site %s", creds.SiteKey)}
	}

	a.activate(ctx, driver, logger)

	sess.SetState(pool.StateReady)
	logger.Info("session ready")
	return sess, nil
}

// injectChallengeToken adds a reCAPTCHA token to the login form when the page
// can produce one. Failures are logged and ignored.
func (a *Authenticator) injectChallengeToken(ctx context.Context, driver browser.Driver, logger *slog.Logger) {
	solver, ok := driver.(browser.ChallengeSolver)
	if !ok || a.portal.ChallengeField == "" {
		return
	}
	token, ok := solver.TrySolveChallenge(ctx, a.timeouts.Challenge)
	if !ok {
		logger.Debug("no challenge token, submitting without it")
		return
	}
	if _, err := driver.Evaluate(ctx, injectFieldScript, []any{a.portal.ChallengeField, token}); err != nil {
		logger.Warn("inject challenge token", slog.Any("error", err))
		return
	}
	logger.Debug("challenge token injected")
}

// activate opens the order query module. The portal tolerates its absence on
// some accounts, so failures are logged only.
func (a *Authenticator) activate(ctx context.Context, driver browser.Driver, logger *slog.Logger) {
	if a.portal.ActivationPredicate == "" {
		return
	}
	if err := driver.WaitForPredicate(ctx, a.portal.ActivationPredicate, a.timeouts.Activation); err != nil {
		logger.Warn("module activation unavailable", slog.Any("error", err))
		return
	}
	if _, err := driver.Evaluate(ctx, a.portal.ActivationScript, nil); err != nil {
		logger.Warn("module activation failed", slog.Any("error", err))
		return
	}
	if err := a.sleep(ctx, a.portal.ActivationSettle); err != nil {
		logger.Debug("activation settle interrupted", slog.Any("error", err))
	}
}

// classifyWait maps a failed wait to the error taxonomy.
func classifyWait(step string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, browser.ErrTimeout) {
		return ErrNavigationTimeout{Step: step, Err: err}
	}
	return fmt.Errorf("%s: %w", step, err)
}
