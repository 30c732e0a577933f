// Package browser defines the automation capability the scraper needs from a
// browser engine and owns the single shared browser process.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout marks a wait that exceeded its budget.
	ErrTimeout = errors.New("browser: timeout")
	// ErrLaunch marks a failure to start the browser process.
	ErrLaunch = errors.New("browser: launch failed")
	// ErrClosed is returned when the process or page is no longer available.
	ErrClosed = errors.New("browser: closed")
)

// WaitUntil selects when a navigation is considered complete.
type WaitUntil string

const (
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitLoad             WaitUntil = "load"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// NavigateOptions configures Navigate.
type NavigateOptions struct {
	WaitUntil WaitUntil
	Timeout   time.Duration
}

// Cookie is a browser cookie as read from the page's context.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Driver drives one page of the shared browser. A Driver is used by a single
// goroutine at a time.
type Driver interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	WaitForPredicate(ctx context.Context, expression string, timeout time.Duration) error
	// AwaitNavigation runs trigger and waits for the navigation it starts.
	AwaitNavigation(ctx context.Context, trigger func(ctx context.Context) error, timeout time.Duration) error
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Content(ctx context.Context) (string, error)
	URL() string
	Cookies(ctx context.Context) ([]Cookie, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// ChallengeSolver is implemented by drivers that can obtain an anti-bot
// challenge token from the page. ok is false when no token could be obtained.
type ChallengeSolver interface {
	TrySolveChallenge(ctx context.Context, timeout time.Duration) (token string, ok bool)
}

// Browser is a running browser process able to open pages.
type Browser interface {
	NewDriver(ctx context.Context) (Driver, error)
	Close() error
}

// Launcher starts a browser process.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Browser, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context) (Browser, error) {
	return f(ctx)
}
