package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scop-orders/parser"
	"github.com/aluiziolira/go-scop-orders/pool"
)

// ErrValidation indicates a bad or missing request field. It never touches the pool.
type ErrValidation struct {
	Field string
	Err   error
}

func (e ErrValidation) Error() string {
	return fmt.Errorf("validation: %s: %w", e.Field, e.Err).Error()
}

func (e ErrValidation) Unwrap() error {
	return e.Err
}

// ErrCredentialLookup indicates a site key with no stored credentials.
type ErrCredentialLookup struct {
	SiteKey string
}

func (e ErrCredentialLookup) Error() string {
	return fmt.Sprintf("credential_lookup: no credentials for site %q", e.SiteKey)
}

// ErrBrowserInit indicates the browser process failed to launch.
type ErrBrowserInit struct {
	Err error
}

func (e ErrBrowserInit) Error() string {
	return fmt.Errorf("browser_init: %w", e.Err).Error()
}

func (e ErrBrowserInit) Unwrap() error {
	return e.Err
}

// ErrAuthentication indicates the portal rejected the login.
type ErrAuthentication struct {
	Err error
}

func (e ErrAuthentication) Error() string {
	return fmt.Errorf("authentication: %w", e.Err).Error()
}

func (e ErrAuthentication) Unwrap() error {
	return e.Err
}

// ErrNavigationTimeout indicates a wait exceeded its budget.
type ErrNavigationTimeout struct {
	Step string
	Err  error
}

func (e ErrNavigationTimeout) Error() string {
	return fmt.Errorf("navigation_timeout: %s: %w", e.Step, e.Err).Error()
}

func (e ErrNavigationTimeout) Unwrap() error {
	return e.Err
}

// ErrParse indicates an expected table or selector was absent on Page.
type ErrParse struct {
	Page string
	Err  error
}

func (e ErrParse) Error() string {
	var perr *parser.ParseError
	if errors.As(e.Err, &perr) {
		return fmt.Sprintf("parse: %s: %s", e.Page, perr.Reason)
	}
	return fmt.Errorf("parse: %s: %w", e.Page, e.Err).Error()
}

func (e ErrParse) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err was caused by the request rather than the portal.
func IsClientError(err error) bool {
	var validation ErrValidation
	if errors.As(err, &validation) {
		return true
	}
	var lookup ErrCredentialLookup
	return errors.As(err, &lookup)
}

// ErrorType returns the metric label for err.
func ErrorType(err error) string {
	return errorTypeLabel(err)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var validation ErrValidation
	if errors.As(err, &validation) {
		return "validation"
	}
	var lookup ErrCredentialLookup
	if errors.As(err, &lookup) {
		return "credential_lookup"
	}
	var browserInit ErrBrowserInit
	if errors.As(err, &browserInit) {
		return "browser_init"
	}
	var auth ErrAuthentication
	if errors.As(err, &auth) {
		return "authentication"
	}
	var timeout ErrNavigationTimeout
	if errors.As(err, &timeout) {
		return "navigation_timeout"
	}
	var parse ErrParse
	if errors.As(err, &parse) {
		return "parse"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "other"
}

// isRetryable reports whether a failed run may be attempted again with a fresh session.
func isRetryable(err error) bool {
	if errors.Is(err, pool.ErrClosed) {
		return false
	}
	switch errorTypeLabel(err) {
	case "validation", "credential_lookup", "browser_init", "canceled":
		return false
	}
	return true
}
