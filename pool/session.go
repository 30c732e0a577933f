package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scop-orders/browser"
	"github.com/aluiziolira/go-scop-orders/models"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateUnauthenticated State = iota
	StateLoggingIn
	StateActivating
	StateReady
	StateBusy
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoggingIn:
		return "logging_in"
	case StateActivating:
		return "activating"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one authenticated browser page bound to a set of credentials.
type Session struct {
	ID          string
	Driver      browser.Driver
	Credentials models.Credentials
	CreatedAt   time.Time

	state atomic.Int32
}

// NewSession wraps driver in an unauthenticated session.
func NewSession(driver browser.Driver, creds models.Credentials) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Driver:      driver,
		Credentials: creds,
		CreatedAt:   time.Now(),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) SetState(st State) {
	s.state.Store(int32(st))
}

// MarkFailed flags the session so Release closes it instead of keeping it idle.
func (s *Session) MarkFailed() {
	s.SetState(StateFailed)
}

// Factory creates authenticated sessions.
type Factory interface {
	Create(ctx context.Context, creds models.Credentials) (*Session, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, creds models.Credentials) (*Session, error)

func (f FactoryFunc) Create(ctx context.Context, creds models.Credentials) (*Session, error) {
	return f(ctx, creds)
}

// Process is the browser process the pool restarts.
type Process interface {
	EnsureStarted(ctx context.Context) (browser.Browser, error)
	Shutdown() error
}
