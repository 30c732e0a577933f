package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ProcessManager owns the single browser process shared by every session.
// The process is started lazily and at most one launch is in flight at a time.
type ProcessManager struct {
	launcher Launcher
	logger   *slog.Logger

	mu      sync.Mutex
	browser Browser
	group   singleflight.Group

	launches int
}

// NewProcessManager builds a manager around launcher.
func NewProcessManager(launcher Launcher, logger *slog.Logger) *ProcessManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessManager{launcher: launcher, logger: logger}
}

// EnsureStarted returns the running browser, launching it if needed.
// Concurrent callers share the result of a single launch. A failed launch
// leaves the manager uninitialized and returns an error wrapping ErrLaunch.
func (m *ProcessManager) EnsureStarted(ctx context.Context) (Browser, error) {
	m.mu.Lock()
	if m.browser != nil {
		b := m.browser
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()

	ch := m.group.DoChan("launch", func() (any, error) {
		m.mu.Lock()
		if m.browser != nil {
			b := m.browser
			m.mu.Unlock()
			return b, nil
		}
		m.launches++
		m.mu.Unlock()

		m.logger.Info("launching browser")
		// The launch outlives any single caller's context.
		b, err := m.launcher.Launch(context.WithoutCancel(ctx))
		if err != nil {
			m.logger.Error("browser launch failed", slog.Any("error", err))
			return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
		}

		m.mu.Lock()
		m.browser = b
		m.mu.Unlock()
		m.logger.Info("browser ready")
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Browser), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewDriver opens a new page on the shared browser, starting it if needed.
func (m *ProcessManager) NewDriver(ctx context.Context) (Driver, error) {
	b, err := m.EnsureStarted(ctx)
	if err != nil {
		return nil, err
	}
	return b.NewDriver(ctx)
}

// Shutdown closes the browser process. It is a no-op when nothing is running.
func (m *ProcessManager) Shutdown() error {
	m.mu.Lock()
	b := m.browser
	m.browser = nil
	m.mu.Unlock()

	if b == nil {
		return nil
	}
	m.logger.Info("closing browser")
	if err := b.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// Running reports whether a browser process is currently up.
func (m *ProcessManager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// Launches returns how many launch attempts have been made.
func (m *ProcessManager) Launches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launches
}
