package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubBrowser struct {
	closed atomic.Int32
}

func (b *stubBrowser) NewDriver(ctx context.Context) (Driver, error) {
	return nil, errors.New("not implemented")
}

func (b *stubBrowser) Close() error {
	b.closed.Add(1)
	return nil
}

func TestEnsureStartedSharesSingleLaunch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	launcher := LauncherFunc(func(ctx context.Context) (Browser, error) {
		calls.Add(1)
		<-release
		return &stubBrowser{}, nil
	})
	m := NewProcessManager(launcher, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Browser, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.EnsureStarted(context.Background())
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 launch, got %d", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different browser", i)
		}
	}

	if _, err := m.EnsureStarted(context.Background()); err != nil {
		t.Fatalf("unexpected error on warm call: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("warm call relaunched: %d launches", got)
	}
}

func TestEnsureStartedFailureResets(t *testing.T) {
	var calls atomic.Int32
	launcher := LauncherFunc(func(ctx context.Context) (Browser, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("chromium missing")
		}
		return &stubBrowser{}, nil
	})
	m := NewProcessManager(launcher, nil)

	_, err := m.EnsureStarted(context.Background())
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}
	if m.Running() {
		t.Fatalf("manager should not be running after a failed launch")
	}

	if _, err := m.EnsureStarted(context.Background()); err != nil {
		t.Fatalf("second launch should succeed, got %v", err)
	}
	if !m.Running() {
		t.Fatalf("manager should be running")
	}
	if got := m.Launches(); got != 2 {
		t.Fatalf("expected 2 launches, got %d", got)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	b := &stubBrowser{}
	m := NewProcessManager(LauncherFunc(func(ctx context.Context) (Browser, error) {
		return b, nil
	}), nil)

	if err := m.Shutdown(); err != nil {
		t.Fatalf("shutdown before start: %v", err)
	}
	if _, err := m.EnsureStarted(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if got := b.closed.Load(); got != 1 {
		t.Fatalf("expected browser closed once, got %d", got)
	}
}

func TestEnsureStartedHonorsCallerContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	m := NewProcessManager(LauncherFunc(func(ctx context.Context) (Browser, error) {
		<-release
		return &stubBrowser{}, nil
	}), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.EnsureStarted(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
