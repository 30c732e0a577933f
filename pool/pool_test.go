package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scop-orders/browser"
	"github.com/aluiziolira/go-scop-orders/models"
)

type nopDriver struct {
	closed atomic.Bool
}

func (d *nopDriver) Navigate(context.Context, string, browser.NavigateOptions) error { return nil }
func (d *nopDriver) Fill(context.Context, string, string) error                      { return nil }
func (d *nopDriver) Click(context.Context, string) error                             { return nil }
func (d *nopDriver) WaitForSelector(context.Context, string, time.Duration) error    { return nil }
func (d *nopDriver) WaitForPredicate(context.Context, string, time.Duration) error   { return nil }
func (d *nopDriver) AwaitNavigation(ctx context.Context, trigger func(context.Context) error, _ time.Duration) error {
	return trigger(ctx)
}
func (d *nopDriver) Evaluate(context.Context, string, any) (any, error)    { return nil, nil }
func (d *nopDriver) Content(context.Context) (string, error)              { return "", nil }
func (d *nopDriver) URL() string                                          { return "" }
func (d *nopDriver) Cookies(context.Context) ([]browser.Cookie, error)    { return nil, nil }
func (d *nopDriver) Screenshot(context.Context) ([]byte, error)           { return nil, nil }
func (d *nopDriver) Close() error                                         { d.closed.Store(true); return nil }

type fakeFactory struct {
	mu       sync.Mutex
	created  int
	failures int
	drivers  []*nopDriver
}

func (f *fakeFactory) Create(ctx context.Context, creds models.Credentials) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("login rejected")
	}
	f.created++
	d := &nopDriver{}
	f.drivers = append(f.drivers, d)
	return NewSession(d, creds), nil
}

func (f *fakeFactory) failNext(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeProcess struct {
	shutdowns atomic.Int32
	starts    atomic.Int32
}

func (p *fakeProcess) EnsureStarted(context.Context) (browser.Browser, error) {
	p.starts.Add(1)
	return nil, nil
}

func (p *fakeProcess) Shutdown() error {
	p.shutdowns.Add(1)
	return nil
}

var siteA = models.Credentials{SiteKey: "058", Username: "user-a", Password: "secret"}
var siteB = models.Credentials{SiteKey: "101", Username: "user-b", Password: "secret"}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

func TestCheckoutServesWaitersInOrderWithinCapacity(t *testing.T) {
	factory := &fakeFactory{}
	p := New(factory, &fakeProcess{}, Options{MaxSessions: 2})
	ctx := context.Background()

	first, err := p.Checkout(ctx, siteA)
	require.NoError(t, err)
	second, err := p.Checkout(ctx, siteA)
	require.NoError(t, err)

	const waiters = 3
	order := make(chan int, waiters)
	sessions := make(chan *Session, waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			s, err := p.Checkout(ctx, siteA)
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			order <- i
			sessions <- s
		}(i)
		waitFor(t, func() bool { return p.Stats().Waiting == i+1 })
	}

	require.LessOrEqual(t, p.Stats().Busy, 2)

	p.Release(first)
	require.Equal(t, 0, <-order)
	p.Release(second)
	require.Equal(t, 1, <-order)
	require.LessOrEqual(t, p.Stats().Busy, 2)

	p.Release(<-sessions)
	require.Equal(t, 2, <-order)

	p.Release(<-sessions)
	p.Release(<-sessions)
	waitFor(t, func() bool { return p.Stats().Live == 0 })
	require.Equal(t, 5, factory.count())
}

func TestReleasePromotesExactlyOneWaiter(t *testing.T) {
	p := New(&fakeFactory{}, &fakeProcess{}, Options{MaxSessions: 1})
	ctx := context.Background()

	held, err := p.Checkout(ctx, siteA)
	require.NoError(t, err)

	var served atomic.Int32
	for i := 0; i < 3; i++ {
		go func() {
			s, err := p.Checkout(ctx, siteA)
			if err == nil {
				served.Add(1)
				_ = s
			}
		}()
	}
	waitFor(t, func() bool { return p.Stats().Waiting == 3 })

	p.Release(held)
	waitFor(t, func() bool { return served.Load() == 1 })
	time.Sleep(20 * time.Millisecond)

	stats := p.Stats()
	require.Equal(t, int32(1), served.Load())
	require.Equal(t, 2, stats.Waiting)
	require.Equal(t, 1, stats.Busy)
	p.Close()
}

func TestFailedCreationIsDeliveredToWaiter(t *testing.T) {
	factory := &fakeFactory{}
	p := New(factory, &fakeProcess{}, Options{MaxSessions: 1})
	ctx := context.Background()

	held, err := p.Checkout(ctx, siteA)
	require.NoError(t, err)

	errFirst := make(chan error, 1)
	go func() {
		_, err := p.Checkout(ctx, siteA)
		errFirst <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	secondSession := make(chan *Session, 1)
	go func() {
		s, err := p.Checkout(ctx, siteA)
		if err != nil {
			t.Errorf("second waiter: %v", err)
		}
		secondSession <- s
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 2 })

	factory.failNext(1)
	p.Release(held)

	require.EqualError(t, <-errFirst, "login rejected")
	s := <-secondSession
	require.NotNil(t, s)
	require.Equal(t, StateBusy, s.State())
	p.Release(s)
	waitFor(t, func() bool { return p.Stats().Live == 0 })
}

func TestCheckoutCancelRemovesWaiter(t *testing.T) {
	p := New(&fakeFactory{}, &fakeProcess{}, Options{MaxSessions: 1})
	held, err := p.Checkout(context.Background(), siteA)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Checkout(ctx, siteA)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, p.Stats().Waiting)

	p.Release(held)
	waitFor(t, func() bool { return p.Stats().Live == 0 })
}

func TestRestartWaitsForBusySessions(t *testing.T) {
	proc := &fakeProcess{}
	p := New(&fakeFactory{}, proc, Options{MaxSessions: 2})

	held, err := p.Checkout(context.Background(), siteA)
	require.NoError(t, err)

	restarted := make(chan error, 1)
	go func() { restarted <- p.Restart(context.Background()) }()
	waitFor(t, func() bool { return p.Stats().Draining })

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), proc.shutdowns.Load(), "shutdown ran while a session was busy")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Checkout(ctx, siteA)
	require.ErrorIs(t, err, context.DeadlineExceeded, "checkout should block while draining")

	p.Release(held)
	require.NoError(t, <-restarted)
	require.Equal(t, int32(1), proc.shutdowns.Load())
	require.Equal(t, int32(1), proc.starts.Load())

	stats := p.Stats()
	require.False(t, stats.Draining)
	require.Equal(t, 1, stats.Restarts)

	s, err := p.Checkout(context.Background(), siteA)
	require.NoError(t, err)
	p.Release(s)
}

func TestReusePolicyKeepsSessionsPerCredentials(t *testing.T) {
	factory := &fakeFactory{}
	p := New(factory, &fakeProcess{}, Options{MaxSessions: 1, Policy: PolicyReuse})
	ctx := context.Background()

	s1, err := p.Checkout(ctx, siteA)
	require.NoError(t, err)
	p.Release(s1)
	require.Equal(t, StateReady, s1.State())
	require.Equal(t, 1, p.Stats().Idle)

	s2, err := p.Checkout(ctx, siteA)
	require.NoError(t, err)
	require.Equal(t, s1.ID, s2.ID)
	require.Equal(t, 1, factory.count())
	p.Release(s2)

	s3, err := p.Checkout(ctx, siteB)
	require.NoError(t, err)
	require.NotEqual(t, s1.ID, s3.ID)
	require.True(t, factory.drivers[0].closed.Load(), "idle session for other credentials should be evicted")
	require.Equal(t, 1, p.Stats().Live)

	s3.MarkFailed()
	p.Release(s3)
	require.Equal(t, 0, p.Stats().Idle)
	require.True(t, factory.drivers[1].closed.Load())
}

func TestRestartClosesIdleSessions(t *testing.T) {
	factory := &fakeFactory{}
	p := New(factory, &fakeProcess{}, Options{MaxSessions: 2, Policy: PolicyReuse})

	s, err := p.Checkout(context.Background(), siteA)
	require.NoError(t, err)
	p.Release(s)

	require.NoError(t, p.Restart(context.Background()))
	require.Equal(t, 0, p.Stats().Live)
	require.True(t, factory.drivers[0].closed.Load())
}

func TestCloseFailsPendingCheckouts(t *testing.T) {
	p := New(&fakeFactory{}, &fakeProcess{}, Options{MaxSessions: 1})
	held, err := p.Checkout(context.Background(), siteA)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := p.Checkout(context.Background(), siteA)
		errs <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiting == 1 })

	p.Close()
	require.ErrorIs(t, <-errs, ErrClosed)

	p.Release(held)
	require.Equal(t, 0, p.Stats().Live)
	_, err = p.Checkout(context.Background(), siteA)
	require.ErrorIs(t, err, ErrClosed)
}
