package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scop-orders/browser"
	"github.com/aluiziolira/go-scop-orders/pool"
)

type idleProcess struct{}

func (idleProcess) EnsureStarted(context.Context) (browser.Browser, error) { return nil, nil }
func (idleProcess) Shutdown() error                                        { return nil }

// driverQueue hands out drivers in order, one per login.
type driverQueue struct {
	mu      sync.Mutex
	drivers []*fakeDriver
}

func (q *driverQueue) NewDriver(context.Context) (browser.Driver, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.drivers) == 0 {
		return nil, errors.New("no driver left")
	}
	d := q.drivers[0]
	q.drivers = q.drivers[1:]
	return d, nil
}

func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func newLoginPool(drivers ...*fakeDriver) *pool.Pool {
	auth := NewAuthenticator(&driverQueue{drivers: drivers}, testPortal(), testTimeouts(), nil, nil)
	return pool.New(auth, idleProcess{}, pool.Options{MaxSessions: 1})
}

func assertRejectedLogin(t *testing.T, p *pool.Pool, err error, rejected *fakeDriver) {
	t.Helper()
	var authErr ErrAuthentication
	if !errors.As(err, &authErr) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if !rejected.isClosed() {
		t.Fatalf("rejected login driver should be closed")
	}
	if st := p.Stats(); st.Creating != 0 || st.Live != 0 {
		t.Fatalf("capacity leaked after failed login: %+v", st)
	}
}

func checkoutSucceeds(t *testing.T, p *pool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := p.Checkout(ctx, testCreds)
	if err != nil {
		t.Fatalf("checkout after failed login: %v", err)
	}
	if sess.State() != pool.StateReady {
		t.Fatalf("expected ready session, got %s", sess.State())
	}
	p.Release(sess)
}

func TestPoolCheckoutRejectedLogin(t *testing.T) {
	rejected := loginDriver("https://portal.test/seguridad/login?error=UP")
	p := newLoginPool(rejected, loginDriver("https://portal.test/scopglp3/menu"))
	defer p.Close()

	_, err := p.Checkout(context.Background(), testCreds)
	assertRejectedLogin(t, p, err, rejected)
	checkoutSucceeds(t, p)
}

func TestPoolQueuedWaiterRejectedLogin(t *testing.T) {
	first := loginDriver("https://portal.test/scopglp3/menu")
	rejected := loginDriver("https://portal.test/seguridad/login?error=UP")
	p := newLoginPool(first, rejected, loginDriver("https://portal.test/scopglp3/menu"))
	defer p.Close()

	held, err := p.Checkout(context.Background(), testCreds)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Checkout(context.Background(), testCreds)
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Waiting != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("second checkout never queued: %+v", p.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Release(held)

	select {
	case err := <-errCh:
		assertRejectedLogin(t, p, err, rejected)
	case <-time.After(2 * time.Second):
		t.Fatalf("queued checkout never received the login failure")
	}
	checkoutSucceeds(t, p)
}
