// Package pool bounds the number of concurrent authenticated portal sessions
// and coordinates scheduled restarts of the shared browser process.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scop-orders/models"
)

// ErrClosed is returned by operations on a closed pool.
var ErrClosed = errors.New("pool: closed")

// Policy decides what Release does with a healthy session.
type Policy string

const (
	// PolicyClose closes every session on release.
	PolicyClose Policy = "close"
	// PolicyReuse keeps released sessions idle for checkouts with the same credentials.
	PolicyReuse Policy = "reuse"
)

// Options configures a Pool.
type Options struct {
	MaxSessions int
	Policy      Policy
	Logger      *slog.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Max        int  `json:"max"`
	Live       int  `json:"live"`
	Busy       int  `json:"busy"`
	Idle       int  `json:"idle"`
	Waiting    int  `json:"waiting"`
	Creating   int  `json:"creating"`
	Destroying int  `json:"destroying"`
	Draining   bool `json:"draining"`
	Restarts   int  `json:"restarts"`
}

type checkoutResult struct {
	sess *Session
	err  error
}

type waiter struct {
	creds  models.Credentials
	result chan checkoutResult
	elem   *list.Element
}

// Pool hands out sessions, creating them through a Factory, with at most
// MaxSessions live, being created, or being destroyed at any time.
type Pool struct {
	factory Factory
	process Process
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	sessions   map[string]*Session
	idle       []*Session
	busy       int
	creating   int
	destroying int
	waiters    *list.List
	draining   bool
	resumed    chan struct{}
	changed    chan struct{}
	closed     bool
	restarts   int
}

// New builds a pool. MaxSessions below 1 is treated as 1.
func New(factory Factory, process Process, opts Options) *Pool {
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 1
	}
	if opts.Policy == "" {
		opts.Policy = PolicyClose
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		factory:  factory,
		process:  process,
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
		waiters:  list.New(),
		changed:  make(chan struct{}),
	}
}

// Checkout returns a Busy session for creds. It blocks while the pool is at
// capacity or draining for a restart. Waiters are served in arrival order.
func (p *Pool) Checkout(ctx context.Context, creds models.Credentials) (*Session, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if p.draining {
			resumed := p.resumed
			p.mu.Unlock()
			select {
			case <-resumed:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if p.waiters.Len() == 0 {
			if s := p.takeIdleLocked(creds); s != nil {
				p.mu.Unlock()
				p.logger.Debug("session reused", slog.String("session", s.ID))
				return s, nil
			}
			if p.capacityLocked() < p.opts.MaxSessions {
				p.creating++
				p.mu.Unlock()
				return p.create(ctx, creds)
			}
			if victim := p.evictIdleLocked(); victim != nil {
				p.mu.Unlock()
				p.destroy(victim)
				continue
			}
		}

		w := &waiter{creds: creds, result: make(chan checkoutResult, 1)}
		w.elem = p.waiters.PushBack(w)
		p.notifyLocked()
		waiting := p.waiters.Len()
		p.mu.Unlock()
		p.logger.Debug("checkout queued", slog.Int("waiting", waiting))

		select {
		case res := <-w.result:
			return res.sess, res.err
		case <-ctx.Done():
			p.mu.Lock()
			if w.elem != nil {
				p.waiters.Remove(w.elem)
				w.elem = nil
				p.notifyLocked()
				p.mu.Unlock()
				return nil, ctx.Err()
			}
			p.mu.Unlock()
			// Already promoted; hand back whatever arrives.
			go func() {
				if res := <-w.result; res.sess != nil {
					p.Release(res.sess)
				}
			}()
			return nil, ctx.Err()
		}
	}
}

// Release returns a session obtained from Checkout. Under PolicyClose, or when
// the session was marked failed, it is closed; capacity freed by a release is
// offered to the longest waiting checkout.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.sessions[s.ID]; !ok || s.State() != StateBusy && s.State() != StateFailed {
		p.mu.Unlock()
		return
	}
	p.busy--

	if p.opts.Policy == PolicyReuse && !p.closed && s.State() == StateBusy {
		if w := p.matchingWaiterLocked(s.Credentials); w != nil {
			p.busy++
			p.notifyLocked()
			p.mu.Unlock()
			w.result <- checkoutResult{sess: s}
			return
		}
		s.SetState(StateReady)
		p.idle = append(p.idle, s)
		p.notifyLocked()
		p.mu.Unlock()
		p.promote()
		return
	}

	delete(p.sessions, s.ID)
	p.destroying++
	p.mu.Unlock()
	p.destroy(s)
}

// Restart waits until no session is busy, queued, being created or being
// destroyed, then restarts the browser process. New checkouts block until the
// restart finishes. Concurrent calls join the restart already in progress.
func (p *Pool) Restart(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.draining {
		resumed := p.resumed
		p.mu.Unlock()
		select {
		case <-resumed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.draining = true
	p.resumed = make(chan struct{})
	p.logger.Info("draining sessions for restart", slog.Int("busy", p.busy), slog.Int("waiting", p.waiters.Len()))

	for p.busy > 0 || p.waiters.Len() > 0 || p.creating > 0 || p.destroying > 0 {
		changed := p.changed
		p.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			p.mu.Lock()
			p.endDrainLocked()
			p.mu.Unlock()
			return ctx.Err()
		}
		p.mu.Lock()
	}

	idle := p.idle
	p.idle = nil
	for _, s := range idle {
		delete(p.sessions, s.ID)
	}
	p.mu.Unlock()

	for _, s := range idle {
		p.closeDriver(s)
	}

	var restartErr error
	if err := p.process.Shutdown(); err != nil {
		p.logger.Warn("browser shutdown failed", slog.Any("error", err))
	}
	if _, err := p.process.EnsureStarted(ctx); err != nil {
		restartErr = fmt.Errorf("restart browser: %w", err)
	}

	p.mu.Lock()
	p.restarts++
	p.endDrainLocked()
	p.mu.Unlock()

	if restartErr != nil {
		p.logger.Error("browser restart failed", slog.Any("error", restartErr))
		return restartErr
	}
	p.logger.Info("browser restarted")
	return nil
}

// RunRestartLoop calls Restart every interval until ctx is done. A
// non-positive interval disables the loop.
func (p *Pool) RunRestartLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Restart(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("scheduled restart failed", slog.Any("error", err))
			}
		}
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Max:        p.opts.MaxSessions,
		Live:       len(p.sessions),
		Busy:       p.busy,
		Idle:       len(p.idle),
		Waiting:    p.waiters.Len(),
		Creating:   p.creating,
		Destroying: p.destroying,
		Draining:   p.draining,
		Restarts:   p.restarts,
	}
}

// Close fails pending checkouts and closes idle sessions. Busy sessions are
// closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var pending []*waiter
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		w.elem = nil
		pending = append(pending, w)
	}
	p.waiters.Init()
	idle := p.idle
	p.idle = nil
	for _, s := range idle {
		delete(p.sessions, s.ID)
	}
	p.notifyLocked()
	p.mu.Unlock()

	p.cancel()
	for _, w := range pending {
		w.result <- checkoutResult{err: ErrClosed}
	}
	for _, s := range idle {
		p.closeDriver(s)
	}
}

func (p *Pool) create(ctx context.Context, creds models.Credentials) (*Session, error) {
	s, err := p.factory.Create(ctx, creds)
	p.mu.Lock()
	p.creating--
	if err != nil {
		p.notifyLocked()
		p.mu.Unlock()
		p.promote()
		return nil, err
	}
	p.addBusyLocked(s)
	p.mu.Unlock()
	return s, nil
}

// serve creates a session for a waiter already removed from the queue.
func (p *Pool) serve(w *waiter) {
	s, err := p.factory.Create(p.ctx, w.creds)
	p.mu.Lock()
	p.creating--
	if err != nil {
		p.notifyLocked()
		p.mu.Unlock()
		w.result <- checkoutResult{err: err}
		p.promote()
		return
	}
	p.addBusyLocked(s)
	p.mu.Unlock()
	w.result <- checkoutResult{sess: s}
}

// promote offers free capacity or matching idle sessions to queued waiters,
// front first.
func (p *Pool) promote() {
	for {
		p.mu.Lock()
		if p.closed || p.waiters.Len() == 0 {
			p.mu.Unlock()
			return
		}
		w := p.waiters.Front().Value.(*waiter)

		if s := p.takeIdleLocked(w.creds); s != nil {
			p.removeWaiterLocked(w)
			p.mu.Unlock()
			w.result <- checkoutResult{sess: s}
			continue
		}
		if p.capacityLocked() < p.opts.MaxSessions {
			p.removeWaiterLocked(w)
			p.creating++
			p.mu.Unlock()
			go p.serve(w)
			continue
		}
		if victim := p.evictIdleLocked(); victim != nil {
			p.mu.Unlock()
			p.destroyQuiet(victim)
			continue
		}
		p.mu.Unlock()
		return
	}
}

// destroy closes a session already counted in destroying, then promotes.
func (p *Pool) destroy(s *Session) {
	p.destroyQuiet(s)
	p.promote()
}

func (p *Pool) destroyQuiet(s *Session) {
	p.closeDriver(s)
	p.mu.Lock()
	p.destroying--
	p.notifyLocked()
	p.mu.Unlock()
}

func (p *Pool) closeDriver(s *Session) {
	s.SetState(StateClosing)
	if s.Driver == nil {
		return
	}
	if err := s.Driver.Close(); err != nil {
		p.logger.Warn("session close failed", slog.String("session", s.ID), slog.Any("error", err))
	}
}

func (p *Pool) addBusyLocked(s *Session) {
	s.SetState(StateBusy)
	p.sessions[s.ID] = s
	p.busy++
	p.notifyLocked()
}

func (p *Pool) takeIdleLocked(creds models.Credentials) *Session {
	if p.opts.Policy != PolicyReuse {
		return nil
	}
	id := creds.Identity()
	for i, s := range p.idle {
		if s.Credentials.Identity() == id {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			s.SetState(StateBusy)
			p.busy++
			p.notifyLocked()
			return s
		}
	}
	return nil
}

// evictIdleLocked removes the oldest idle session to free capacity for other
// credentials. The caller must close it through destroy.
func (p *Pool) evictIdleLocked() *Session {
	if len(p.idle) == 0 {
		return nil
	}
	s := p.idle[0]
	p.idle = p.idle[1:]
	delete(p.sessions, s.ID)
	p.destroying++
	p.notifyLocked()
	return s
}

func (p *Pool) matchingWaiterLocked(creds models.Credentials) *waiter {
	id := creds.Identity()
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		if w.creds.Identity() == id {
			p.removeWaiterLocked(w)
			return w
		}
	}
	return nil
}

func (p *Pool) removeWaiterLocked(w *waiter) {
	if w.elem != nil {
		p.waiters.Remove(w.elem)
		w.elem = nil
	}
	p.notifyLocked()
}

func (p *Pool) capacityLocked() int {
	return len(p.sessions) + p.creating + p.destroying
}

func (p *Pool) endDrainLocked() {
	p.draining = false
	close(p.resumed)
	p.notifyLocked()
}

func (p *Pool) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
