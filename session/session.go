// ABOUTME: Per-login application context owning the store, subscription manager, and health monitor
// ABOUTME: Handles startup, project switches, and teardown on logout
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/health"
	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/realtime"
	"github.com/harperreed/huddle/viewmodel"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrClosed         = errors.New("session closed")
	ErrNoUser         = errors.New("session has no user")
	ErrNoProject      = errors.New("no project selected")
)

// Options configures a Session.
type Options struct {
	Gateway     gateway.Gateway
	Scoping     models.Scoping
	Collections []models.Collection
	Health      health.Config

	// Cache enables warm starts. It is closed with the session when it
	// implements io.Closer.
	Cache viewmodel.Cache

	// Pinger feeds reachability into the monitor. Nil disables probing.
	Pinger        health.Pinger
	ProbeInterval time.Duration

	Logger *log.Logger
	Now    func() time.Time
}

// Session is everything that lives for one login.
type Session struct {
	gw      gateway.Gateway
	cache   viewmodel.Cache
	store   *viewmodel.Store
	mgr     *realtime.Manager
	monitor *health.Monitor
	prober  *health.Prober
	logger  *log.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// opMu serializes Start, SwitchProject, and Close.
	opMu    sync.Mutex
	mu      sync.RWMutex
	scoping models.Scoping
	started bool
	closed  bool
}

// Open wires the components for one login. Nothing talks to the gateway
// until Start.
func Open(opts Options) (*Session, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if opts.Scoping.UserID == "" {
		return nil, ErrNoUser
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		gw:      opts.Gateway,
		cache:   opts.Cache,
		logger:  opts.Logger.WithPrefix("session"),
		now:     opts.Now,
		ctx:     ctx,
		cancel:  cancel,
		scoping: opts.Scoping,
	}

	s.store = viewmodel.New(opts.Gateway, viewmodel.Options{
		Collections: opts.Collections,
		Scoping:     opts.Scoping,
		Logger:      opts.Logger,
		Cache:       opts.Cache,
	})
	s.mgr = realtime.NewManager(opts.Gateway, s.store, realtime.Options{
		Context:     ctx,
		Collections: opts.Collections,
		Scoping:     opts.Scoping,
		Logger:      opts.Logger,
	})
	s.monitor = health.NewMonitor(s.mgr, opts.Health, opts.Logger)
	if opts.Pinger != nil {
		s.prober = health.NewProber(opts.Pinger, s.monitor, opts.ProbeInterval, opts.Logger)
	}
	return s, nil
}

func (s *Session) Store() *viewmodel.Store { return s.store }

func (s *Session) Manager() *realtime.Manager { return s.mgr }

func (s *Session) Monitor() *health.Monitor { return s.monitor }

func (s *Session) Gateway() gateway.Gateway { return s.gw }

// Scoping returns the current user and project.
func (s *Session) Scoping() models.Scoping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scoping
}

// Start hydrates from the cache, loads every collection, opens the change
// feeds, and starts the monitor. Failed initial loads are logged and left
// to the change feeds and monitor to repair.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if n := s.store.Hydrate(); n > 0 {
		s.logger.Debug("hydrated from cache", "collections", n)
	}

	s.reloadAll(ctx)

	if err := s.monitor.Initialize(ctx); err != nil {
		s.logger.Warn("some change feeds did not open", "err", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.monitor.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("monitor stopped", "err", err)
		}
	}()
	if s.prober != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.prober.Run(s.ctx)
		}()
	}

	s.logger.Info("session started", "user", s.Scoping().UserID, "project", s.Scoping().ProjectID)
	return nil
}

// reloadAll loads every collection in parallel.
func (s *Session) reloadAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range s.store.Collections() {
		g.Go(func() error {
			if err := s.store.Reload(gctx, name); err != nil {
				s.logger.Warn("initial load failed", "collection", name, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// SwitchProject rescopes every project collection and reopens the feeds.
func (s *Session) SwitchProject(ctx context.Context, projectID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.scoping.ProjectID == projectID {
		s.mu.Unlock()
		return nil
	}
	s.scoping.ProjectID = projectID
	scoping := s.scoping
	started := s.started
	s.mu.Unlock()

	s.store.SetScoping(scoping)
	s.mgr.SetScoping(scoping)
	if !started {
		return nil
	}

	s.store.Hydrate()
	s.reloadAll(ctx)
	if err := s.monitor.Reinitialize(ctx); err != nil {
		s.logger.Warn("some change feeds did not reopen", "project", projectID, "err", err)
	}
	s.logger.Info("switched project", "project", projectID)
	return nil
}

// Close stops the monitor, closes every channel, and releases the gateway
// and cache when they are closable. Calling Close again is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	var err error
	if resetErr := s.monitor.Reset(ctx); resetErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to stop change feeds: %w", resetErr))
	}
	s.store.Wait()

	if c, ok := s.gw.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if c, ok := s.cache.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	s.logger.Debug("session closed")
	return err
}

// Status summarizes connectivity and sync state.
type Status struct {
	Health        health.State
	Subscriptions []realtime.Subscription
	Collections   map[string]viewmodel.Status
	Pending       map[string]int
	Stats         realtime.Stats
}

// Status returns a point-in-time summary.
func (s *Session) Status() Status {
	st := Status{
		Health:        s.monitor.State(),
		Subscriptions: s.mgr.Subscriptions(),
		Collections:   make(map[string]viewmodel.Status),
		Pending:       make(map[string]int),
		Stats:         s.mgr.Stats(),
	}
	for _, name := range s.store.Collections() {
		st.Collections[name] = s.store.Status(name)
		st.Pending[name] = s.store.PendingCount(name)
	}
	return st
}

func (s *Session) alive() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
