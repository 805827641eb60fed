// ABOUTME: Subscription manager keeping one change-feed channel per collection
// ABOUTME: Starts, stops, and reconnects channels and reloads collections on change events
package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

// Invalidator reloads a collection after a change. viewmodel.Store satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, collection string)
}

// Subscription describes a tracked channel.
type Subscription struct {
	Collection string
	Topic      string
	State      gateway.ChannelState
	CreatedAt  time.Time
	Err        error
}

// Stats are point-in-time counters.
type Stats struct {
	Opened           int64 `json:"opened"`
	OpenFailures     int64 `json:"open_failures"`
	ChannelErrors    int64 `json:"channel_errors"`
	Events           int64 `json:"events"`
	Reconnects       int64 `json:"reconnects"`
	IgnoredCallbacks int64 `json:"ignored_callbacks"`
}

// Options configures a Manager.
type Options struct {
	// Context bounds reloads triggered by change events. Default: Background.
	Context     context.Context
	Collections []models.Collection
	Scoping     models.Scoping
	Logger      *log.Logger
}

type entry struct {
	sub     Subscription
	channel gateway.Channel
}

// Manager owns the subscription registry. At most one live channel exists
// per collection; a dead one is unsubscribed before it is replaced.
type Manager struct {
	gw     gateway.Gateway
	store  Invalidator
	ctx    context.Context
	logger *log.Logger

	// opMu serializes StartAll, StopAll, and Reconnect.
	opMu sync.Mutex

	mu          sync.RWMutex
	registry    map[string]*entry
	collections []models.Collection
	scoping     models.Scoping

	opened        atomic.Int64
	openFailures  atomic.Int64
	channelErrors atomic.Int64
	events        atomic.Int64
	reconnects    atomic.Int64
	ignored       atomic.Int64
}

// NewManager creates a Manager.
func NewManager(gw gateway.Gateway, store Invalidator, opts Options) *Manager {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Collections == nil {
		opts.Collections = models.DefaultCollections()
	}
	return &Manager{
		gw:          gw,
		store:       store,
		ctx:         opts.Context,
		logger:      opts.Logger.WithPrefix("realtime"),
		registry:    make(map[string]*entry),
		collections: opts.Collections,
		scoping:     opts.Scoping,
	}
}

// SetScoping changes the filters used by channels opened from now on.
func (m *Manager) SetScoping(scoping models.Scoping) {
	m.mu.Lock()
	m.scoping = scoping
	m.mu.Unlock()
}

// StartAll opens a channel for every collection without a live one. It is
// safe to call repeatedly. Failures are logged and leave the collection
// unsubscribed; the returned error lists them.
func (m *Manager) StartAll(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.startAll(ctx)
}

// StopAll unsubscribes every tracked channel and clears the registry.
func (m *Manager) StopAll(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopAll(ctx)
}

// Reconnect tears every channel down and opens fresh ones.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.reconnects.Add(1)
	m.logger.Info("reconnecting all channels")
	return multierr.Append(m.stopAll(ctx), m.startAll(ctx))
}

func (m *Manager) startAll(ctx context.Context) error {
	var errs error
	for _, c := range m.collections {
		m.mu.RLock()
		e := m.registry[c.Name]
		live := e != nil && e.sub.State.Live()
		m.mu.RUnlock()

		if live {
			continue
		}
		if e != nil {
			m.retire(ctx, c.Name, e)
		}
		if err := m.subscribe(ctx, c); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (m *Manager) stopAll(ctx context.Context) error {
	m.mu.Lock()
	entries := m.registry
	m.registry = make(map[string]*entry)
	m.mu.Unlock()

	var errs error
	for name, e := range entries {
		if e.channel == nil {
			continue
		}
		if err := e.channel.Unsubscribe(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to unsubscribe %s: %w", name, err))
		}
	}
	if errs != nil {
		m.logger.Warn("errors while stopping channels", "err", errs)
	}
	m.logger.Debug("stopped all channels", "count", len(entries))
	return errs
}

// retire removes a dead entry and unsubscribes its channel.
func (m *Manager) retire(ctx context.Context, name string, e *entry) {
	m.mu.Lock()
	if m.registry[name] == e {
		delete(m.registry, name)
	}
	m.mu.Unlock()

	if e.channel == nil {
		return
	}
	if err := e.channel.Unsubscribe(ctx); err != nil {
		m.logger.Warn("failed to unsubscribe dead channel", "collection", name, "err", err)
	}
}

func (m *Manager) subscribe(ctx context.Context, c models.Collection) error {
	m.mu.Lock()
	query := gateway.CollectionQuery(c, m.scoping)
	e := &entry{sub: Subscription{
		Collection: c.Name,
		Topic:      gateway.Topic(c.Table),
		State:      gateway.StateConnecting,
		CreatedAt:  time.Now(),
	}}
	m.registry[c.Name] = e
	m.mu.Unlock()

	handlers := gateway.Handlers{
		OnChange: func(ev gateway.ChangeEvent) { m.handleChange(c.Name, e, ev) },
		OnStatus: func(state gateway.ChannelState, err error) { m.handleStatus(c.Name, e, state, err) },
	}

	ch, err := m.gw.Subscribe(ctx, c.Table, query, handlers)
	if err != nil {
		m.mu.Lock()
		if m.registry[c.Name] == e {
			delete(m.registry, c.Name)
		}
		m.mu.Unlock()

		m.openFailures.Add(1)
		m.logger.Warn("failed to open channel", "collection", c.Name, "err", err)
		return fmt.Errorf("failed to subscribe %s: %w", c.Name, err)
	}

	m.mu.Lock()
	e.channel = ch
	m.mu.Unlock()

	m.opened.Add(1)
	m.logger.Debug("channel opened", "collection", c.Name, "topic", ch.Topic())
	return nil
}

// current reports whether e is still the registered entry for name.
func (m *Manager) current(name string, e *entry) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry[name] == e
}

func (m *Manager) handleChange(name string, e *entry, ev gateway.ChangeEvent) {
	if !m.current(name, e) {
		m.ignored.Add(1)
		return
	}
	m.events.Add(1)
	m.logger.Debug("change received", "collection", name, "event", ev.String())
	m.store.Invalidate(m.ctx, name)
}

func (m *Manager) handleStatus(name string, e *entry, state gateway.ChannelState, err error) {
	m.mu.Lock()
	if m.registry[name] != e {
		m.mu.Unlock()
		m.ignored.Add(1)
		return
	}
	prev := e.sub.State
	e.sub.State = state
	e.sub.Err = err
	m.mu.Unlock()

	switch state {
	case gateway.StateSubscribed:
		m.logger.Info("channel subscribed", "collection", name)
		if prev != gateway.StateSubscribed {
			// Catch up on anything written while the channel was down.
			m.store.Invalidate(m.ctx, name)
		}
	case gateway.StateError, gateway.StateTimedOut:
		m.channelErrors.Add(1)
		m.logger.Warn("channel failed", "collection", name, "state", state, "err", err)
	case gateway.StateClosed:
		m.logger.Info("channel closed", "collection", name)
	}
}

// Count returns the number of tracked channels in any state.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registry)
}

// Subscriptions returns a copy of the registry ordered by collection.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.RLock()
	out := make([]Subscription, 0, len(m.registry))
	for _, e := range m.registry {
		out = append(out, e.sub)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out
}

// State returns the channel state of one collection.
func (m *Manager) State(collection string) (gateway.ChannelState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.registry[collection]
	if !ok {
		return gateway.StateClosed, false
	}
	return e.sub.State, true
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Opened:           m.opened.Load(),
		OpenFailures:     m.openFailures.Load(),
		ChannelErrors:    m.channelErrors.Load(),
		Events:           m.events.Load(),
		Reconnects:       m.reconnects.Load(),
		IgnoredCallbacks: m.ignored.Load(),
	}
}
