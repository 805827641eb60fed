// ABOUTME: Connection health monitor deciding when channels are reconnected
// ABOUTME: Serializes online, visibility, and timer triggers through one queue
package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/realtime"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("monitor already running")

// Manager is the subscription lifecycle the monitor drives.
// realtime.Manager satisfies it.
type Manager interface {
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Subscriptions() []realtime.Subscription
}

// Config holds the monitor's timing.
type Config struct {
	// CheckInterval is how often the liveness check runs.
	CheckInterval time.Duration `yaml:"check_interval"`
	// OnlineSettle is the wait between a network-online signal and the reconnect.
	OnlineSettle time.Duration `yaml:"online_settle"`
	// VisibleDelay is the wait between foregrounding and the liveness check.
	VisibleDelay time.Duration `yaml:"visible_delay"`
	// Heartbeat is the transport keepalive interval for the gateway.
	Heartbeat time.Duration `yaml:"heartbeat"`
	// RecoverPartial makes the liveness check reopen individual failed
	// channels instead of only acting on an empty registry.
	RecoverPartial bool `yaml:"recover_partial"`
}

// DesktopProfile is the default timing.
func DesktopProfile() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		OnlineSettle:  2 * time.Second,
		VisibleDelay:  time.Second,
		Heartbeat:     25 * time.Second,
	}
}

// MobileProfile checks more often to cope with aggressive background
// network suspension.
func MobileProfile() Config {
	return Config{
		CheckInterval: 15 * time.Second,
		OnlineSettle:  3 * time.Second,
		VisibleDelay:  1500 * time.Millisecond,
		Heartbeat:     8 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DesktopProfile()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.OnlineSettle <= 0 {
		c.OnlineSettle = d.OnlineSettle
	}
	if c.VisibleDelay <= 0 {
		c.VisibleDelay = d.VisibleDelay
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = d.Heartbeat
	}
	return c
}

// State is the monitor's view of connectivity.
type State struct {
	Online            bool
	Visible           bool
	Initialized       bool
	LastCheckedAt     time.Time
	SubscriptionCount int
}

type signal int

const (
	signalOnline signal = iota
	signalOffline
	signalVisible
	signalHidden
	signalCheck
)

func (s signal) String() string {
	switch s {
	case signalOnline:
		return "online"
	case signalOffline:
		return "offline"
	case signalVisible:
		return "visible"
	case signalHidden:
		return "hidden"
	case signalCheck:
		return "check"
	default:
		return "unknown"
	}
}

// Monitor turns environment signals into Manager calls.
type Monitor struct {
	mgr    Manager
	cfg    Config
	logger *log.Logger
	queue  chan signal

	// initMu serializes Initialize and Reinitialize.
	initMu sync.Mutex

	mu    sync.Mutex
	state State

	running    atomic.Bool
	checks     atomic.Int64
	reconnects atomic.Int64
}

// NewMonitor creates a Monitor. Call Run to start processing triggers.
func NewMonitor(mgr Manager, cfg Config, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		mgr:    mgr,
		cfg:    cfg.withDefaults(),
		logger: logger.WithPrefix("health"),
		queue:  make(chan signal, 16),
		state:  State{Online: true, Visible: true},
	}
}

// Config returns the effective timing.
func (m *Monitor) Config() Config {
	return m.cfg
}

// State returns a copy of the current health state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NotifyOnline reports that the network came back.
func (m *Monitor) NotifyOnline() { m.enqueue(signalOnline) }

// NotifyOffline reports that the network went away.
func (m *Monitor) NotifyOffline() { m.enqueue(signalOffline) }

// NotifyVisible reports that the app was foregrounded.
func (m *Monitor) NotifyVisible() { m.enqueue(signalVisible) }

// NotifyHidden reports that the app was backgrounded.
func (m *Monitor) NotifyHidden() { m.enqueue(signalHidden) }

// RequestCheck asks for a liveness check on the next loop iteration.
func (m *Monitor) RequestCheck() { m.enqueue(signalCheck) }

func (m *Monitor) enqueue(s signal) {
	select {
	case m.queue <- s:
	default:
		m.logger.Debug("trigger queue full, dropping", "signal", s)
	}
}

// Run processes triggers until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	var settle, visible *time.Timer
	var settleC, visibleC <-chan time.Time
	stop := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}
	defer func() {
		stop(settle)
		stop(visible)
	}()

	m.logger.Debug("monitor started", "check_interval", m.cfg.CheckInterval, "online_settle", m.cfg.OnlineSettle)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("monitor stopped")
			return ctx.Err()

		case s := <-m.queue:
			switch s {
			case signalOnline:
				m.setOnline(true)
				// Repeated online signals restart the settle window.
				stop(settle)
				settle = time.NewTimer(m.cfg.OnlineSettle)
				settleC = settle.C
				m.logger.Info("network online, reconnecting after settle delay", "delay", m.cfg.OnlineSettle)
			case signalOffline:
				m.setOnline(false)
				stop(settle)
				settleC = nil
				m.logger.Info("network offline")
			case signalVisible:
				m.setVisible(true)
				if visibleC == nil {
					visible = time.NewTimer(m.cfg.VisibleDelay)
					visibleC = visible.C
				}
			case signalHidden:
				m.setVisible(false)
				stop(visible)
				visibleC = nil
			case signalCheck:
				m.CheckLiveness(ctx)
			}

		case <-settleC:
			settleC = nil
			m.reconnect(ctx, "network online")

		case <-visibleC:
			visibleC = nil
			m.CheckLiveness(ctx)

		case <-ticker.C:
			m.CheckLiveness(ctx)
		}
	}
}

func (m *Monitor) setOnline(v bool) {
	m.mu.Lock()
	m.state.Online = v
	m.mu.Unlock()
}

func (m *Monitor) setVisible(v bool) {
	m.mu.Lock()
	m.state.Visible = v
	m.mu.Unlock()
}

func (m *Monitor) initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Initialized
}

// Initialize starts every subscription once. Later calls are no-ops until
// Reinitialize clears the flag.
func (m *Monitor) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initialize(ctx)
}

func (m *Monitor) initialize(ctx context.Context) error {
	if m.initialized() {
		m.logger.Debug("already initialized")
		return nil
	}

	err := m.mgr.StartAll(ctx)
	if err != nil {
		m.logger.Warn("initial subscribe incomplete", "err", err)
	}

	m.mu.Lock()
	m.state.Initialized = true
	m.state.SubscriptionCount = len(m.mgr.Subscriptions())
	m.mu.Unlock()
	return err
}

// Reinitialize clears the registry and initializes again, for project switches.
func (m *Monitor) Reinitialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if err := m.mgr.StopAll(ctx); err != nil {
		m.logger.Warn("errors stopping channels before reinitialize", "err", err)
	}
	m.mu.Lock()
	m.state.Initialized = false
	m.mu.Unlock()

	return m.initialize(ctx)
}

// Reset stops every subscription and clears the initialized flag, for logout.
func (m *Monitor) Reset(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	err := m.mgr.StopAll(ctx)
	m.mu.Lock()
	m.state.Initialized = false
	m.state.SubscriptionCount = 0
	m.mu.Unlock()
	return err
}

// CheckLiveness reconnects when no subscription is tracked or none of the
// tracked ones is live. Otherwise it logs each subscription's state, and
// with RecoverPartial reopens the ones that are not live.
func (m *Monitor) CheckLiveness(ctx context.Context) {
	if !m.initialized() {
		m.logger.Debug("skipping liveness check before initialization")
		return
	}

	m.checks.Add(1)
	subs := m.mgr.Subscriptions()

	m.mu.Lock()
	m.state.LastCheckedAt = time.Now()
	m.state.SubscriptionCount = len(subs)
	m.mu.Unlock()

	if len(subs) == 0 {
		m.reconnect(ctx, "no subscriptions")
		return
	}

	dead := 0
	for _, s := range subs {
		if !s.State.Live() {
			dead++
		}
		m.logger.Debug("subscription", "collection", s.Collection, "state", s.State, "since", s.CreatedAt.Format(time.TimeOnly))
		if s.State == gateway.StateError || s.State == gateway.StateTimedOut {
			m.logger.Warn("subscription unhealthy", "collection", s.Collection, "state", s.State, "err", s.Err)
		}
	}

	// Every feed failing at once means the shared transport went away.
	if dead == len(subs) {
		m.reconnect(ctx, "no live subscriptions")
		return
	}

	if dead > 0 && m.cfg.RecoverPartial {
		m.logger.Info("reopening unhealthy subscriptions", "count", dead)
		if err := m.mgr.StartAll(ctx); err != nil {
			m.logger.Warn("partial recovery incomplete", "err", err)
		}
		m.refreshCount()
	}
}

func (m *Monitor) reconnect(ctx context.Context, reason string) {
	if !m.initialized() {
		m.logger.Debug("skipping reconnect before initialization", "reason", reason)
		return
	}

	m.reconnects.Add(1)
	m.logger.Info("reconnecting subscriptions", "reason", reason)
	if err := m.mgr.Reconnect(ctx); err != nil {
		m.logger.Warn("reconnect incomplete", "err", err)
	}
	m.refreshCount()
}

func (m *Monitor) refreshCount() {
	n := len(m.mgr.Subscriptions())
	m.mu.Lock()
	m.state.SubscriptionCount = n
	m.mu.Unlock()
}

// Counters returns how many liveness checks and reconnects have run.
func (m *Monitor) Counters() (checks, reconnects int64) {
	return m.checks.Load(), m.reconnects.Load()
}
