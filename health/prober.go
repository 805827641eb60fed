// ABOUTME: Backend reachability prober feeding online/offline signals to the monitor
// ABOUTME: Periodically pings the health endpoint and reports transitions
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Pinger checks whether the backend is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// Notifier receives reachability transitions. Monitor satisfies it.
type Notifier interface {
	NotifyOnline()
	NotifyOffline()
}

// Prober pings the backend every interval and reports transitions.
type Prober struct {
	pinger   Pinger
	notifier Notifier
	interval time.Duration
	logger   *log.Logger

	reachable  atomic.Bool
	known      atomic.Bool
	checkCount atomic.Int64
	failCount  atomic.Int64
}

// NewProber creates a Prober.
func NewProber(pinger Pinger, notifier Notifier, interval time.Duration, logger *log.Logger) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Prober{
		pinger:   pinger,
		notifier: notifier,
		interval: interval,
		logger:   logger.WithPrefix("probe"),
	}
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Prober) check(ctx context.Context) {
	p.checkCount.Add(1)

	cctx, cancel := context.WithTimeout(ctx, p.interval)
	err := p.pinger.Health(cctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	ok := err == nil
	if !ok {
		p.failCount.Add(1)
		p.logger.Debug("backend unreachable", "err", err)
	}

	was := p.reachable.Swap(ok)
	first := !p.known.Swap(true)
	switch {
	case first && !ok:
		p.notifier.NotifyOffline()
	case first:
		// Startup assumes online; nothing to report.
	case was && !ok:
		p.logger.Info("backend went offline")
		p.notifier.NotifyOffline()
	case !was && ok:
		p.logger.Info("backend back online")
		p.notifier.NotifyOnline()
	}
}

// Reachable returns the last probe result.
func (p *Prober) Reachable() bool { return p.reachable.Load() }

// Counts returns how many probes ran and how many failed.
func (p *Prober) Counts() (checks, failures int64) {
	return p.checkCount.Load(), p.failCount.Load()
}
