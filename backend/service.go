// ABOUTME: SQLite-backed implementation of the data gateway with in-process change feeds
// ABOUTME: Every successful write fans a change event out to the subscriptions whose filters match
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/harperreed/huddle/db"
	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

// Stats are point-in-time counters.
type Stats struct {
	Subscriptions int   `json:"subscriptions"`
	Writes        int64 `json:"writes"`
	Events        int64 `json:"events"`
	Broadcasts    int64 `json:"broadcasts"`
}

// Service serves CRUD and change feeds from a local database.
type Service struct {
	repo   *db.RowsRepository
	logger *log.Logger

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	writes     atomic.Int64
	events     atomic.Int64
	broadcasts atomic.Int64
}

var _ gateway.Gateway = (*Service)(nil)

// NewService wraps a rows repository.
func NewService(repo *db.RowsRepository, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger.WithPrefix("backend"),
		subs:   make(map[uint64]*subscription),
	}
}

// Repository returns the underlying rows repository.
func (s *Service) Repository() *db.RowsRepository {
	return s.repo
}

// mapError translates repository errors into gateway sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", gateway.ErrNotFound, err)
	case errors.Is(err, db.ErrConstraint):
		return fmt.Errorf("%w: %v", gateway.ErrConflict, err)
	case errors.Is(err, db.ErrUnknownTable):
		return fmt.Errorf("%w: %v", gateway.ErrUnknownTable, err)
	default:
		return err
	}
}

func toListOptions(q gateway.Query) db.ListOptions {
	opts := db.ListOptions{OrderBy: q.OrderBy, Descending: q.Descending, Limit: q.Limit}
	for _, f := range q.Filters {
		opts.Filters = append(opts.Filters, db.Filter{Column: f.Column, Value: f.Value})
	}
	return opts
}

// Select lists rows of table matching q.
func (s *Service) Select(ctx context.Context, table string, q gateway.Query) ([]models.Record, error) {
	recs, err := s.repo.List(ctx, table, toListOptions(q))
	if err != nil {
		return nil, mapError(err)
	}
	return recs, nil
}

// Insert creates a row, notifies subscribers, and generates user
// notifications for it.
func (s *Service) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	created, err := s.repo.Create(ctx, table, rec)
	if err != nil {
		return nil, mapError(err)
	}
	s.writes.Add(1)
	s.publish(gateway.ChangeEvent{Table: table, Operation: gateway.OpInsert, RecordID: created.ID(), Record: created}, created)
	s.notify(ctx, s.onInsert(ctx, table, created))
	return created, nil
}

// Update patches a row and notifies subscribers.
func (s *Service) Update(ctx context.Context, table, id string, patch models.Record) (models.Record, error) {
	updated, err := s.repo.Update(ctx, table, id, patch)
	if err != nil {
		return nil, mapError(err)
	}
	s.writes.Add(1)
	s.publish(gateway.ChangeEvent{Table: table, Operation: gateway.OpUpdate, RecordID: id, Record: updated}, updated)
	s.notify(ctx, s.onUpdate(ctx, table, patch, updated))
	return updated, nil
}

// Delete removes a row and notifies subscribers whose filters matched it.
func (s *Service) Delete(ctx context.Context, table, id string) error {
	old, err := s.repo.Delete(ctx, table, id)
	if err != nil {
		return mapError(err)
	}
	s.writes.Add(1)
	s.publish(gateway.ChangeEvent{Table: table, Operation: gateway.OpDelete, RecordID: id}, old)
	return nil
}

// Subscribe opens an in-process change feed. The channel reports
// Subscribed asynchronously, like a remote join would.
func (s *Service) Subscribe(ctx context.Context, table string, q gateway.Query, h gateway.Handlers) (gateway.Channel, error) {
	if _, err := s.repo.Columns(ctx, table); err != nil {
		return nil, mapError(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: service closed", gateway.ErrUnavailable)
	}
	s.nextID++
	sub := &subscription{id: s.nextID, svc: s, table: table, query: q, handlers: h}
	sub.state.Store(int32(gateway.StateConnecting))
	s.subs[sub.id] = sub
	s.mu.Unlock()

	s.logger.Debug("channel opened", "table", table, "filters", len(q.Filters))
	go sub.transition(gateway.StateConnecting, gateway.StateSubscribed, nil)
	return sub, nil
}

// publish delivers ev to subscribers of ev.Table whose query matches row.
// Handlers run outside the lock on the writer's goroutine.
func (s *Service) publish(ev gateway.ChangeEvent, row models.Record) {
	s.mu.RLock()
	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.table == ev.Table && sub.query.Matches(row) {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
}

// Broadcast sends a record-less update for table to every subscriber of it,
// or to every subscriber when table is empty.
func (s *Service) Broadcast(table string) {
	s.mu.RLock()
	targets := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if table == "" || sub.table == table {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	s.broadcasts.Add(1)
	for _, sub := range targets {
		sub.deliver(gateway.ChangeEvent{Table: sub.table, Operation: gateway.OpUpdate})
	}
}

func (s *Service) remove(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// Close ends every open subscription with a Closed status.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[uint64]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close(nil)
	}
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	n := len(s.subs)
	s.mu.RUnlock()
	return Stats{
		Subscriptions: n,
		Writes:        s.writes.Load(),
		Events:        s.events.Load(),
		Broadcasts:    s.broadcasts.Load(),
	}
}

type subscription struct {
	id       uint64
	svc      *Service
	table    string
	query    gateway.Query
	handlers gateway.Handlers
	state    atomic.Int32
}

func (c *subscription) Topic() string { return gateway.Topic(c.table) }

func (c *subscription) State() gateway.ChannelState {
	return gateway.ChannelState(c.state.Load())
}

func (c *subscription) transition(from, to gateway.ChannelState, err error) {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return
	}
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(to, err)
	}
}

func (c *subscription) deliver(ev gateway.ChangeEvent) {
	if c.State() != gateway.StateSubscribed || c.handlers.OnChange == nil {
		return
	}
	c.svc.events.Add(1)
	c.handlers.OnChange(ev)
}

func (c *subscription) close(err error) {
	for {
		cur := c.State()
		if cur == gateway.StateClosed {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(gateway.StateClosed)) {
			break
		}
	}
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(gateway.StateClosed, err)
	}
}

// Unsubscribe removes the feed. Closing twice is a no-op.
func (c *subscription) Unsubscribe(ctx context.Context) error {
	c.svc.remove(c.id)
	c.close(nil)
	return nil
}
