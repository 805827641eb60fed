// ABOUTME: In-memory gateway for tests of the store, subscription manager, and session
// ABOUTME: Offers controllable channel outcomes, held selects, and injected failures
package gatewaytest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

// Fake is a gateway.Gateway backed by in-memory tables.
type Fake struct {
	mu           sync.Mutex
	tables       map[string][]models.Record
	selectErr    map[string]error
	writeErr     map[string]error
	subscribeErr map[string]error
	outcome      map[string]gateway.ChannelState
	holds        map[string][]chan struct{}
	channels     []*Channel
	selects      map[string]int
	subscribes   map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables:       make(map[string][]models.Record),
		selectErr:    make(map[string]error),
		writeErr:     make(map[string]error),
		subscribeErr: make(map[string]error),
		outcome:      make(map[string]gateway.ChannelState),
		holds:        make(map[string][]chan struct{}),
		selects:      make(map[string]int),
		subscribes:   make(map[string]int),
	}
}

// Seed appends rows to a table without emitting change events.
func (f *Fake) Seed(table string, recs ...models.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		f.tables[table] = append(f.tables[table], r.Clone())
	}
}

// Rows returns a copy of a table's rows.
func (f *Fake) Rows(table string) []models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Record, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		out = append(out, r.Clone())
	}
	return out
}

// SetSelectError makes every Select on table fail with err until cleared with nil.
func (f *Fake) SetSelectError(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectErr[table] = err
}

// SetWriteError makes Insert, Update, and Delete on table fail with err.
func (f *Fake) SetWriteError(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr[table] = err
}

// SetSubscribeError makes Subscribe on table fail outright.
func (f *Fake) SetSubscribeError(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr[table] = err
}

// SetSubscribeOutcome sets the state new channels on table settle into.
// The default is StateSubscribed.
func (f *Fake) SetSubscribeOutcome(table string, state gateway.ChannelState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcome[table] = state
}

// HoldNextSelect makes the next Select on table read its rows and then
// block until release is called.
func (f *Fake) HoldNextSelect(table string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[table] = append(f.holds[table], ch)
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// SelectCount returns how many Selects ran against table.
func (f *Fake) SelectCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selects[table]
}

// SubscribeCount returns how many channels were opened on table.
func (f *Fake) SubscribeCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[table]
}

// LiveChannels returns the channels on table that are not closed or failed.
func (f *Fake) LiveChannels(table string) []*Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Channel
	for _, c := range f.channels {
		if c.table == table && c.state.Live() {
			out = append(out, c)
		}
	}
	return out
}

// Select implements gateway.Gateway.
func (f *Fake) Select(ctx context.Context, table string, q gateway.Query) ([]models.Record, error) {
	f.mu.Lock()
	f.selects[table]++
	if err := f.selectErr[table]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	var out []models.Record
	for _, r := range f.tables[table] {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	var hold chan struct{}
	if hs := f.holds[table]; len(hs) > 0 {
		hold = hs[0]
		f.holds[table] = hs[1:]
	}
	f.mu.Unlock()

	sortRecords(out, q)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func sortRecords(recs []models.Record, q gateway.Query) {
	if q.OrderBy == "" {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].String(q.OrderBy), recs[j].String(q.OrderBy)
		if q.Descending {
			return a > b
		}
		return a < b
	})
}

// Insert implements gateway.Gateway.
func (f *Fake) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	f.mu.Lock()
	if err := f.writeErr[table]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	for _, r := range f.tables[table] {
		if r.ID() == rec.ID() {
			f.mu.Unlock()
			return nil, fmt.Errorf("duplicate id %s: %w", rec.ID(), gateway.ErrConflict)
		}
	}
	stored := rec.Clone()
	f.tables[table] = append(f.tables[table], stored)
	f.mu.Unlock()

	f.Emit(gateway.ChangeEvent{Table: table, Operation: gateway.OpInsert, RecordID: stored.ID(), Record: stored.Clone()})
	return stored.Clone(), nil
}

// Update implements gateway.Gateway.
func (f *Fake) Update(ctx context.Context, table, id string, patch models.Record) (models.Record, error) {
	updated, err := f.update(table, id, patch)
	if err != nil {
		return nil, err
	}
	f.Emit(gateway.ChangeEvent{Table: table, Operation: gateway.OpUpdate, RecordID: id, Record: updated.Clone()})
	return updated, nil
}

// UpdateSilently changes a row without emitting an event, as if the change
// happened while no channel was connected.
func (f *Fake) UpdateSilently(table, id string, patch models.Record) error {
	_, err := f.update(table, id, patch)
	return err
}

func (f *Fake) update(table, id string, patch models.Record) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr[table]; err != nil {
		return nil, err
	}
	for i, r := range f.tables[table] {
		if r.ID() == id {
			f.tables[table][i] = r.Merge(patch)
			return f.tables[table][i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", table, id, gateway.ErrNotFound)
}

// Delete implements gateway.Gateway.
func (f *Fake) Delete(ctx context.Context, table, id string) error {
	f.mu.Lock()
	if err := f.writeErr[table]; err != nil {
		f.mu.Unlock()
		return err
	}
	rows := f.tables[table]
	found := false
	for i, r := range rows {
		if r.ID() == id {
			f.tables[table] = append(rows[:i:i], rows[i+1:]...)
			found = true
			break
		}
	}
	f.mu.Unlock()

	if !found {
		return fmt.Errorf("%s/%s: %w", table, id, gateway.ErrNotFound)
	}
	f.Emit(gateway.ChangeEvent{Table: table, Operation: gateway.OpDelete, RecordID: id})
	return nil
}

// Subscribe implements gateway.Gateway. The channel starts Connecting and
// settles asynchronously into the table's configured outcome.
func (f *Fake) Subscribe(ctx context.Context, table string, q gateway.Query, h gateway.Handlers) (gateway.Channel, error) {
	f.mu.Lock()
	if err := f.subscribeErr[table]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	outcome, ok := f.outcome[table]
	if !ok {
		outcome = gateway.StateSubscribed
	}
	c := &Channel{fake: f, table: table, query: q, handlers: h, state: gateway.StateConnecting}
	f.channels = append(f.channels, c)
	f.subscribes[table]++
	f.mu.Unlock()

	go func() {
		var err error
		if outcome == gateway.StateError {
			err = gateway.ErrUnavailable
		}
		c.transition(gateway.StateConnecting, outcome, err)
	}()
	return c, nil
}

// Emit delivers ev to every subscribed channel whose filter matches.
func (f *Fake) Emit(ev gateway.ChangeEvent) {
	f.mu.Lock()
	var targets []*Channel
	for _, c := range f.channels {
		if c.table != ev.Table || c.state != gateway.StateSubscribed {
			continue
		}
		if ev.Record != nil && !c.query.Matches(ev.Record) {
			continue
		}
		targets = append(targets, c)
	}
	f.mu.Unlock()

	for _, c := range targets {
		if c.handlers.OnChange != nil {
			c.handlers.OnChange(ev)
		}
	}
}

// DropAll moves every live channel to StateError, as a lost network would.
func (f *Fake) DropAll(err error) {
	f.mu.Lock()
	var live []*Channel
	for _, c := range f.channels {
		if c.state.Live() {
			live = append(live, c)
		}
	}
	f.mu.Unlock()

	for _, c := range live {
		c.fail(err)
	}
}

// Channel is a Fake change-feed channel.
type Channel struct {
	fake     *Fake
	table    string
	query    gateway.Query
	handlers gateway.Handlers
	state    gateway.ChannelState
}

func (c *Channel) Topic() string { return gateway.Topic(c.table) }

func (c *Channel) State() gateway.ChannelState {
	c.fake.mu.Lock()
	defer c.fake.mu.Unlock()
	return c.state
}

// Unsubscribe implements gateway.Channel.
func (c *Channel) Unsubscribe(ctx context.Context) error {
	c.fake.mu.Lock()
	if c.state == gateway.StateClosed {
		c.fake.mu.Unlock()
		return nil
	}
	c.state = gateway.StateClosed
	c.fake.mu.Unlock()

	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(gateway.StateClosed, nil)
	}
	return nil
}

func (c *Channel) transition(from, to gateway.ChannelState, err error) {
	c.fake.mu.Lock()
	if c.state != from {
		c.fake.mu.Unlock()
		return
	}
	c.state = to
	c.fake.mu.Unlock()

	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(to, err)
	}
}

func (c *Channel) fail(err error) {
	c.fake.mu.Lock()
	if !c.state.Live() {
		c.fake.mu.Unlock()
		return
	}
	c.state = gateway.StateError
	c.fake.mu.Unlock()

	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(gateway.StateError, err)
	}
}
