// ABOUTME: View model store holding the latest snapshot per collection
// ABOUTME: Reloads from the gateway, overlays optimistic writes, and notifies observers
package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

var (
	// ErrUnknownCollection is returned for collections the store does not track.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrMissingID is returned when an optimistic record has no id.
	ErrMissingID = errors.New("record has no id")
)

// Status is the sync status of one collection.
type Status int

const (
	StatusEmpty Status = iota
	StatusLoading
	StatusLoaded
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Snapshot is the materialized state of a collection at one point in time.
// Its records are copies; changing them does not affect the store.
// Version increases every time the collection's contents or status change.
type Snapshot struct {
	Collection string
	Records    []models.Record
	Status     Status
	LoadedAt   time.Time
	Version    uint64
}

// Find returns the record with the given id.
func (s Snapshot) Find(id string) (models.Record, bool) {
	for _, r := range s.Records {
		if r.ID() == id {
			return r, true
		}
	}
	return nil, false
}

// Observer is called with every new snapshot of a collection.
type Observer func(Snapshot)

// Loader fetches rows. gateway.Gateway satisfies it.
type Loader interface {
	Select(ctx context.Context, table string, q gateway.Query) ([]models.Record, error)
}

// Cache persists snapshots between runs.
type Cache interface {
	Load(key string) (recs []models.Record, savedAt time.Time, ok bool, err error)
	Save(key string, recs []models.Record, savedAt time.Time) error
}

// Options configures a Store.
type Options struct {
	Collections []models.Collection
	Scoping     models.Scoping
	Logger      *log.Logger
	Cache       Cache
}

type opKind int

const (
	opUpsert opKind = iota
	opRemove
)

type pendingOp struct {
	kind         opKind
	record       models.Record
	confirmed    bool
	confirmedGen uint64
}

type collectionState struct {
	def           models.Collection
	authoritative []models.Record
	view          []models.Record
	pending       map[string]*pendingOp
	order         []string
	status        Status
	loadedAt      time.Time
	version       uint64

	// gen advances when a reload starts and when a write is confirmed, so
	// a reload can tell which confirmations it is guaranteed to reflect.
	gen        uint64
	appliedGen uint64
	loading    int

	inflight bool
	queued   bool
}

type observerEntry struct {
	collection string
	fn         Observer
}

// Store holds one snapshot per collection.
type Store struct {
	loader Loader
	cache  Cache
	logger *log.Logger

	mu        sync.Mutex
	scoping   models.Scoping
	epoch     uint64
	cols      map[string]*collectionState
	names     []string
	observers map[int]observerEntry
	nextObs   int

	wg sync.WaitGroup
}

// New creates a Store over loader.
func New(loader Loader, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Collections == nil {
		opts.Collections = models.DefaultCollections()
	}

	s := &Store{
		loader:    loader,
		cache:     opts.Cache,
		logger:    opts.Logger.WithPrefix("store"),
		scoping:   opts.Scoping,
		cols:      make(map[string]*collectionState),
		observers: make(map[int]observerEntry),
	}
	for _, c := range opts.Collections {
		s.cols[c.Name] = newCollectionState(c)
		s.names = append(s.names, c.Name)
	}
	return s
}

func newCollectionState(c models.Collection) *collectionState {
	return &collectionState{def: c, pending: make(map[string]*pendingOp)}
}

// Collections returns the names of every tracked collection.
func (s *Store) Collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Scoping returns the identities collections are filtered by.
func (s *Store) Scoping() models.Scoping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoping
}

// SetScoping switches the store to a new project or user. Every collection
// is reset to Empty and results of reloads started before the switch are
// discarded.
func (s *Store) SetScoping(scoping models.Scoping) {
	s.mu.Lock()
	s.scoping = scoping
	s.epoch++
	var snaps []Snapshot
	for _, name := range s.names {
		old := s.cols[name]
		st := newCollectionState(old.def)
		st.version = old.version + 1
		st.inflight = old.inflight
		s.cols[name] = st
		snaps = append(snaps, st.snapshot())
	}
	s.mu.Unlock()

	for _, snap := range snaps {
		s.notify(snap)
	}
}

// Get returns the current snapshot of a collection.
func (s *Store) Get(name string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cols[name]
	if !ok {
		return Snapshot{Collection: name}
	}
	return st.snapshot()
}

// Status returns the sync status of a collection.
func (s *Store) Status(name string) Status {
	return s.Get(name).Status
}

// Observe registers fn for snapshots of one collection.
func (s *Store) Observe(name string, fn Observer) (cancel func()) {
	return s.addObserver(name, fn)
}

// ObserveAll registers fn for snapshots of every collection.
func (s *Store) ObserveAll(fn Observer) (cancel func()) {
	return s.addObserver("", fn)
}

func (s *Store) addObserver(name string, fn Observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = observerEntry{collection: name, fn: fn}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// notify calls observers outside the store lock.
func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	var fns []Observer
	for _, o := range s.observers {
		if o.collection == "" || o.collection == snap.Collection {
			fns = append(fns, o.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Reload fetches the full collection and replaces its snapshot. On failure
// the previous snapshot is kept and the error is returned.
func (s *Store) Reload(ctx context.Context, name string) error {
	s.mu.Lock()
	st, ok := s.cols[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrUnknownCollection)
	}
	epoch := s.epoch
	prevStatus := st.status
	st.gen++
	gen := st.gen
	st.loading++
	st.status = StatusLoading
	st.version++
	loadingSnap := st.snapshot()
	query := gateway.CollectionQuery(st.def, s.scoping)
	cacheKey := s.cacheKey(st.def)
	s.mu.Unlock()

	s.notify(loadingSnap)

	recs, err := s.loader.Select(ctx, st.def.Table, query)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("discarding reload from previous scope", "collection", name)
		if err != nil {
			return fmt.Errorf("failed to reload %s: %w", name, err)
		}
		return nil
	}
	st.loading--

	if err != nil {
		if st.status == StatusLoading && st.loading == 0 {
			st.status = restoredStatus(prevStatus, st)
		}
		st.version++
		snap := st.snapshot()
		s.mu.Unlock()

		if errors.Is(err, context.Canceled) {
			s.logger.Debug("reload cancelled", "collection", name)
		} else {
			s.logger.Warn("reload failed, keeping previous snapshot", "collection", name, "err", err)
		}
		s.notify(snap)
		return fmt.Errorf("failed to reload %s: %w", name, err)
	}

	if gen < st.appliedGen {
		// A reload that started later has already landed.
		if st.loading == 0 && st.status == StatusLoading {
			st.status = StatusLoaded
			st.version++
		}
		snap := st.snapshot()
		s.mu.Unlock()
		s.notify(snap)
		return nil
	}

	st.appliedGen = gen
	st.authoritative = dedupe(recs)
	for id, op := range st.pending {
		if op.confirmed && op.confirmedGen < gen {
			st.dropPending(id)
		}
	}
	st.loadedAt = time.Now()
	if st.loading == 0 {
		st.status = StatusLoaded
	}
	st.recompute()
	st.version++
	snap := st.snapshot()
	saved := append([]models.Record(nil), st.authoritative...)
	s.mu.Unlock()

	s.logger.Debug("reloaded", "collection", name, "records", len(snap.Records))
	s.notify(snap)
	s.saveCache(cacheKey, saved, snap.LoadedAt)
	return nil
}

func restoredStatus(prev Status, st *collectionState) Status {
	if prev != StatusLoading {
		return prev
	}
	if st.loadedAt.IsZero() && len(st.authoritative) == 0 {
		return StatusEmpty
	}
	return StatusStale
}

// MarkStale flags a loaded collection as out of date.
func (s *Store) MarkStale(name string) {
	s.mu.Lock()
	st, ok := s.cols[name]
	if !ok || st.status != StatusLoaded {
		s.mu.Unlock()
		return
	}
	st.status = StatusStale
	st.version++
	snap := st.snapshot()
	s.mu.Unlock()

	s.notify(snap)
}

// Invalidate marks the collection stale and schedules a reload. Reloads
// are coalesced: while one is in flight at most one more is queued, and
// the queued one starts after every invalidation that preceded it.
func (s *Store) Invalidate(ctx context.Context, name string) {
	s.MarkStale(name)

	s.mu.Lock()
	st, ok := s.cols[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if st.inflight {
		st.queued = true
		s.mu.Unlock()
		return
	}
	st.inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drain(ctx, name)
}

func (s *Store) drain(ctx context.Context, name string) {
	defer s.wg.Done()
	for {
		// Reload logs its own failures; background reloads never surface them.
		_ = s.Reload(ctx, name)

		s.mu.Lock()
		st := s.cols[name]
		if !st.queued || ctx.Err() != nil {
			st.inflight = false
			st.queued = false
			s.mu.Unlock()
			return
		}
		st.queued = false
		s.mu.Unlock()
	}
}

// Wait blocks until every scheduled background reload has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// ApplyOptimistic shows rec in the collection before the gateway confirms
// it. A record with the same id replaces the visible one.
func (s *Store) ApplyOptimistic(name string, rec models.Record) error {
	if rec.ID() == "" {
		return ErrMissingID
	}
	return s.pend(name, rec.ID(), &pendingOp{kind: opUpsert, record: rec.Clone()})
}

// RemoveOptimistic hides a record before the gateway confirms its deletion.
func (s *Store) RemoveOptimistic(name, id string) error {
	if id == "" {
		return ErrMissingID
	}
	return s.pend(name, id, &pendingOp{kind: opRemove})
}

func (s *Store) pend(name, id string, op *pendingOp) error {
	s.mu.Lock()
	st, ok := s.cols[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrUnknownCollection)
	}
	if _, exists := st.pending[id]; !exists {
		st.order = append(st.order, id)
	}
	st.pending[id] = op
	st.recompute()
	st.version++
	snap := st.snapshot()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// Confirm records that the gateway accepted the write for id. The overlay
// stays visible until a reload that started after this call lands.
func (s *Store) Confirm(name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cols[name]
	if !ok {
		return
	}
	op, ok := st.pending[id]
	if !ok {
		return
	}
	st.gen++
	op.confirmed = true
	op.confirmedGen = st.gen
}

// Confirmed replaces the pending record for id with the gateway's version
// of it and confirms the write.
func (s *Store) Confirmed(name string, rec models.Record) {
	s.mu.Lock()
	st, ok := s.cols[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	op, ok := st.pending[rec.ID()]
	if !ok {
		s.mu.Unlock()
		return
	}
	if op.kind == opUpsert && rec != nil {
		op.record = rec.Clone()
	}
	st.gen++
	op.confirmed = true
	op.confirmedGen = st.gen
	st.recompute()
	st.version++
	snap := st.snapshot()
	s.mu.Unlock()

	s.notify(snap)
}

// Rollback discards the pending write for id, restoring the authoritative view.
func (s *Store) Rollback(name, id string) {
	s.mu.Lock()
	st, ok := s.cols[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := st.pending[id]; !ok {
		s.mu.Unlock()
		return
	}
	st.dropPending(id)
	st.recompute()
	st.version++
	snap := st.snapshot()
	s.mu.Unlock()

	s.notify(snap)
}

// PendingCount returns how many optimistic writes are still overlaid.
func (s *Store) PendingCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.cols[name]; ok {
		return len(st.pending)
	}
	return 0
}

// Hydrate fills empty collections from the cache. Hydrated collections are
// Stale until their first reload.
func (s *Store) Hydrate() int {
	if s.cache == nil {
		return 0
	}

	s.mu.Lock()
	type target struct {
		name string
		key  string
	}
	var targets []target
	for _, name := range s.names {
		st := s.cols[name]
		if st.status == StatusEmpty {
			targets = append(targets, target{name: name, key: s.cacheKey(st.def)})
		}
	}
	epoch := s.epoch
	s.mu.Unlock()

	hydrated := 0
	for _, t := range targets {
		recs, savedAt, ok, err := s.cache.Load(t.key)
		if err != nil {
			s.logger.Warn("failed to read cached snapshot", "collection", t.name, "err", err)
			continue
		}
		if !ok {
			continue
		}

		s.mu.Lock()
		st := s.cols[t.name]
		if s.epoch != epoch || st.status != StatusEmpty {
			s.mu.Unlock()
			continue
		}
		st.authoritative = dedupe(recs)
		st.loadedAt = savedAt
		st.status = StatusStale
		st.recompute()
		st.version++
		snap := st.snapshot()
		s.mu.Unlock()

		hydrated++
		s.notify(snap)
	}
	return hydrated
}

func (s *Store) cacheKey(c models.Collection) string {
	return s.scoping.ValueFor(c) + "/" + c.Name
}

func (s *Store) saveCache(key string, recs []models.Record, at time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(key, recs, at); err != nil {
		s.logger.Warn("failed to cache snapshot", "key", key, "err", err)
	}
}

func (st *collectionState) dropPending(id string) {
	delete(st.pending, id)
	for i, pid := range st.order {
		if pid == id {
			st.order = append(st.order[:i:i], st.order[i+1:]...)
			break
		}
	}
}

// recompute overlays pending writes on the authoritative rows, one copy per id.
func (st *collectionState) recompute() {
	view := make([]models.Record, 0, len(st.authoritative)+len(st.pending))
	seen := make(map[string]bool, len(st.authoritative))

	for _, r := range st.authoritative {
		id := r.ID()
		seen[id] = true
		if op, ok := st.pending[id]; ok {
			if op.kind == opUpsert {
				view = append(view, op.record)
			}
			continue
		}
		view = append(view, r)
	}

	added := false
	for _, id := range st.order {
		op := st.pending[id]
		if seen[id] || op.kind != opUpsert {
			continue
		}
		view = append(view, op.record)
		added = true
	}

	if added || len(st.pending) > 0 {
		sortView(view, st.def)
	}
	st.view = view
}

func sortView(recs []models.Record, c models.Collection) {
	if c.OrderBy == "" {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].String(c.OrderBy), recs[j].String(c.OrderBy)
		if c.Descending {
			return a > b
		}
		return a < b
	})
}

// snapshot copies the records so callers cannot reach the store's maps.
func (st *collectionState) snapshot() Snapshot {
	recs := make([]models.Record, len(st.view))
	for i, r := range st.view {
		recs[i] = r.Clone()
	}
	return Snapshot{
		Collection: st.def.Name,
		Records:    recs,
		Status:     st.status,
		LoadedAt:   st.loadedAt,
		Version:    st.version,
	}
}

// dedupe keeps the first occurrence of each id.
func dedupe(recs []models.Record) []models.Record {
	out := make([]models.Record, 0, len(recs))
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		id := r.ID()
		if id != "" && seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r.Clone())
	}
	return out
}
