// ABOUTME: Local snapshot cache for offline warm starts
// ABOUTME: Stores CBOR-encoded collection snapshots in an embedded BadgerDB

package cache

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"

	"github.com/harperreed/huddle/models"
)

const keyPrefix = "snapshot/"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("cache closed")

// Options configures a Cache.
type Options struct {
	// Dir holds the badger files. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// MaxAge drops entries older than this on Load. Zero keeps everything.
	MaxAge time.Duration
	Logger *log.Logger
}

// Cache persists collection snapshots between runs.
type Cache struct {
	db     *badger.DB
	enc    cbor.EncMode
	dec    cbor.DecMode
	maxAge time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// entry is the stored form of one snapshot.
type entry struct {
	SavedAt int64           `cbor:"1,keyasint"`
	Records []models.Record `cbor:"2,keyasint"`
}

// badgerLogger routes badger's internal logging through charm log.
type badgerLogger struct {
	*log.Logger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// Open opens or creates the cache.
func Open(opts Options) (*Cache, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("cache directory is required")
		}
		if err := os.MkdirAll(opts.Dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}

	if opts.Logger != nil {
		// Badger is chatty at info level.
		bopts = bopts.WithLogger(badgerLogger{opts.Logger.WithPrefix("badger")}).WithLoggingLevel(badger.WARNING)
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build decoder: %w", err)
	}

	return &Cache{db: db, enc: enc, dec: dec, maxAge: opts.MaxAge, now: time.Now}, nil
}

func (c *Cache) guard() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Load returns the snapshot stored under key. ok is false when nothing
// usable is stored.
func (c *Cache) Load(key string) ([]models.Record, time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.guard(); err != nil {
		return nil, time.Time{}, false, err
	}

	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var e entry
	if err := c.dec.Unmarshal(raw, &e); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}

	savedAt := time.Unix(0, e.SavedAt).UTC()
	if c.maxAge > 0 && c.now().Sub(savedAt) > c.maxAge {
		return nil, time.Time{}, false, nil
	}
	if e.Records == nil {
		e.Records = []models.Record{}
	}
	return e.Records, savedAt, true, nil
}

// Save stores recs under key, replacing any previous snapshot.
func (c *Cache) Save(key string, recs []models.Record, savedAt time.Time) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.guard(); err != nil {
		return err
	}

	raw, err := c.enc.Marshal(entry{SavedAt: savedAt.UnixNano(), Records: recs})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), raw)
	})
}

// Delete removes one snapshot.
func (c *Cache) Delete(key string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.guard(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

// Keys lists stored snapshot keys.
func (c *Cache) Keys() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.guard(); err != nil {
		return nil, err
	}

	var keys []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return keys, err
}

// Clear drops every snapshot, as on logout.
func (c *Cache) Clear() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.guard(); err != nil {
		return err
	}
	return c.db.DropPrefix([]byte(keyPrefix))
}

// Close releases the database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
