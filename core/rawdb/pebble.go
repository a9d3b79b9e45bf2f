package rawdb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/loadnetwork/load-el/log"
)

// PebbleDB is a Database backed by a pebble LSM store.
type PebbleDB struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// PebbleConfig carries the tunables exposed to the node configuration.
type PebbleConfig struct {
	CacheMB      int
	MaxOpenFiles int

	// Logger receives pebble's own event log. Nil keeps pebble's default.
	Logger *log.Logger
}

// DefaultPebbleConfig returns conservative defaults for a single node.
func DefaultPebbleConfig() PebbleConfig {
	return PebbleConfig{CacheMB: 64, MaxOpenFiles: 256}
}

// NewPebbleDB opens (or creates) a pebble database in dir.
func NewPebbleDB(dir string, cfg PebbleConfig) (*PebbleDB, error) {
	opts := &pebble.Options{
		MaxOpenFiles: cfg.MaxOpenFiles,
	}
	if cfg.Logger != nil {
		opts.Logger = cfg.Logger
	}
	if cfg.CacheMB > 0 {
		cache := pebble.NewCache(int64(cfg.CacheMB) * 1024 * 1024)
		defer cache.Unref()
		opts.Cache = cache
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("rawdb: open pebble at %s: %w", dir, err)
	}
	return &PebbleDB{db: db}, nil
}

// NewMemoryDatabase returns a pebble database living on an in-memory
// filesystem. Contents vanish on Close.
func NewMemoryDatabase() *PebbleDB {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		// An in-memory open only fails on programmer error.
		panic(fmt.Sprintf("rawdb: open in-memory pebble: %v", err))
	}
	return &PebbleDB{db: db}
}

func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, err := p.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	ret := make([]byte, len(val))
	copy(ret, val)
	return ret, nil
}

// Put writes without forcing a WAL sync. A later synced batch flushes it.
func (p *PebbleDB) Put(key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.db.Set(key, value, pebble.NoSync)
}

func (p *PebbleDB) Delete(key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.db.Delete(key, pebble.NoSync)
}

// Close flushes and closes the store. Further calls return ErrClosed.
func (p *PebbleDB) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// NewBatch creates a new batch writer.
func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{db: p, b: p.db.NewBatch()}
}

type pebbleBatch struct {
	db   *PebbleDB
	b    *pebble.Batch
	size int
}

func (b *pebbleBatch) Put(key, value []byte) error {
	b.size += len(key) + len(value)
	return b.b.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	b.size += len(key)
	return b.b.Delete(key, nil)
}

func (b *pebbleBatch) ValueSize() int { return b.size }

// Write commits the batch with a WAL sync, so it also makes every earlier
// unsynced write durable.
func (b *pebbleBatch) Write() error {
	b.db.mu.RLock()
	defer b.db.mu.RUnlock()
	if b.db.closed {
		return ErrClosed
	}
	return b.b.Commit(pebble.Sync)
}

func (b *pebbleBatch) Reset() {
	b.b.Reset()
	b.size = 0
}
