// Package rawdb provides low-level database interfaces and accessor
// functions for storing and retrieving chain data.
//
// Architecture follows go-ethereum's prefix-based schema where each
// data type uses a distinct single-byte key prefix to avoid collisions.
// The only backing store is pebble, either on disk or on an in-memory
// filesystem for tests and ephemeral nodes.
package rawdb

import "errors"

var (
	ErrNotFound = errors.New("rawdb: not found")
	ErrClosed   = errors.New("rawdb: database closed")
)

// KeyValueReader wraps the Has and Get methods of a backing data store.
type KeyValueReader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put and Delete methods of a backing data store.
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// KeyValueStore combines read and write access to a backing data store.
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	Close() error
}

// Batch is a write-only database that commits changes atomically.
// Write is durable: it returns only after the batch reached stable storage.
type Batch interface {
	KeyValueWriter
	ValueSize() int
	Write() error
	Reset()
}

// Batcher wraps the NewBatch method of a backing data store.
type Batcher interface {
	NewBatch() Batch
}

// Database is the full database interface combining all capabilities.
type Database interface {
	KeyValueStore
	Batcher
}
