package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"

	"github.com/loadnetwork/load-el/core"
)

// Blob cache defaults.
const (
	DefaultBlobCacheItems = core.DefaultBlobCacheItems
	DefaultMaxBlobRequest = core.LoadMaxBlobCount

	// MinBlobCacheItems holds one full block, so a build never evicts the
	// sidecars it has just included.
	MinBlobCacheItems = core.LoadMaxBlobCount
)

// BlobSidecar is one blob with its KZG commitment and proof. Sidecars are
// immutable once admitted to the cache.
type BlobSidecar struct {
	VersionedHash common.Hash
	Blob          *kzg4844.Blob
	Commitment    kzg4844.Commitment
	Proof         kzg4844.Proof
}

// Size returns the number of bytes the sidecar accounts for in the cache.
func (s *BlobSidecar) Size() uint64 {
	return uint64(len(s.Blob) + len(s.Commitment) + len(s.Proof) + common.HashLength)
}

// BlobLookup is one result of GetMany. Sidecar is nil on a miss.
type BlobLookup struct {
	Hash    common.Hash
	Sidecar *BlobSidecar
}

type cacheEntry struct {
	sidecar *BlobSidecar
	index   uint64
	size    uint64
}

// BlobCacheConfig bounds the cache.
type BlobCacheConfig struct {
	MaxItems   int
	MaxRequest int
}

// DefaultBlobCacheConfig sizes the cache for two epochs of target blobs.
func DefaultBlobCacheConfig() BlobCacheConfig {
	return BlobCacheConfig{MaxItems: DefaultBlobCacheItems, MaxRequest: DefaultMaxBlobRequest}
}

// BlobCache is a bounded in-memory store of blob sidecars keyed by
// versioned hash. Entries are evicted oldest-admitted first.
type BlobCache struct {
	mu      sync.RWMutex
	cfg     BlobCacheConfig
	entries map[common.Hash]*cacheEntry

	// queue holds hashes in admission order starting at head. Every hash in
	// the live part of the queue has an entry, so eviction pops the front.
	queue     []common.Hash
	head      int
	nextIndex uint64
	bytes     uint64
}

// NewBlobCache creates a cache. Non-positive limits fall back to defaults
// and MaxItems is raised to at least MinBlobCacheItems.
func NewBlobCache(cfg BlobCacheConfig) *BlobCache {
	switch {
	case cfg.MaxItems <= 0:
		cfg.MaxItems = DefaultBlobCacheItems
	case cfg.MaxItems < MinBlobCacheItems:
		cfg.MaxItems = MinBlobCacheItems
	}
	if cfg.MaxRequest <= 0 {
		cfg.MaxRequest = DefaultMaxBlobRequest
	}
	return &BlobCache{
		cfg:     cfg,
		entries: make(map[common.Hash]*cacheEntry),
	}
}

// Put admits a sidecar. Re-admitting a known hash keeps the original
// admission slot. It returns the number of entries evicted.
func (c *BlobCache) Put(sidecar *BlobSidecar) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admit(sidecar)
	return c.evict()
}

// PutMany admits the sidecars of one transaction under a single lock, so
// readers see either none or all of them.
func (c *BlobCache) PutMany(sidecars []*BlobSidecar) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range sidecars {
		c.admit(s)
	}
	return c.evict()
}

func (c *BlobCache) admit(s *BlobSidecar) {
	if _, ok := c.entries[s.VersionedHash]; ok {
		return
	}
	e := &cacheEntry{sidecar: s, index: c.nextIndex, size: s.Size()}
	c.nextIndex++
	c.entries[s.VersionedHash] = e
	c.queue = append(c.queue, s.VersionedHash)
	c.bytes += e.size
}

func (c *BlobCache) evict() int {
	evicted := 0
	for len(c.entries) > c.cfg.MaxItems {
		hash := c.queue[c.head]
		c.queue[c.head] = common.Hash{}
		c.head++
		if e, ok := c.entries[hash]; ok {
			c.bytes -= e.size
			delete(c.entries, hash)
			evicted++
		}
	}
	// Compact once the dead prefix dominates the backing array.
	if c.head > 0 && c.head >= len(c.queue)/2 {
		c.queue = append(c.queue[:0:0], c.queue[c.head:]...)
		c.head = 0
	}
	return evicted
}

// GetMany looks up hashes in request order. Unknown or evicted hashes yield
// a nil sidecar. Requests longer than MaxRequest fail before any lookup.
func (c *BlobCache) GetMany(hashes []common.Hash) ([]BlobLookup, error) {
	if len(hashes) > c.cfg.MaxRequest {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrBlobRequestTooLarge, len(hashes), c.cfg.MaxRequest)
	}
	out := make([]BlobLookup, len(hashes))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, h := range hashes {
		out[i].Hash = h
		if e, ok := c.entries[h]; ok {
			out[i].Sidecar = e.sidecar
		}
	}
	return out, nil
}

// Has reports whether hash is cached.
func (c *BlobCache) Has(hash common.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[hash]
	return ok
}

// Len returns the number of cached sidecars.
func (c *BlobCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SizeBytes returns the bytes accounted to cached sidecars.
func (c *BlobCache) SizeBytes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

// Stats returns item count and size in one snapshot.
func (c *BlobCache) Stats() (int, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), c.bytes
}

// MaxRequest returns the largest lookup GetMany accepts.
func (c *BlobCache) MaxRequest() int { return c.cfg.MaxRequest }
