package engine

import (
	"golang.org/x/sync/semaphore"
)

// Default per-method concurrency limits.
const (
	DefaultGetBlobsLimit   = 64
	DefaultNewPayloadLimit = 16
	DefaultMethodLimit     = 32

	// DefaultBatchResponseLimitMB caps the bytes of one batch response.
	DefaultBatchResponseLimitMB = 200
)

// BackpressureConfig bounds concurrent calls per method family.
type BackpressureConfig struct {
	GetBlobsLimit        int
	NewPayloadLimit      int
	DefaultLimit         int
	BatchResponseLimitMB int
}

// DefaultBackpressureConfig returns the production limits.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		GetBlobsLimit:        DefaultGetBlobsLimit,
		NewPayloadLimit:      DefaultNewPayloadLimit,
		DefaultLimit:         DefaultMethodLimit,
		BatchResponseLimitMB: DefaultBatchResponseLimitMB,
	}
}

// OverloadRecorder counts rejected calls.
type OverloadRecorder interface {
	RecordOverload(method string)
}

// limiter fails fast when a method family is at its concurrency limit.
// Excess calls are rejected, never queued.
type limiter struct {
	getBlobs   *semaphore.Weighted
	newPayload *semaphore.Weighted
	other      *semaphore.Weighted
	rec        OverloadRecorder
}

func newLimiter(cfg BackpressureConfig, rec OverloadRecorder) *limiter {
	def := DefaultBackpressureConfig()
	if cfg.GetBlobsLimit <= 0 {
		cfg.GetBlobsLimit = def.GetBlobsLimit
	}
	if cfg.NewPayloadLimit <= 0 {
		cfg.NewPayloadLimit = def.NewPayloadLimit
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	return &limiter{
		getBlobs:   semaphore.NewWeighted(int64(cfg.GetBlobsLimit)),
		newPayload: semaphore.NewWeighted(int64(cfg.NewPayloadLimit)),
		other:      semaphore.NewWeighted(int64(cfg.DefaultLimit)),
		rec:        rec,
	}
}

func (l *limiter) semFor(method string) *semaphore.Weighted {
	switch method {
	case "engine_getBlobsV1", "engine_getBlobsV2", "engine_getBlobsV3":
		return l.getBlobs
	case "engine_newPayloadV3", "engine_newPayloadV4":
		return l.newPayload
	default:
		return l.other
	}
}

// acquire takes a slot for method. The returned release must be called
// once the call completes. ok is false when the method is overloaded.
func (l *limiter) acquire(method string) (release func(), ok bool) {
	sem := l.semFor(method)
	if !sem.TryAcquire(1) {
		if l.rec != nil {
			l.rec.RecordOverload(method)
		}
		return nil, false
	}
	return func() { sem.Release(1) }, true
}
