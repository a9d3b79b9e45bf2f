package engine

import (
	"fmt"
	"slices"

	"github.com/loadnetwork/load-el/core"
)

// Method names an Engine API method family.
type Method uint8

const (
	MethodForkchoiceUpdated Method = iota
	MethodGetPayload
	MethodNewPayload
	MethodGetBlobs
)

func (m Method) String() string {
	switch m {
	case MethodForkchoiceUpdated:
		return "engine_forkchoiceUpdated"
	case MethodGetPayload:
		return "engine_getPayload"
	case MethodNewPayload:
		return "engine_newPayload"
	case MethodGetBlobs:
		return "engine_getBlobs"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// Version is an Engine API method version.
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
	V4 Version = 4
)

// MethodVersion tags one served method.
type MethodVersion struct {
	Method  Method
	Version Version
}

func (mv MethodVersion) String() string {
	return fmt.Sprintf("%sV%d", mv.Method, mv.Version)
}

// forkWindow is the half-open range of forks [from, until) in which a
// method version is served. until applies only when bounded is set.
type forkWindow struct {
	from     core.Fork
	until    core.Fork
	bounded  bool
	wallTime bool
}

// forkGates is the closed set of served method versions. Anything missing
// from the table is unsupported.
var forkGates = map[MethodVersion]forkWindow{
	{MethodForkchoiceUpdated, V3}: {from: core.ForkCancun},
	{MethodGetPayload, V3}:        {from: core.ForkCancun, until: core.ForkPrague, bounded: true},
	{MethodGetPayload, V4}:        {from: core.ForkPrague},
	{MethodNewPayload, V3}:        {from: core.ForkCancun, until: core.ForkPrague, bounded: true},
	// V4 is accepted from Cancun so that requests sent before Prague are
	// reported as an invalid payload rather than an unsupported method.
	{MethodNewPayload, V4}: {from: core.ForkCancun},
	{MethodGetBlobs, V1}:   {from: core.ForkShanghai},
	{MethodGetBlobs, V2}:   {from: core.ForkOsaka, wallTime: true},
	{MethodGetBlobs, V3}:   {from: core.ForkOsaka, wallTime: true},
}

// ServedMethods lists the JSON-RPC method names of every gated version.
func ServedMethods() []string {
	out := make([]string, 0, len(forkGates))
	for mv := range forkGates {
		out = append(out, mv.String())
	}
	slices.Sort(out)
	return out
}

// forkGate reports whether version of method may be served for the given
// timestamp. Wall-clock gated versions ignore timestamp and use now.
func forkGate(cfg *core.ChainConfig, mv MethodVersion, timestamp, now uint64) error {
	w, ok := forkGates[mv]
	if !ok {
		return fmt.Errorf("%w: %v not served", ErrUnsupportedFork, mv)
	}
	if w.wallTime {
		timestamp = now
	}
	if !cfg.IsActive(w.from, timestamp) {
		return fmt.Errorf("%w: %v requires %v at %d", ErrUnsupportedFork, mv, w.from, timestamp)
	}
	if w.bounded && cfg.IsActive(w.until, timestamp) {
		return fmt.Errorf("%w: %v retired at %v", ErrUnsupportedFork, mv, w.until)
	}
	return nil
}
