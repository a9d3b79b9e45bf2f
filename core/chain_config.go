package core

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrCancunNotAtGenesis   = errors.New("chain config: cancun must be active at genesis")
	ErrShanghaiNotAtGenesis = errors.New("chain config: shanghai must be active at genesis")
	ErrNonZeroTTD           = errors.New("chain config: terminal total difficulty must be zero")
	ErrForkOrder            = errors.New("chain config: fork timestamps out of order")
	ErrBlobScheduleTooLarge = errors.New("chain config: blob schedule exceeds network caps")
	ErrMissingChainID       = errors.New("chain config: chain id not set")
)

// Fork enumerates the post-merge upgrades a Load chain knows about.
type Fork int

const (
	ForkShanghai Fork = iota
	ForkCancun
	ForkPrague
	ForkOsaka
)

func (f Fork) String() string {
	switch f {
	case ForkShanghai:
		return "shanghai"
	case ForkCancun:
		return "cancun"
	case ForkPrague:
		return "prague"
	case ForkOsaka:
		return "osaka"
	default:
		return fmt.Sprintf("fork(%d)", int(f))
	}
}

// ChainConfig holds chain-level configuration for fork scheduling.
// Load chains start post-merge: every block-number fork and the merge are
// implicitly active at genesis, and later upgrades activate by timestamp.
type ChainConfig struct {
	ChainID *big.Int

	// TerminalTotalDifficulty must be zero; nil is treated as zero.
	TerminalTotalDifficulty *big.Int

	ShanghaiTime *uint64
	CancunTime   *uint64
	PragueTime   *uint64
	OsakaTime    *uint64

	// BlobSchedule overrides the per-fork blob parameters for every
	// blob-enabled fork.
	BlobSchedule BlobSchedule
}

func newUint64(v uint64) *uint64 { return &v }

// DefaultChainConfig returns a Load chain with Shanghai, Cancun and Prague
// at genesis and Osaka unscheduled.
func DefaultChainConfig(chainID uint64) *ChainConfig {
	return &ChainConfig{
		ChainID:                 new(big.Int).SetUint64(chainID),
		TerminalTotalDifficulty: new(big.Int),
		ShanghaiTime:            newUint64(0),
		CancunTime:              newUint64(0),
		PragueTime:              newUint64(0),
		BlobSchedule:            LoadBlobSchedule,
	}
}

// Validate enforces the genesis rules of a Load chain and fills defaults
// for unset fields.
func (c *ChainConfig) Validate() error {
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return ErrMissingChainID
	}
	if c.TerminalTotalDifficulty == nil {
		c.TerminalTotalDifficulty = new(big.Int)
	}
	if c.TerminalTotalDifficulty.Sign() != 0 {
		return fmt.Errorf("%w: got %v", ErrNonZeroTTD, c.TerminalTotalDifficulty)
	}
	if c.ShanghaiTime == nil || *c.ShanghaiTime != 0 {
		return ErrShanghaiNotAtGenesis
	}
	if c.CancunTime == nil || *c.CancunTime != 0 {
		return ErrCancunNotAtGenesis
	}
	if c.OsakaTime != nil && (c.PragueTime == nil || *c.OsakaTime < *c.PragueTime) {
		return fmt.Errorf("%w: osaka before prague", ErrForkOrder)
	}
	if c.BlobSchedule == (BlobSchedule{}) {
		c.BlobSchedule = LoadBlobSchedule
	}
	s := c.BlobSchedule
	if s.Max > LoadMaxBlobCount || s.Target > s.Max || s.UpdateFraction == 0 {
		return fmt.Errorf("%w: target %d max %d fraction %d", ErrBlobScheduleTooLarge, s.Target, s.Max, s.UpdateFraction)
	}
	return nil
}

func isTimestampForked(forkTime *uint64, blockTime uint64) bool {
	if forkTime == nil {
		return false
	}
	return *forkTime <= blockTime
}

// IsShanghai returns whether the given block time is at or past Shanghai.
func (c *ChainConfig) IsShanghai(time uint64) bool {
	return isTimestampForked(c.ShanghaiTime, time)
}

// IsCancun returns whether the given block time is at or past Cancun.
func (c *ChainConfig) IsCancun(time uint64) bool {
	return isTimestampForked(c.CancunTime, time)
}

// IsPrague returns whether the given block time is at or past Prague.
// Prague enables execution requests (EIP-7685).
func (c *ChainConfig) IsPrague(time uint64) bool {
	return isTimestampForked(c.PragueTime, time)
}

// IsOsaka returns whether the given block time is at or past Osaka.
func (c *ChainConfig) IsOsaka(time uint64) bool {
	return isTimestampForked(c.OsakaTime, time)
}

// LatestFork returns the most recent fork active at time.
func (c *ChainConfig) LatestFork(time uint64) Fork {
	switch {
	case c.IsOsaka(time):
		return ForkOsaka
	case c.IsPrague(time):
		return ForkPrague
	case c.IsCancun(time):
		return ForkCancun
	default:
		return ForkShanghai
	}
}

// IsActive reports whether fork f is active at time.
func (c *ChainConfig) IsActive(f Fork, time uint64) bool {
	return c.LatestFork(time) >= f
}
