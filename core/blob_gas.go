package core

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// MinBaseFeePerBlobGas is the EIP-4844 blob base fee floor.
const MinBaseFeePerBlobGas = 1

// BlobSchedule defines the target and maximum blob counts for a fork.
type BlobSchedule struct {
	Target         uint64 // target blobs per block
	Max            uint64 // maximum blobs per block
	UpdateFraction uint64 // blob base fee update fraction
}

// TargetBlobGas returns the per-block blob gas target.
func (s BlobSchedule) TargetBlobGas() uint64 { return s.Target * GasPerBlob }

// MaxBlobGas returns the per-block blob gas ceiling.
func (s BlobSchedule) MaxBlobGas() uint64 { return s.Max * GasPerBlob }

// BlobScheduleAt returns the blob schedule in force at time. Every
// blob-enabled Load fork shares the same schedule.
func (c *ChainConfig) BlobScheduleAt(time uint64) BlobSchedule {
	if !c.IsCancun(time) {
		return BlobSchedule{}
	}
	return c.BlobSchedule
}

// CalcExcessBlobGas computes the excess blob gas of a child block from its
// parent's excess and usage (EIP-4844).
func CalcExcessBlobGas(parentExcessBlobGas, parentBlobGasUsed uint64, sched BlobSchedule) uint64 {
	target := sched.TargetBlobGas()
	if parentExcessBlobGas+parentBlobGasUsed < target {
		return 0
	}
	return parentExcessBlobGas + parentBlobGasUsed - target
}

// CalcExcessBlobGasForHeader computes the child excess blob gas from a
// parent header.
func CalcExcessBlobGasForHeader(parent *types.Header, sched BlobSchedule) uint64 {
	var excess, used uint64
	if parent.ExcessBlobGas != nil {
		excess = *parent.ExcessBlobGas
	}
	if parent.BlobGasUsed != nil {
		used = *parent.BlobGasUsed
	}
	return CalcExcessBlobGas(excess, used, sched)
}

// CalcBlobBaseFee returns the blob base fee for the given excess blob gas.
func CalcBlobBaseFee(excessBlobGas uint64, sched BlobSchedule) *uint256.Int {
	return fakeExponential(
		uint256.NewInt(MinBaseFeePerBlobGas),
		uint256.NewInt(excessBlobGas),
		uint256.NewInt(sched.UpdateFraction),
	)
}

// fakeExponential approximates factor * e^(numerator / denominator) using
// the EIP-4844 Taylor expansion. The result saturates at 2^256-1.
func fakeExponential(factor, numerator, denominator *uint256.Int) *uint256.Int {
	var (
		output = new(uint256.Int)
		accum  = new(uint256.Int)
		denom  = new(uint256.Int)
		i      = uint256.NewInt(1)
		one    = uint256.NewInt(1)
	)
	if _, overflow := accum.MulOverflow(factor, denominator); overflow {
		return new(uint256.Int).SetAllOne()
	}
	for !accum.IsZero() {
		if _, overflow := output.AddOverflow(output, accum); overflow {
			return new(uint256.Int).SetAllOne()
		}
		if _, overflow := accum.MulOverflow(accum, numerator); overflow {
			return new(uint256.Int).SetAllOne()
		}
		denom.Mul(denominator, i)
		accum.Div(accum, denom)
		i.Add(i, one)
	}
	return output.Div(output, denominator)
}
