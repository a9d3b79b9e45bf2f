package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// EIP-1559 constants.
const (
	// InitialBaseFee is the genesis base fee (1 Gwei).
	InitialBaseFee = 1_000_000_000

	ElasticityMultiplier     = 2
	BaseFeeChangeDenominator = 8
)

// CalcBaseFee calculates the base fee for the next block based on the
// parent's gas usage, following EIP-1559 rules.
func CalcBaseFee(parent *types.Header) *big.Int {
	if parent.BaseFee == nil {
		return big.NewInt(InitialBaseFee)
	}

	parentGasTarget := parent.GasLimit / ElasticityMultiplier
	if parentGasTarget == 0 || parent.GasUsed == parentGasTarget {
		return new(big.Int).Set(parent.BaseFee)
	}

	if parent.GasUsed > parentGasTarget {
		delta := new(big.Int).Mul(parent.BaseFee, new(big.Int).SetUint64(parent.GasUsed-parentGasTarget))
		delta.Div(delta, new(big.Int).SetUint64(parentGasTarget))
		delta.Div(delta, big.NewInt(BaseFeeChangeDenominator))
		if delta.Sign() == 0 {
			delta.SetInt64(1)
		}
		return delta.Add(parent.BaseFee, delta)
	}

	delta := new(big.Int).Mul(parent.BaseFee, new(big.Int).SetUint64(parentGasTarget-parent.GasUsed))
	delta.Div(delta, new(big.Int).SetUint64(parentGasTarget))
	delta.Div(delta, big.NewInt(BaseFeeChangeDenominator))
	baseFee := new(big.Int).Sub(parent.BaseFee, delta)
	if baseFee.Sign() < 0 {
		baseFee.SetInt64(0)
	}
	return baseFee
}
