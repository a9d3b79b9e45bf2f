package core

import (
	"errors"
	"math/big"
	"testing"
)

func TestChainConfig_ValidateDefault(t *testing.T) {
	c := DefaultChainConfig(1)
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestChainConfig_ValidateRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *ChainConfig)
		want   error
	}{
		{"no chain id", func(c *ChainConfig) { c.ChainID = nil }, ErrMissingChainID},
		{"ttd", func(c *ChainConfig) { c.TerminalTotalDifficulty = big.NewInt(1) }, ErrNonZeroTTD},
		{"late shanghai", func(c *ChainConfig) { c.ShanghaiTime = newUint64(10) }, ErrShanghaiNotAtGenesis},
		{"late cancun", func(c *ChainConfig) { c.CancunTime = newUint64(10) }, ErrCancunNotAtGenesis},
		{"missing cancun", func(c *ChainConfig) { c.CancunTime = nil }, ErrCancunNotAtGenesis},
		{"osaka before prague", func(c *ChainConfig) {
			c.PragueTime = newUint64(100)
			c.OsakaTime = newUint64(50)
		}, ErrForkOrder},
		{"oversized schedule", func(c *ChainConfig) { c.BlobSchedule.Max = LoadMaxBlobCount + 1 }, ErrBlobScheduleTooLarge},
	}
	for _, tt := range tests {
		c := DefaultChainConfig(1)
		tt.mutate(c)
		if err := c.Validate(); !errors.Is(err, tt.want) {
			t.Errorf("%s: want %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestChainConfig_ValidateFillsDefaults(t *testing.T) {
	c := DefaultChainConfig(1)
	c.TerminalTotalDifficulty = nil
	c.BlobSchedule = BlobSchedule{}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.TerminalTotalDifficulty.Sign() != 0 {
		t.Fatal("ttd should default to zero")
	}
	if c.BlobSchedule != LoadBlobSchedule {
		t.Fatalf("blob schedule = %+v, want %+v", c.BlobSchedule, LoadBlobSchedule)
	}
}

func TestChainConfig_LatestFork(t *testing.T) {
	c := DefaultChainConfig(1)
	c.PragueTime = newUint64(100)
	c.OsakaTime = newUint64(200)

	tests := []struct {
		time uint64
		want Fork
	}{
		{0, ForkCancun},
		{99, ForkCancun},
		{100, ForkPrague},
		{199, ForkPrague},
		{200, ForkOsaka},
	}
	for _, tt := range tests {
		if got := c.LatestFork(tt.time); got != tt.want {
			t.Errorf("LatestFork(%d) = %v, want %v", tt.time, got, tt.want)
		}
	}
	if !c.IsActive(ForkCancun, 150) || c.IsActive(ForkOsaka, 150) {
		t.Fatal("IsActive disagrees with LatestFork")
	}
}
