package core

import "testing"

func TestCalcExcessBlobGas(t *testing.T) {
	target := LoadBlobSchedule.TargetBlobGas()
	tests := []struct {
		excess, used, want uint64
	}{
		{0, 0, 0},
		{0, target, 0},
		{0, target + GasPerBlob, GasPerBlob},
		{GasPerBlob, target - GasPerBlob, 0},
		{10 * GasPerBlob, LoadBlobSchedule.MaxBlobGas(), 10*GasPerBlob + target},
	}
	for _, tt := range tests {
		if got := CalcExcessBlobGas(tt.excess, tt.used, LoadBlobSchedule); got != tt.want {
			t.Errorf("CalcExcessBlobGas(%d, %d) = %d, want %d", tt.excess, tt.used, got, tt.want)
		}
	}
}

func TestCalcBlobBaseFee(t *testing.T) {
	if got := CalcBlobBaseFee(0, LoadBlobSchedule); got.Uint64() != MinBaseFeePerBlobGas {
		t.Fatalf("fee at zero excess = %v, want %d", got, MinBaseFeePerBlobGas)
	}
	// e^1 ~= 2.718, so excess equal to the fraction yields 2 after flooring.
	if got := CalcBlobBaseFee(LoadBlobUpdateFraction, LoadBlobSchedule); got.Uint64() != 2 {
		t.Fatalf("fee at excess=fraction = %v, want 2", got)
	}
	lo := CalcBlobBaseFee(10*LoadBlobUpdateFraction, LoadBlobSchedule)
	hi := CalcBlobBaseFee(20*LoadBlobUpdateFraction, LoadBlobSchedule)
	if !lo.Lt(hi) {
		t.Fatalf("fee not monotonic: %v >= %v", lo, hi)
	}
}

func TestBlobScheduleAt(t *testing.T) {
	c := DefaultChainConfig(1)
	if got := c.BlobScheduleAt(0); got != LoadBlobSchedule {
		t.Fatalf("schedule = %+v, want %+v", got, LoadBlobSchedule)
	}
	if DefaultBlobCacheItems != 32768 {
		t.Fatalf("DefaultBlobCacheItems = %d, want 32768", DefaultBlobCacheItems)
	}
}
