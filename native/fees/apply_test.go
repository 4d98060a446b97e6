package fees

import (
	"math/big"
	"testing"
)

func TestApply(t *testing.T) {
	cases := []struct {
		name     string
		gross    *big.Int
		bps      uint32
		fee, net int64
	}{
		{"nil gross", nil, 500, 0, 0},
		{"zero bps", big.NewInt(100), 0, 0, 100},
		{"five percent", big.NewInt(50), 500, 2, 48},
		{"rounds down", big.NewInt(19), 500, 0, 19},
		{"full", big.NewInt(10), MaxBps, 10, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Apply(tc.gross, tc.bps)
			if got.Fee.Int64() != tc.fee || got.Net.Int64() != tc.net {
				t.Fatalf("expected fee %d net %d, got %s %s", tc.fee, tc.net, got.Fee, got.Net)
			}
		})
	}
}

func TestFeeOnRoundsUp(t *testing.T) {
	if got := FeeOn(big.NewInt(1000), 9); got.Int64() != 1 {
		t.Fatalf("expected 1, got %s", got)
	}
	if got := FeeOn(big.NewInt(20_000), 9); got.Int64() != 18 {
		t.Fatalf("expected 18, got %s", got)
	}
	if got := FeeOn(nil, 9); got.Sign() != 0 {
		t.Fatalf("expected zero fee")
	}
	if err := Validate(MaxBps + 1); err != ErrBpsOutOfRange {
		t.Fatalf("expected out of range, got %v", err)
	}
}
