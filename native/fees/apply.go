// Package fees computes basis-point fee splits shared by the lending, flash
// liquidity and swap components.
package fees

import (
	"errors"
	"math/big"
)

// MaxBps is one hundred percent in basis points.
const MaxBps = 10_000

// ErrBpsOutOfRange is returned for rates above MaxBps.
var ErrBpsOutOfRange = errors.New("fees: basis points out of range")

var bpsDenominator = big.NewInt(MaxBps)

// ApplyResult is a gross amount split into the fee and the remainder.
type ApplyResult struct {
	Fee *big.Int
	Net *big.Int
}

// Apply takes bps of gross, rounding the fee down. A nil or non-positive
// gross yields a zero split.
func Apply(gross *big.Int, bps uint32) ApplyResult {
	result := ApplyResult{Fee: big.NewInt(0)}
	if gross != nil {
		result.Net = new(big.Int).Set(gross)
	} else {
		result.Net = big.NewInt(0)
	}
	if result.Net.Sign() <= 0 || bps == 0 {
		return result
	}
	fee := new(big.Int).Mul(result.Net, big.NewInt(int64(bps)))
	fee = fee.Div(fee, bpsDenominator)
	if fee.Sign() <= 0 {
		return result
	}
	if fee.Cmp(result.Net) >= 0 {
		result.Fee = new(big.Int).Set(result.Net)
		result.Net = big.NewInt(0)
		return result
	}
	result.Fee = fee
	result.Net = new(big.Int).Sub(result.Net, fee)
	return result
}

// FeeOn returns bps of amount rounded up, for fees charged on top of a
// principal rather than carved out of it.
func FeeOn(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	fee.Add(fee, big.NewInt(MaxBps-1))
	return fee.Div(fee, bpsDenominator)
}

// Validate rejects rates above MaxBps.
func Validate(bps uint32) error {
	if bps > MaxBps {
		return ErrBpsOutOfRange
	}
	return nil
}
