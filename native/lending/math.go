package lending

import "math/big"

// payoffAt returns the amount owed on a loan at time now. Fixed-rate loans owe
// the full maximum repayment. Pro-rata loans accrue interest linearly over the
// elapsed part of the duration, without compounding, and owe exactly the
// maximum repayment from the end of the term onwards.
func payoffAt(t *LoanTerms, now uint64) *big.Int {
	maxRepayment := cloneBigInt(t.MaximumRepayment)
	if !t.IsProRata || t.Duration == 0 {
		return maxRepayment
	}
	principal := cloneBigInt(t.Principal)
	var elapsed uint64
	if now > t.StartTime {
		elapsed = now - t.StartTime
	}
	if elapsed >= t.Duration {
		return maxRepayment
	}
	interest := new(big.Int).Sub(maxRepayment, principal)
	if interest.Sign() <= 0 {
		return principal
	}
	interest.Mul(interest, new(big.Int).SetUint64(elapsed))
	interest.Quo(interest, new(big.Int).SetUint64(t.Duration))
	return principal.Add(principal, interest)
}

// interestPortion is the part of payoff above principal.
func interestPortion(payoff, principal *big.Int) *big.Int {
	interest := new(big.Int).Sub(payoff, cloneBigInt(principal))
	if interest.Sign() < 0 {
		return big.NewInt(0)
	}
	return interest
}
