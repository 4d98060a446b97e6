package coordinator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LoanStatus tracks the one-way lifecycle of a loan.
type LoanStatus uint8

const (
	StatusNone LoanStatus = iota
	StatusActive
	StatusRepaid
	StatusLiquidated
)

func (s LoanStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRepaid:
		return "repaid"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "none"
	}
}

// TokenKind distinguishes the two ownership tokens bound to a loan.
type TokenKind uint8

const (
	TokenClaim TokenKind = iota + 1
	TokenObligation
)

func (k TokenKind) String() string {
	if k == TokenObligation {
		return "obligation"
	}
	return "claim"
}

// Loan is the coordinator's view of a loan. Terms live with the issuer.
type Loan struct {
	ID                uint64
	Status            LoanStatus
	Issuer            common.Address
	OfferType         string
	Borrower          common.Address
	StartTime         uint64
	Generation        uint64
	ClaimMinted       bool
	ClaimTokenID      *big.Int
	ObligationMinted  bool
	ObligationTokenID *big.Int
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	out := *l
	out.ClaimTokenID = cloneID(l.ClaimTokenID)
	out.ObligationTokenID = cloneID(l.ObligationTokenID)
	return &out
}

func cloneID(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
