package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Offer types served by the shipped issuers.
const (
	OfferTypeAsset      = "ASSET_OFFER_LOAN"
	OfferTypeCollection = "COLLECTION_OFFER_LOAN"
)

// Kind selects which acceptance entry points an issuer exposes.
type Kind uint8

const (
	KindAsset Kind = iota + 1
	KindCollection
)

// Offer is a lender's proposed terms. For asset offers CollateralID names the
// one acceptable token; collection offers leave it unset and may carry an id
// range instead.
type Offer struct {
	Denomination       common.Address
	Principal          *big.Int
	MaximumRepayment   *big.Int
	CollateralContract common.Address
	CollateralID       *big.Int
	MinID              *big.Int
	MaxID              *big.Int
	Duration           uint64
	IsProRata          bool
	OriginationFee     *big.Int
	LiquidityCap       *big.Int
	AllowedBorrowers   []common.Address
}

// Authorization is the lender's signature over an offer or renegotiation.
type Authorization struct {
	Signer    common.Address
	Nonce     uint64
	Expiry    uint64
	Signature []byte
}

// Renegotiation replaces the duration and repayment of an active loan.
type Renegotiation struct {
	LoanID              uint64
	NewDuration         uint64
	NewMaximumRepayment *big.Int
	RenegotiationFee    *big.Int
}

// LoanTerms is the issuer's snapshot of a started loan.
type LoanTerms struct {
	LoanID             uint64
	Principal          *big.Int
	MaximumRepayment   *big.Int
	Denomination       common.Address
	CollateralContract common.Address
	CollateralID       *big.Int
	WrapperType        string
	Duration           uint64
	StartTime          uint64
	IsProRata          bool
	OriginationFee     *big.Int
	AdminFeeBps        uint32
	Lender             common.Address
	Borrower           common.Address
	Vault              common.Address
	OfferHash          common.Hash
}

// End returns the last second at which the loan may still be repaid.
func (t *LoanTerms) End() uint64 { return t.StartTime + t.Duration }

// Clone returns a deep copy of the terms.
func (t *LoanTerms) Clone() *LoanTerms {
	if t == nil {
		return nil
	}
	out := *t
	out.Principal = cloneBigInt(t.Principal)
	out.MaximumRepayment = cloneBigInt(t.MaximumRepayment)
	out.CollateralID = cloneBigInt(t.CollateralID)
	out.OriginationFee = cloneBigInt(t.OriginationFee)
	return &out
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
