package refinance

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/native/lending"
)

// Adapter type tags stored per issuer address.
const (
	AdapterCurrent  = "CURRENT"
	AdapterLegacyV1 = "LEGACY_V1"
)

var ErrUnknownAdapter = errors.New("refinance: unknown adapter type")

// Adapter is the uniform surface the engine uses to close a loan on any
// issuer deployment.
type Adapter interface {
	BorrowerAddress(loanID uint64) (common.Address, error)
	Collateral(loanID uint64) (common.Address, *big.Int, error)
	PayoffDetails(loanID uint64) (common.Address, *big.Int, error)
	RepayOnBehalf(payer common.Address, loanID uint64) error
}

// Issuer is the reduced surface every issuer deployment offers.
type Issuer interface {
	Address() common.Address
	LoanTerms(loanID uint64) (*lending.LoanTerms, error)
	PayBackLoan(payer common.Address, loanID uint64) error
}

// currentIssuer is the surface of issuers that price loans themselves and
// know about obligation receipts.
type currentIssuer interface {
	Issuer
	LoanPayoff(loanID uint64) (*big.Int, error)
	CurrentBorrower(loanID uint64) (common.Address, error)
}

// BorrowerRegistry resolves the account currently entitled to a loan's
// collateral, following obligation-token transfers and renegotiation resets.
type BorrowerRegistry interface {
	CurrentBorrower(loanID uint64) (common.Address, error)
}

func normalizeTag(tag string) string {
	return strings.ToUpper(strings.TrimSpace(tag))
}

// NewAdapter builds the adapter variant named by tag around issuer. Legacy
// adapters resolve borrowers through borrowers when it is set and fall back
// to the issuer's stored terms otherwise.
func NewAdapter(tag string, issuer Issuer, borrowers BorrowerRegistry) (Adapter, error) {
	if issuer == nil {
		return nil, fmt.Errorf("refinance: issuer required")
	}
	switch normalizeTag(tag) {
	case AdapterCurrent:
		current, ok := issuer.(currentIssuer)
		if !ok {
			return nil, fmt.Errorf("%w: %s does not serve payoff queries", ErrUnknownAdapter, issuer.Address().Hex())
		}
		return CurrentAdapter{issuer: current}, nil
	case AdapterLegacyV1:
		return LegacyAdapter{issuer: issuer, borrowers: borrowers}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, tag)
	}
}

// CurrentAdapter closes loans of the current issuer generation.
type CurrentAdapter struct {
	issuer currentIssuer
}

func (a CurrentAdapter) BorrowerAddress(loanID uint64) (common.Address, error) {
	return a.issuer.CurrentBorrower(loanID)
}

func (a CurrentAdapter) Collateral(loanID uint64) (common.Address, *big.Int, error) {
	terms, err := a.issuer.LoanTerms(loanID)
	if err != nil {
		return common.Address{}, nil, err
	}
	return terms.CollateralContract, terms.CollateralID, nil
}

func (a CurrentAdapter) PayoffDetails(loanID uint64) (common.Address, *big.Int, error) {
	terms, err := a.issuer.LoanTerms(loanID)
	if err != nil {
		return common.Address{}, nil, err
	}
	payoff, err := a.issuer.LoanPayoff(loanID)
	if err != nil {
		return common.Address{}, nil, err
	}
	return terms.Denomination, payoff, nil
}

func (a CurrentAdapter) RepayOnBehalf(payer common.Address, loanID uint64) error {
	return a.issuer.PayBackLoan(payer, loanID)
}

// LegacyAdapter closes loans of older fixed-rate deployments, which expose
// only their stored terms and a plain pay back.
type LegacyAdapter struct {
	issuer    Issuer
	borrowers BorrowerRegistry
}

func (a LegacyAdapter) BorrowerAddress(loanID uint64) (common.Address, error) {
	if a.borrowers != nil {
		return a.borrowers.CurrentBorrower(loanID)
	}
	terms, err := a.issuer.LoanTerms(loanID)
	if err != nil {
		return common.Address{}, err
	}
	return terms.Borrower, nil
}

func (a LegacyAdapter) Collateral(loanID uint64) (common.Address, *big.Int, error) {
	terms, err := a.issuer.LoanTerms(loanID)
	if err != nil {
		return common.Address{}, nil, err
	}
	return terms.CollateralContract, terms.CollateralID, nil
}

// PayoffDetails returns the maximum repayment; legacy loans are fixed-rate.
func (a LegacyAdapter) PayoffDetails(loanID uint64) (common.Address, *big.Int, error) {
	terms, err := a.issuer.LoanTerms(loanID)
	if err != nil {
		return common.Address{}, nil, err
	}
	return terms.Denomination, new(big.Int).Set(terms.MaximumRepayment), nil
}

func (a LegacyAdapter) RepayOnBehalf(payer common.Address, loanID uint64) error {
	return a.issuer.PayBackLoan(payer, loanID)
}
