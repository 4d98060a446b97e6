package lending

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypeLoanStarted      = "lending.loan.started"
	EventTypeLoanRepaid       = "lending.loan.repaid"
	EventTypeLoanLiquidated   = "lending.loan.liquidated"
	EventTypeLoanRenegotiated = "lending.loan.renegotiated"
	EventTypeObligationMinted = "lending.loan.obligation_minted"
)

func hexAddr(a common.Address) string { return strings.ToLower(a.Hex()) }

func newTermsEvent(eventType string, e *Engine, t *LoanTerms) *types.Event {
	attrs := map[string]string{
		"loanId":       strconv.FormatUint(t.LoanID, 10),
		"issuer":       hexAddr(e.address),
		"offerType":    e.cfg.OfferType,
		"denomination": hexAddr(t.Denomination),
		"principal":    cloneBigInt(t.Principal).String(),
		"maxRepayment": cloneBigInt(t.MaximumRepayment).String(),
		"collateral":   hexAddr(t.CollateralContract),
		"collateralId": cloneBigInt(t.CollateralID).String(),
		"duration":     strconv.FormatUint(t.Duration, 10),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newLoanStartedEvent(e *Engine, t *LoanTerms) *types.Event {
	evt := newTermsEvent(EventTypeLoanStarted, e, t)
	evt.Attributes["lender"] = hexAddr(t.Lender)
	evt.Attributes["borrower"] = hexAddr(t.Borrower)
	evt.Attributes["vault"] = hexAddr(t.Vault)
	evt.Attributes["proRata"] = strconv.FormatBool(t.IsProRata)
	evt.Attributes["originationFee"] = cloneBigInt(t.OriginationFee).String()
	evt.Attributes["startTime"] = strconv.FormatUint(t.StartTime, 10)
	return evt
}

func newLoanRepaidEvent(e *Engine, t *LoanTerms, payer, borrower, lender common.Address, payoff, adminFee *big.Int) *types.Event {
	evt := newTermsEvent(EventTypeLoanRepaid, e, t)
	evt.Attributes["payer"] = hexAddr(payer)
	evt.Attributes["borrower"] = hexAddr(borrower)
	evt.Attributes["lender"] = hexAddr(lender)
	evt.Attributes["payoff"] = payoff.String()
	evt.Attributes["adminFee"] = adminFee.String()
	return evt
}

func newLoanLiquidatedEvent(e *Engine, t *LoanTerms, claimOwner common.Address) *types.Event {
	evt := newTermsEvent(EventTypeLoanLiquidated, e, t)
	evt.Attributes["lender"] = hexAddr(claimOwner)
	return evt
}

func newLoanRenegotiatedEvent(e *Engine, t *LoanTerms, fee, adminFee *big.Int) *types.Event {
	evt := newTermsEvent(EventTypeLoanRenegotiated, e, t)
	evt.Attributes["fee"] = cloneBigInt(fee).String()
	evt.Attributes["adminFee"] = cloneBigInt(adminFee).String()
	return evt
}

func newObligationMintedEvent(e *Engine, t *LoanTerms, borrower common.Address) *types.Event {
	evt := newTermsEvent(EventTypeObligationMinted, e, t)
	evt.Attributes["borrower"] = hexAddr(borrower)
	return evt
}
