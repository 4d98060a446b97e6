package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	nativecommon "nftlend/native/common"
	"nftlend/native/coordinator"
	"nftlend/native/escrow"
	"nftlend/native/fees"
)

// activeLoan loads a loan this issuer originated and that is still active.
func (e *Engine) activeLoan(loanID uint64) (*coordinator.Loan, *LoanTerms, error) {
	loan, err := e.coordinator.GetLoanData(loanID)
	if err != nil {
		return nil, nil, err
	}
	if loan.Issuer != e.address {
		return nil, nil, ErrWrongIssuer
	}
	if loan.Status != coordinator.StatusActive {
		return nil, nil, ErrLoanNotActive
	}
	terms, err := e.LoanTerms(loanID)
	if err != nil {
		return nil, nil, err
	}
	return loan, terms, nil
}

// LoanPayoff returns the amount that settles the loan right now.
func (e *Engine) LoanPayoff(loanID uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	_, terms, err := e.activeLoan(loanID)
	if err != nil {
		return nil, err
	}
	return payoffAt(terms, e.now()), nil
}

// CurrentBorrower returns the party that receives the collateral on
// repayment.
func (e *Engine) CurrentBorrower(loanID uint64) (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	return e.coordinator.CurrentBorrower(loanID)
}

// PayBackLoan settles the loan. Anyone may pay; the collateral goes to the
// current borrower. Every transfer must succeed.
func (e *Engine) PayBackLoan(payer common.Address, loanID uint64) error {
	return e.payBack(payer, loanID, false)
}

// PayBackLoanSafe settles the loan like PayBackLoan, but a recipient that
// cannot receive the denomination has its share escrowed for later
// withdrawal instead of blocking the repayment.
func (e *Engine) PayBackLoanSafe(payer common.Address, loanID uint64) error {
	return e.payBack(payer, loanID, true)
}

func (e *Engine) payBack(payer common.Address, loanID uint64, safe bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		_, terms, err := e.activeLoan(loanID)
		if err != nil {
			return err
		}
		now := e.now()
		if now > terms.End() {
			return ErrLoanExpired
		}
		lender, err := e.coordinator.ClaimHolder(loanID)
		if err != nil {
			return err
		}
		borrower, err := e.coordinator.CurrentBorrower(loanID)
		if err != nil {
			return err
		}
		payoff := payoffAt(terms, now)
		adminFee := fees.Apply(interestPortion(payoff, terms.Principal), terms.AdminFeeBps).Fee
		toLender := new(big.Int).Sub(payoff, adminFee)
		if err := e.payments.PayRepayment(payer, lender, terms.Denomination, toLender, safe); err != nil {
			return err
		}
		if err := e.payments.PayRepayment(payer, e.cfg.Treasury, terms.Denomination, adminFee, safe); err != nil {
			return err
		}
		if err := e.coordinator.ResolveLoan(e.address, loanID, false); err != nil {
			return err
		}
		if err := e.escrow.UnlockCollateral(e.address, terms.CollateralContract, terms.CollateralID, borrower); err != nil {
			return err
		}
		e.emit(events.Wrap(newLoanRepaidEvent(e, terms, payer, borrower, lender, payoff, adminFee)))
		return nil
	})
}

// LiquidateOverdueLoan hands the collateral to the claim owner once the loan
// is past its duration. No funds move.
func (e *Engine) LiquidateOverdueLoan(caller common.Address, loanID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		_, terms, err := e.activeLoan(loanID)
		if err != nil {
			return err
		}
		claimOwner, err := e.coordinator.ClaimHolder(loanID)
		if err != nil {
			return err
		}
		if caller != claimOwner {
			return ErrNotClaimOwner
		}
		if e.now() <= terms.End() {
			return ErrLoanNotOverdue
		}
		if err := e.coordinator.ResolveLoan(e.address, loanID, true); err != nil {
			return err
		}
		if err := e.escrow.UnlockCollateral(e.address, terms.CollateralContract, terms.CollateralID, caller); err != nil {
			return err
		}
		e.emit(events.Wrap(newLoanLiquidatedEvent(e, terms, caller)))
		return nil
	})
}

// RenegotiateLoan replaces the duration and maximum repayment of an active
// loan with terms signed by the current claim owner. The borrower pays the
// renegotiation fee up front; both ownership tokens are replaced and the new
// claim token goes to the signer.
func (e *Engine) RenegotiateLoan(caller common.Address, r Renegotiation, auth Authorization) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		_, terms, err := e.activeLoan(r.LoanID)
		if err != nil {
			return err
		}
		borrower, err := e.coordinator.CurrentBorrower(r.LoanID)
		if err != nil {
			return err
		}
		if caller != borrower {
			return ErrNotBorrower
		}
		now := e.now()
		if now > terms.End() {
			return ErrLoanExpired
		}
		if err := e.validateRenegotiation(terms, r, now); err != nil {
			return err
		}
		lender, err := e.coordinator.ClaimHolder(r.LoanID)
		if err != nil {
			return err
		}
		if auth.Signer != lender {
			return ErrNotClaimOwner
		}
		hash, err := RenegotiationHash(e.Domain(), e.cfg.OfferType, r, auth)
		if err != nil {
			return err
		}
		if err := e.verifyAuthorization(hash, auth); err != nil {
			return err
		}
		if err := e.coordinator.ConsumeNonce(e.address, auth.Signer, auth.Nonce); err != nil {
			return err
		}

		split := fees.Apply(r.RenegotiationFee, e.cfg.RenegotiationAdminFeeBps)
		if err := e.payments.PayPrincipal(caller, lender, terms.Denomination, split.Net); err != nil {
			return err
		}
		if err := e.payments.PayPrincipal(caller, e.cfg.Treasury, terms.Denomination, split.Fee); err != nil {
			return err
		}

		terms.Duration = r.NewDuration
		terms.MaximumRepayment = cloneBigInt(r.NewMaximumRepayment)
		if err := e.storeTerms(terms); err != nil {
			return err
		}
		if err := e.coordinator.ResetOwnership(e.address, r.LoanID, caller); err != nil {
			return err
		}
		if err := e.coordinator.MintClaimToken(e.address, r.LoanID, auth.Signer); err != nil {
			return err
		}
		e.emit(events.Wrap(newLoanRenegotiatedEvent(e, terms, r.RenegotiationFee, split.Fee)))
		return nil
	})
}

func (e *Engine) validateRenegotiation(terms *LoanTerms, r Renegotiation, now uint64) error {
	if r.NewDuration == 0 {
		return ErrZeroDuration
	}
	if r.NewDuration > e.cfg.MaxLoanDuration {
		return ErrDurationTooLong
	}
	if now > terms.StartTime+r.NewDuration {
		return ErrNewDurationExpired
	}
	if r.NewMaximumRepayment == nil || r.NewMaximumRepayment.Cmp(terms.Principal) < 0 {
		return ErrNegativeInterestRate
	}
	if r.RenegotiationFee != nil && r.RenegotiationFee.Sign() < 0 {
		return ErrNegativeFee
	}
	return nil
}

// MintObligationReceipt mints the transferable obligation token to the
// borrower. Collateral in a personal escrow moves to the global escrow first,
// and delegations on it are revoked.
func (e *Engine) MintObligationReceipt(caller common.Address, loanID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		loan, terms, err := e.activeLoan(loanID)
		if err != nil {
			return err
		}
		if caller != loan.Borrower {
			return ErrNotBorrower
		}
		if err := e.coordinator.MintObligationToken(e.address, loanID, caller); err != nil {
			return err
		}
		vault, err := e.escrow.Vault(terms.Vault)
		if err != nil {
			return err
		}
		if vault.Personal {
			if err := e.escrow.HandOverLoan(e.address, terms.CollateralContract, terms.CollateralID, e.address, escrow.GlobalVault); err != nil {
				return err
			}
			terms.Vault = escrow.GlobalVault
			if err := e.storeTerms(terms); err != nil {
				return err
			}
		}
		if err := e.escrow.MarkTransferable(e.address, terms.CollateralContract, terms.CollateralID); err != nil {
			return err
		}
		e.emit(events.Wrap(newObligationMintedEvent(e, terms, caller)))
		return nil
	})
}
