package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	nativecommon "nftlend/native/common"
	"nftlend/native/escrow"
	"nftlend/native/permits"
)

type acceptRequest struct {
	primary      string
	borrower     common.Address
	recipient    common.Address
	offer        Offer
	collateralID *big.Int
	auth         Authorization
}

// AcceptOffer starts a loan from a fixed-id asset offer.
func (e *Engine) AcceptOffer(borrower common.Address, offer Offer, auth Authorization) (uint64, error) {
	if e.kind != KindAsset {
		return 0, ErrWrongOfferKind
	}
	return e.accept(acceptRequest{
		primary:      PrimaryTypeAssetOffer,
		borrower:     borrower,
		recipient:    borrower,
		offer:        offer,
		collateralID: offer.CollateralID,
		auth:         auth,
	})
}

// AcceptCollectionOffer starts a loan against any token of the offered
// collection.
func (e *Engine) AcceptCollectionOffer(borrower common.Address, offer Offer, collateralID *big.Int, auth Authorization) (uint64, error) {
	if e.kind != KindCollection {
		return 0, ErrWrongOfferKind
	}
	return e.accept(acceptRequest{
		primary:      PrimaryTypeCollectionOffer,
		borrower:     borrower,
		recipient:    borrower,
		offer:        offer,
		collateralID: collateralID,
		auth:         auth,
	})
}

// AcceptCollectionOfferWithIDRange starts a loan against a token whose id
// lies within the signed range.
func (e *Engine) AcceptCollectionOfferWithIDRange(borrower common.Address, offer Offer, collateralID *big.Int, auth Authorization) (uint64, error) {
	if e.kind != KindCollection {
		return 0, ErrWrongOfferKind
	}
	return e.accept(acceptRequest{
		primary:      PrimaryTypeCollectionRangeOffer,
		borrower:     borrower,
		recipient:    borrower,
		offer:        offer,
		collateralID: collateralID,
		auth:         auth,
	})
}

// AcceptOnBehalf lets the configured refinancer start a loan for borrower and
// receive the principal itself. withRange selects the id-range mode on
// collection issuers.
func (e *Engine) AcceptOnBehalf(caller, borrower common.Address, offer Offer, collateralID *big.Int, auth Authorization, withRange bool) (uint64, error) {
	if e.refinancer == (common.Address{}) || caller != e.refinancer {
		return 0, ErrNotRefinancer
	}
	req := acceptRequest{
		borrower:     borrower,
		recipient:    caller,
		offer:        offer,
		collateralID: collateralID,
		auth:         auth,
	}
	switch {
	case e.kind == KindAsset:
		req.primary = PrimaryTypeAssetOffer
		req.collateralID = offer.CollateralID
	case withRange:
		req.primary = PrimaryTypeCollectionRangeOffer
	default:
		req.primary = PrimaryTypeCollectionOffer
	}
	return e.accept(req)
}

func (e *Engine) validateOffer(req acceptRequest) error {
	o := req.offer
	if o.Principal == nil || o.Principal.Sign() <= 0 {
		return ErrZeroPrincipal
	}
	if o.MaximumRepayment == nil || o.MaximumRepayment.Cmp(o.Principal) < 0 {
		return ErrNegativeInterestRate
	}
	if o.Duration == 0 {
		return ErrZeroDuration
	}
	if o.Duration > e.cfg.MaxLoanDuration {
		return ErrDurationTooLong
	}
	if o.OriginationFee != nil && (o.OriginationFee.Sign() < 0 || o.OriginationFee.Cmp(o.Principal) >= 0) {
		return ErrOriginationFeeTooHigh
	}
	if o.IsProRata && e.cfg.ProRataDisabled {
		return ErrProRataUnsupported
	}
	if req.collateralID == nil || req.collateralID.Sign() < 0 {
		return ErrIDOutOfRange
	}
	if req.primary == PrimaryTypeCollectionRangeOffer {
		if o.MinID == nil || o.MaxID == nil || o.MinID.Cmp(o.MaxID) > 0 {
			return ErrInvalidIDRange
		}
		if req.collateralID.Cmp(o.MinID) < 0 || req.collateralID.Cmp(o.MaxID) > 0 {
			return ErrIDOutOfRange
		}
	}
	if len(o.AllowedBorrowers) > 0 {
		allowed := false
		for _, addr := range o.AllowedBorrowers {
			if addr == req.borrower {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrBorrowerNotAllowed
		}
	}
	if !e.permits.IsERC20Permitted(o.Denomination) {
		return fmt.Errorf("%w: %s", permits.ErrERC20NotPermitted, o.Denomination.Hex())
	}
	return nil
}

func (e *Engine) verifyAuthorization(hash common.Hash, auth Authorization) error {
	if e.now() > auth.Expiry {
		return ErrSignatureExpired
	}
	if !e.verifier.Verify(auth.Signer, hash, auth.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// spendAuthorization consumes the nonce, or for capped collection offers
// checks it and books the draw against the cap.
func (e *Engine) spendAuthorization(req acceptRequest, offerHash common.Hash) error {
	o := req.offer
	capped := req.primary != PrimaryTypeAssetOffer && o.LiquidityCap != nil && o.LiquidityCap.Sign() > 0
	if !capped {
		return e.coordinator.ConsumeNonce(e.address, req.auth.Signer, req.auth.Nonce)
	}
	if err := e.coordinator.CheckNonce(e.cfg.OfferType, req.auth.Signer, req.auth.Nonce); err != nil {
		return err
	}
	used, err := e.LiquidityUsed(offerHash)
	if err != nil {
		return err
	}
	used.Add(used, o.Principal)
	if used.Cmp(o.LiquidityCap) > 0 {
		return ErrLiquidityCapExceeded
	}
	return e.state.KVPut(capKey(e.address, offerHash), used)
}

func (e *Engine) accept(req acceptRequest) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if err := e.validateOffer(req); err != nil {
		return 0, err
	}
	_, wrapperType, err := e.permits.NFTWrapper(req.offer.CollateralContract)
	if err != nil {
		return 0, err
	}
	offerHash, err := OfferHash(e.Domain(), req.primary, e.cfg.OfferType, req.offer, req.auth)
	if err != nil {
		return 0, err
	}
	if err := e.verifyAuthorization(offerHash, req.auth); err != nil {
		return 0, err
	}

	var loanID uint64
	err = e.state.Atomic(func() error {
		if err := e.spendAuthorization(req, offerHash); err != nil {
			return err
		}
		id, err := e.coordinator.NextLoanID(e.address)
		if err != nil {
			return err
		}
		vault, err := e.escrow.VaultFor(req.borrower)
		if err != nil {
			return err
		}
		terms := &LoanTerms{
			LoanID:             id,
			Principal:          cloneBigInt(req.offer.Principal),
			MaximumRepayment:   cloneBigInt(req.offer.MaximumRepayment),
			Denomination:       req.offer.Denomination,
			CollateralContract: req.offer.CollateralContract,
			CollateralID:       cloneBigInt(req.collateralID),
			WrapperType:        wrapperType,
			Duration:           req.offer.Duration,
			StartTime:          e.now(),
			IsProRata:          req.offer.IsProRata,
			OriginationFee:     cloneBigInt(req.offer.OriginationFee),
			AdminFeeBps:        e.cfg.AdminFeeBps,
			Lender:             req.auth.Signer,
			Borrower:           req.borrower,
			Vault:              vault,
			OfferHash:          offerHash,
		}
		collateral := escrow.Collateral{WrapperType: wrapperType, Contract: terms.CollateralContract, TokenID: terms.CollateralID}
		if err := e.escrow.LockCollateral(e.address, vault, collateral, req.borrower); err != nil {
			return err
		}
		net := new(big.Int).Sub(terms.Principal, terms.OriginationFee)
		if err := e.payments.PayPrincipal(terms.Lender, req.recipient, terms.Denomination, net); err != nil {
			return err
		}
		if err := e.storeTerms(terms); err != nil {
			return err
		}
		if err := e.coordinator.RegisterLoan(e.address, id, req.borrower, terms.Lender, terms.StartTime); err != nil {
			return err
		}
		e.emit(events.Wrap(newLoanStartedEvent(e, terms)))
		loanID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return loanID, nil
}
