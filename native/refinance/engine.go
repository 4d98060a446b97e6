// Package refinance atomically replaces an active loan with a new one. The
// old payoff is borrowed from the flash pool, the old loan is closed through
// the adapter of its issuer, the new loan is started on the borrower's
// behalf and the difference is settled with the borrower before the flash
// loan is repaid.
package refinance

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/flash"
	"nftlend/native/lending"
	"nftlend/native/payments"
	"nftlend/native/swap"
)

const (
	moduleName    = "refinance"
	lendingModule = "lending"
)

var (
	ErrUnknownIssuer      = errors.New("refinance: issuer not registered")
	ErrNotOriginator      = errors.New("refinance: issuer cannot originate refinancing loans")
	ErrNotBorrower        = errors.New("refinance: caller is not the borrower")
	ErrCollateralMismatch = errors.New("refinance: new offer does not cover the loan collateral")
	ErrNoLiquidity        = errors.New("refinance: no flash liquidity for the payoff token")
	errNilState           = errors.New("refinance: state not configured")
	errNotWired           = errors.New("refinance: collaborators not configured")
)

// Address is the refinancing engine's account. It receives the flash loan
// and the new loan's principal.
var Address = crypto.ModuleAddress("refinance")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	RequireRole(role string, addr [20]byte) error
	Atomic(fn func() error) error
	TransferToken(token, from, to common.Address, amount *big.Int) error
	ApproveToken(token, owner, spender common.Address, amount *big.Int) error
}

// FlashLender provides the temporary liquidity.
type FlashLender interface {
	MaxFlashLoan(token common.Address) (*big.Int, error)
	FlashFee(amount *big.Int) (*big.Int, error)
	FlashLoan(borrower common.Address, receiver flash.Receiver, token common.Address, amount *big.Int) error
}

// Swapper converts between the borrowed token and loan denominations.
type Swapper interface {
	QuoteExactInput(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	QuoteExactOutput(tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error)
	SwapExactInput(trader, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, recipient common.Address) (*big.Int, error)
	SwapExactOutput(trader, tokenIn, tokenOut common.Address, amountOut, maxIn *big.Int, recipient common.Address) (*big.Int, error)
}

// Payments pulls deficits from borrowers.
type Payments interface {
	PayPrincipal(payer, recipient, token common.Address, amount *big.Int) error
}

// Originator is an issuer that can start loans for the engine.
type Originator interface {
	Issuer
	Kind() lending.Kind
	AcceptOnBehalf(caller, borrower common.Address, offer lending.Offer, collateralID *big.Int, auth lending.Authorization, withRange bool) (uint64, error)
}

// Request names the loan to close and the signed offer to open instead.
type Request struct {
	OldIssuer common.Address
	OldLoanID uint64
	NewIssuer common.Address
	Offer     lending.Offer
	// CollateralID is ignored by asset issuers, which use Offer.CollateralID.
	CollateralID *big.Int
	WithRange    bool
	Auth         lending.Authorization
}

// Result describes a completed refinance. Deficit is positive when the
// borrower paid in and negative when the borrower received a surplus.
type Result struct {
	NewLoanID   uint64
	BorrowToken common.Address
	Borrowed    *big.Int
	FlashFee    *big.Int
	Deficit     *big.Int
}

// Engine is the refinancing engine.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	adminRole string
	fallback  common.Address
	issuers   map[common.Address]Issuer
	flash     FlashLender
	swap      Swapper
	payments  Payments
	borrowers BorrowerRegistry
}

// NewEngine returns an engine that borrows fallbackToken when the flash
// pool cannot lend the old loan's denomination.
func NewEngine(adminRole string, fallbackToken common.Address) *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		adminRole: adminRole,
		fallback:  fallbackToken,
		issuers:   make(map[common.Address]Issuer),
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(pauses nativecommon.PauseView) { e.pauses = pauses }

// SetCollaborators wires the flash pool, the swap venue and the transfer
// manager.
func (e *Engine) SetCollaborators(f FlashLender, s Swapper, p Payments) {
	e.flash = f
	e.swap = s
	e.payments = p
}

// SetBorrowerRegistry wires the loan registry legacy adapters use to find the
// current obligation holder.
func (e *Engine) SetBorrowerRegistry(reg BorrowerRegistry) { e.borrowers = reg }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.flash == nil || e.swap == nil || e.payments == nil {
		return errNotWired
	}
	return nil
}

// RegisterIssuer makes an issuer deployment reachable by its address.
func (e *Engine) RegisterIssuer(issuer Issuer) {
	if issuer == nil {
		return
	}
	e.issuers[issuer.Address()] = issuer
}

func adapterKey(issuer common.Address) []byte {
	return []byte(fmt.Sprintf("refinance/adapter/%x", issuer))
}

// SetAdapterType selects the adapter variant used to close loans of issuer.
// Admin only.
func (e *Engine) SetAdapterType(caller, issuer common.Address, tag string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.state.RequireRole(e.adminRole, caller); err != nil {
		return err
	}
	impl, ok := e.issuers[issuer]
	if !ok {
		return ErrUnknownIssuer
	}
	if _, err := NewAdapter(tag, impl, e.borrowers); err != nil {
		return err
	}
	if err := e.state.KVPut(adapterKey(issuer), normalizeTag(tag)); err != nil {
		return err
	}
	e.emit(events.Wrap(newAdapterSetEvent(issuer, normalizeTag(tag))))
	return nil
}

// AdapterType returns the adapter tag configured for issuer.
func (e *Engine) AdapterType(issuer common.Address) (string, bool, error) {
	if e == nil || e.state == nil {
		return "", false, errNilState
	}
	var tag string
	ok, err := e.state.KVGet(adapterKey(issuer), &tag)
	if err != nil {
		return "", false, err
	}
	return tag, ok, nil
}

func (e *Engine) adapterFor(issuer common.Address) (Adapter, error) {
	impl, ok := e.issuers[issuer]
	if !ok {
		return nil, ErrUnknownIssuer
	}
	tag, ok, err := e.AdapterType(issuer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: none configured for %s", ErrUnknownAdapter, issuer.Hex())
	}
	return NewAdapter(tag, impl, e.borrowers)
}

func (e *Engine) originator(issuer common.Address) (Originator, error) {
	impl, ok := e.issuers[issuer]
	if !ok {
		return nil, ErrUnknownIssuer
	}
	o, ok := impl.(Originator)
	if !ok {
		return nil, ErrNotOriginator
	}
	return o, nil
}

// planBorrow picks the token and amount to flash-borrow so that payoff of
// payoffToken can be paid.
func (e *Engine) planBorrow(payoffToken common.Address, payoff *big.Int) (common.Address, *big.Int, error) {
	available, err := e.flash.MaxFlashLoan(payoffToken)
	if err != nil {
		return common.Address{}, nil, err
	}
	if available.Cmp(payoff) >= 0 {
		return payoffToken, new(big.Int).Set(payoff), nil
	}
	if e.fallback == (common.Address{}) || e.fallback == payoffToken {
		return common.Address{}, nil, ErrNoLiquidity
	}
	needed, err := e.swap.QuoteExactOutput(e.fallback, payoffToken, payoff)
	if err != nil {
		return common.Address{}, nil, err
	}
	return e.fallback, needed, nil
}

// RefinanceLoan closes the loan named by req and starts a new one from the
// signed offer, all in one unit of work. The caller must be the borrower of
// the old loan and must have authorised the new loan's vault to take the
// collateral and the transfer manager to pull any deficit.
func (e *Engine) RefinanceLoan(caller common.Address, req Request) (*Result, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName, lendingModule); err != nil {
		return nil, err
	}
	adapter, err := e.adapterFor(req.OldIssuer)
	if err != nil {
		return nil, err
	}
	originator, err := e.originator(req.NewIssuer)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = e.state.Atomic(func() error {
		borrower, err := adapter.BorrowerAddress(req.OldLoanID)
		if err != nil {
			return err
		}
		if caller != borrower {
			return ErrNotBorrower
		}
		contract, id, err := adapter.Collateral(req.OldLoanID)
		if err != nil {
			return err
		}
		if req.Offer.CollateralContract != contract {
			return ErrCollateralMismatch
		}
		if originator.Kind() == lending.KindAsset && (req.Offer.CollateralID == nil || req.Offer.CollateralID.Cmp(id) != 0) {
			return ErrCollateralMismatch
		}
		if req.CollateralID != nil && req.CollateralID.Cmp(id) != 0 {
			return ErrCollateralMismatch
		}
		oldToken, payoff, err := adapter.PayoffDetails(req.OldLoanID)
		if err != nil {
			return err
		}
		borrowToken, borrowAmount, err := e.planBorrow(oldToken, payoff)
		if err != nil {
			return err
		}
		res := &Result{BorrowToken: borrowToken, Borrowed: borrowAmount}
		step := &refinanceStep{
			engine:     e,
			req:        req,
			adapter:    adapter,
			originator: originator,
			borrower:   borrower,
			collateral: id,
			oldToken:   oldToken,
			payoff:     payoff,
			result:     res,
		}
		if err := e.flash.FlashLoan(Address, flash.ReceiverFunc(step.run), borrowToken, borrowAmount); err != nil {
			return err
		}
		e.emit(events.Wrap(newRefinancedEvent(req, res)))
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// refinanceStep is the work done while the flash loan is outstanding.
type refinanceStep struct {
	engine     *Engine
	req        Request
	adapter    Adapter
	originator Originator
	borrower   common.Address
	collateral *big.Int
	oldToken   common.Address
	payoff     *big.Int
	result     *Result
}

func (s *refinanceStep) run(borrowToken common.Address, amount, fee *big.Int) error {
	e := s.engine
	s.result.FlashFee = fee

	if borrowToken != s.oldToken {
		if err := e.state.ApproveToken(borrowToken, Address, swap.Address, amount); err != nil {
			return err
		}
		if _, err := e.swap.SwapExactOutput(Address, borrowToken, s.oldToken, s.payoff, amount, Address); err != nil {
			return err
		}
	}
	if err := e.state.ApproveToken(s.oldToken, Address, payments.Address, s.payoff); err != nil {
		return err
	}
	if err := s.adapter.RepayOnBehalf(Address, s.req.OldLoanID); err != nil {
		return err
	}

	newLoanID, err := s.originator.AcceptOnBehalf(Address, s.borrower, s.req.Offer, s.collateral, s.req.Auth, s.req.WithRange)
	if err != nil {
		return err
	}
	s.result.NewLoanID = newLoanID
	terms, err := s.originator.LoanTerms(newLoanID)
	if err != nil {
		return err
	}
	received := new(big.Int).Set(terms.Principal)
	if terms.OriginationFee != nil {
		received.Sub(received, terms.OriginationFee)
	}

	proceeds := received
	if terms.Denomination != borrowToken {
		// The settlement uses the pre-trade quote; actual swap output is not
		// compared against it.
		quoted, err := e.swap.QuoteExactInput(terms.Denomination, borrowToken, received)
		if err != nil {
			return err
		}
		if err := e.state.ApproveToken(terms.Denomination, Address, swap.Address, received); err != nil {
			return err
		}
		if _, err := e.swap.SwapExactInput(Address, terms.Denomination, borrowToken, received, nil, Address); err != nil {
			return err
		}
		proceeds = quoted
	}

	owed := new(big.Int).Add(amount, fee)
	deficit := new(big.Int).Sub(owed, proceeds)
	switch deficit.Sign() {
	case 1:
		if err := e.payments.PayPrincipal(s.borrower, Address, borrowToken, deficit); err != nil {
			return err
		}
	case -1:
		if err := e.state.TransferToken(borrowToken, Address, s.borrower, new(big.Int).Neg(deficit)); err != nil {
			return err
		}
	}
	s.result.Deficit = deficit
	return e.state.ApproveToken(borrowToken, Address, flash.Address, owed)
}
