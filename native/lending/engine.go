// Package lending implements the loan issuer: the state machine that accepts
// signed offers, locks collateral, disburses principal and later settles the
// loan by repayment, liquidation or renegotiation.
package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	"nftlend/native/assets"
	nativecommon "nftlend/native/common"
	"nftlend/native/coordinator"
	"nftlend/native/escrow"
	"nftlend/native/signing"
)

var (
	ErrNegativeInterestRate  = errors.New("lending: negative interest rate loans are not allowed")
	ErrZeroPrincipal         = errors.New("lending: principal must be positive")
	ErrZeroDuration          = errors.New("lending: duration must be positive")
	ErrDurationTooLong       = errors.New("lending: duration exceeds maximum")
	ErrOriginationFeeTooHigh = errors.New("lending: origination fee must be below principal")
	ErrProRataUnsupported    = errors.New("lending: pro-rata loans not supported by this issuer")
	ErrBorrowerNotAllowed    = errors.New("lending: borrower not allowed")
	ErrInvalidIDRange        = errors.New("lending: invalid id range")
	ErrIDOutOfRange          = errors.New("lending: collateral id outside signed range")
	ErrLiquidityCapExceeded  = errors.New("lending: liquidity cap exceeded")
	ErrInvalidSignature      = errors.New("lending: invalid lender signature")
	ErrSignatureExpired      = errors.New("lending: lender signature expired")
	ErrWrongOfferKind        = errors.New("lending: offer mode not served by this issuer")
	ErrLoanNotActive         = errors.New("lending: loan not active")
	ErrLoanExpired           = errors.New("lending: loan expired")
	ErrLoanNotOverdue        = errors.New("lending: loan not overdue")
	ErrNotClaimOwner         = errors.New("lending: caller is not the claim owner")
	ErrNotBorrower           = errors.New("lending: caller is not the borrower")
	ErrWrongIssuer           = errors.New("lending: loan originated by another issuer")
	ErrNewDurationExpired    = errors.New("lending: new duration already elapsed")
	ErrNegativeFee           = errors.New("lending: fee must not be negative")
	ErrNotRefinancer         = errors.New("lending: caller may not accept on behalf of borrowers")
	errNilState              = errors.New("lending: state not configured")
	errNotWired              = errors.New("lending: collaborators not configured")
)

const moduleName = "lending"

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Atomic(fn func() error) error
}

// Coordinator is the loan coordinator capability used by issuers.
type Coordinator interface {
	ConsumeNonce(issuer, signer common.Address, nonce uint64) error
	CheckNonce(offerType string, signer common.Address, nonce uint64) error
	NextLoanID(issuer common.Address) (uint64, error)
	RegisterLoan(issuer common.Address, loanID uint64, borrower, claimOwner common.Address, startTime uint64) error
	MintClaimToken(issuer common.Address, loanID uint64, to common.Address) error
	MintObligationToken(issuer common.Address, loanID uint64, to common.Address) error
	ResetOwnership(issuer common.Address, loanID uint64, borrower common.Address) error
	ResolveLoan(issuer common.Address, loanID uint64, liquidated bool) error
	GetLoanData(loanID uint64) (*coordinator.Loan, error)
	ClaimHolder(loanID uint64) (common.Address, error)
	CurrentBorrower(loanID uint64) (common.Address, error)
}

// Escrow is the collateral custody capability used by issuers.
type Escrow interface {
	VaultFor(borrower common.Address) (common.Address, error)
	Vault(addr common.Address) (*escrow.Vault, error)
	LockCollateral(issuer, vault common.Address, c escrow.Collateral, borrower common.Address) error
	UnlockCollateral(issuer, contract common.Address, id *big.Int, recipient common.Address) error
	HandOverLoan(issuer, contract common.Address, id *big.Int, newIssuer, toVault common.Address) error
	MarkTransferable(issuer, contract common.Address, id *big.Int) error
}

// Payments is the asset transfer capability used by issuers.
type Payments interface {
	PayPrincipal(payer, recipient, token common.Address, amount *big.Int) error
	PayRepayment(payer, recipient, token common.Address, amount *big.Int, safe bool) error
}

// Permits answers the two allow-list questions issuers ask.
type Permits interface {
	NFTWrapper(contract common.Address) (assets.Wrapper, string, error)
	IsERC20Permitted(token common.Address) bool
}

// Verifier validates lender signatures.
type Verifier interface {
	Verify(signer common.Address, hash common.Hash, signature []byte) bool
}

// Engine is a loan issuer serving one offer type.
type Engine struct {
	address     common.Address
	kind        Kind
	cfg         Config
	state       engineState
	coordinator Coordinator
	escrow      Escrow
	payments    Payments
	permits     Permits
	verifier    Verifier
	pauses      nativecommon.PauseView
	emitter     events.Emitter
	nowFn       func() int64
	refinancer  common.Address
}

// NewEngine constructs an issuer deployed at address.
func NewEngine(address common.Address, kind Kind, cfg Config) *Engine {
	return &Engine{
		address: address,
		kind:    kind,
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// Address returns the issuer's account, used as its identity towards the
// coordinator, the escrow and the signature domain.
func (e *Engine) Address() common.Address { return e.address }

// Kind reports which acceptance entry points the issuer serves.
func (e *Engine) Kind() Kind { return e.kind }

// OfferType returns the offer type the issuer is registered under.
func (e *Engine) OfferType() string { return e.cfg.OfferType }

// Config returns the issuer configuration.
func (e *Engine) Config() Config { return e.cfg }

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCollaborators wires the components the issuer drives.
func (e *Engine) SetCollaborators(c Coordinator, esc Escrow, p Payments, permits Permits, v Verifier) {
	e.coordinator = c
	e.escrow = esc
	e.payments = p
	e.permits = permits
	e.verifier = v
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetRefinancer allows addr to accept offers on behalf of borrowers.
func (e *Engine) SetRefinancer(addr common.Address) { e.refinancer = addr }

// SetEmitter configures the event emitter. Passing nil discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
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
	if e.coordinator == nil || e.escrow == nil || e.payments == nil || e.permits == nil || e.verifier == nil {
		return errNotWired
	}
	return nil
}

// Domain is the signature domain of this issuer.
func (e *Engine) Domain() signing.Domain {
	return signing.Domain{ChainID: e.cfg.ChainID, VerifyingContract: e.address}
}

func termsKey(issuer common.Address, loanID uint64) []byte {
	return []byte(fmt.Sprintf("lending/terms/%x/%d", issuer, loanID))
}

func capKey(issuer common.Address, offerHash common.Hash) []byte {
	return []byte(fmt.Sprintf("lending/cap/%x/%x", issuer, offerHash))
}

// LoanTerms returns the stored terms of a loan originated by this issuer.
func (e *Engine) LoanTerms(loanID uint64) (*LoanTerms, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var terms LoanTerms
	ok, err := e.state.KVGet(termsKey(e.address, loanID), &terms)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coordinator.ErrInvalidLoanID
	}
	return &terms, nil
}

func (e *Engine) storeTerms(t *LoanTerms) error {
	return e.state.KVPut(termsKey(e.address, t.LoanID), t)
}

// LiquidityUsed returns the cumulative principal drawn under a capped offer.
func (e *Engine) LiquidityUsed(offerHash common.Hash) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	used := new(big.Int)
	if _, err := e.state.KVGet(capKey(e.address, offerHash), used); err != nil {
		return nil, err
	}
	return used, nil
}
