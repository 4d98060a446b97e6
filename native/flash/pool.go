// Package flash lends pool liquidity for the duration of one synchronous
// callback. The borrowed amount plus fee is pulled back before FlashLoan
// returns; if that fails the whole unit of work is reverted.
package flash

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/fees"
)

const moduleName = "flash"

var (
	ErrInsufficientLiquidity = errors.New("flash: insufficient liquidity")
	ErrInvalidAmount         = errors.New("flash: amount must be positive")
	ErrNilReceiver           = errors.New("flash: receiver required")
	ErrCallbackFailed        = errors.New("flash: receiver callback failed")
	ErrRepaymentFailed       = errors.New("flash: repayment failed")
	errNilState              = errors.New("flash: state not configured")
)

// Address holds pool liquidity.
var Address = crypto.ModuleAddress("flash-pool")

// Receiver is invoked with the borrowed funds already credited to the
// borrower. Before returning it must leave amount+fee with the borrower and
// an allowance for the pool to pull it.
type Receiver interface {
	OnFlashLoan(token common.Address, amount, fee *big.Int) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(token common.Address, amount, fee *big.Int) error

func (f ReceiverFunc) OnFlashLoan(token common.Address, amount, fee *big.Int) error {
	return f(token, amount, fee)
}

type poolState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	RequireRole(role string, addr [20]byte) error
	Atomic(fn func() error) error
	TokenBalance(token, holder common.Address) (*big.Int, error)
	TransferToken(token, from, to common.Address, amount *big.Int) error
	TransferTokenFrom(token, spender, from, to common.Address, amount *big.Int) error
}

// Pool is the flash liquidity facility.
type Pool struct {
	state     poolState
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	adminRole string
	feeBps    uint32
}

// NewPool returns a pool charging feeBps on every loan unless overridden in
// state by SetFeeBps.
func NewPool(adminRole string, feeBps uint32) *Pool {
	return &Pool{emitter: events.NoopEmitter{}, adminRole: adminRole, feeBps: feeBps}
}

func (p *Pool) SetState(state poolState) { p.state = state }

func (p *Pool) SetPauses(pauses nativecommon.PauseView) { p.pauses = pauses }

func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

func (p *Pool) emit(evt events.Event) {
	if p.emitter != nil {
		p.emitter.Emit(evt)
	}
}

func (p *Pool) ready() error {
	if p == nil || p.state == nil {
		return errNilState
	}
	return nil
}

var feeKey = []byte("flash/fee-bps")

// FeeBps returns the current fee rate.
func (p *Pool) FeeBps() (uint32, error) {
	if err := p.ready(); err != nil {
		return 0, err
	}
	var bps uint32
	ok, err := p.state.KVGet(feeKey, &bps)
	if err != nil {
		return 0, err
	}
	if !ok {
		return p.feeBps, nil
	}
	return bps, nil
}

// SetFeeBps updates the fee rate. Admin only.
func (p *Pool) SetFeeBps(caller common.Address, bps uint32) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.state.RequireRole(p.adminRole, caller); err != nil {
		return err
	}
	if err := fees.Validate(bps); err != nil {
		return err
	}
	return p.state.KVPut(feeKey, bps)
}

// MaxFlashLoan returns the liquidity available for token.
func (p *Pool) MaxFlashLoan(token common.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.state.TokenBalance(token, Address)
}

// FlashFee returns the fee charged for borrowing amount.
func (p *Pool) FlashFee(amount *big.Int) (*big.Int, error) {
	bps, err := p.FeeBps()
	if err != nil {
		return nil, err
	}
	return fees.FeeOn(amount, bps), nil
}

// Fund moves provider's tokens into the pool. The provider must have granted
// the pool an allowance.
func (p *Pool) Fund(provider, token common.Address, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := p.state.TransferTokenFrom(token, Address, provider, Address, amount); err != nil {
		return err
	}
	p.emit(events.Wrap(newPoolEvent(EventTypeFunded, provider, token, amount, nil)))
	return nil
}

// Withdraw returns pool liquidity to an administrator-chosen account.
func (p *Pool) Withdraw(caller, token, to common.Address, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.state.RequireRole(p.adminRole, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := p.state.TransferToken(token, Address, to, amount); err != nil {
		return err
	}
	p.emit(events.Wrap(newPoolEvent(EventTypeWithdrawn, to, token, amount, nil)))
	return nil
}

// FlashLoan credits amount of token to borrower, invokes receiver, then pulls
// amount plus fee back from borrower.
func (p *Pool) FlashLoan(borrower common.Address, receiver Receiver, token common.Address, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return err
	}
	if receiver == nil {
		return ErrNilReceiver
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fee, err := p.FlashFee(amount)
	if err != nil {
		return err
	}
	return p.state.Atomic(func() error {
		available, err := p.state.TokenBalance(token, Address)
		if err != nil {
			return err
		}
		if available.Cmp(amount) < 0 {
			return ErrInsufficientLiquidity
		}
		if err := p.state.TransferToken(token, Address, borrower, amount); err != nil {
			return err
		}
		if err := receiver.OnFlashLoan(token, new(big.Int).Set(amount), new(big.Int).Set(fee)); err != nil {
			return fmt.Errorf("%w: %w", ErrCallbackFailed, err)
		}
		owed := new(big.Int).Add(amount, fee)
		if err := p.state.TransferTokenFrom(token, Address, borrower, Address, owed); err != nil {
			return fmt.Errorf("%w: %w", ErrRepaymentFailed, err)
		}
		p.emit(events.Wrap(newPoolEvent(EventTypeFlashLoan, borrower, token, amount, fee)))
		return nil
	})
}
