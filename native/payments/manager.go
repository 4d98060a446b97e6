// Package payments executes every fungible movement of the lending protocol.
// Repayment-side pushes may fall back to a claimable escrowed balance when the
// recipient cannot currently receive the token.
package payments

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	"nftlend/crypto"
)

var (
	ErrNoTokensInEscrow = errors.New("payments: no tokens in escrow")
	ErrTokensInEscrow   = errors.New("payments: drain would touch escrowed tokens")
	ErrInvalidAmount    = errors.New("payments: amount must be positive")
	errNilState         = errors.New("payments: state not configured")
)

// Address is the account holding in-flight and escrowed funds.
var Address = crypto.ModuleAddress("transfer-manager")

type managerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	RequireRole(role string, addr [20]byte) error
	Atomic(fn func() error) error
	TokenBalance(token, holder common.Address) (*big.Int, error)
	TransferToken(token, from, to common.Address, amount *big.Int) error
	TransferTokenFrom(token, spender, from, to common.Address, amount *big.Int) error
}

// Manager is the asset transfer manager. Payers authorise it once through a
// token allowance.
type Manager struct {
	state     managerState
	emitter   events.Emitter
	adminRole string
}

// NewManager returns a transfer manager whose recovery operation is gated by
// adminRole.
func NewManager(adminRole string) *Manager {
	return &Manager{emitter: events.NoopEmitter{}, adminRole: adminRole}
}

// SetState configures the state backend.
func (m *Manager) SetState(state managerState) { m.state = state }

// SetEmitter configures the event emitter. Passing nil discards events.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func (m *Manager) emit(evt events.Event) {
	if m.emitter != nil {
		m.emitter.Emit(evt)
	}
}

func escrowedKey(recipient, token common.Address) []byte {
	return []byte(fmt.Sprintf("payments/escrowed/%x/%x", recipient, token))
}

func totalKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("payments/escrowed-total/%x", token))
}

func (m *Manager) loadAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.state.KVGet(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) storeAmount(key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return m.state.KVDelete(key)
	}
	return m.state.KVPut(key, amount)
}

// PayPrincipal moves a principal-side amount from payer to recipient. Any
// failure aborts the caller.
func (m *Manager) PayPrincipal(payer, recipient, token common.Address, amount *big.Int) error {
	return m.pay(payer, recipient, token, amount, false)
}

// PayRepayment moves a repayment-side amount. In safe mode a failed push to
// recipient is credited to its escrowed balance instead of failing.
func (m *Manager) PayRepayment(payer, recipient, token common.Address, amount *big.Int, safe bool) error {
	return m.pay(payer, recipient, token, amount, safe)
}

func (m *Manager) pay(payer, recipient, token common.Address, amount *big.Int, safe bool) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	return m.state.Atomic(func() error {
		if payer != Address {
			if err := m.state.TransferTokenFrom(token, Address, payer, Address, amount); err != nil {
				return fmt.Errorf("payments: pull from payer: %w", err)
			}
		}
		pushErr := m.state.Atomic(func() error {
			return m.state.TransferToken(token, Address, recipient, amount)
		})
		if pushErr == nil {
			m.emit(events.Wrap(newPaymentEvent(EventTypePaid, payer, recipient, token, amount)))
			return nil
		}
		if !safe {
			return fmt.Errorf("payments: push to recipient: %w", pushErr)
		}
		return m.credit(recipient, token, amount, pushErr)
	})
}

func (m *Manager) credit(recipient, token common.Address, amount *big.Int, cause error) error {
	balance, err := m.loadAmount(escrowedKey(recipient, token))
	if err != nil {
		return err
	}
	total, err := m.loadAmount(totalKey(token))
	if err != nil {
		return err
	}
	if err := m.storeAmount(escrowedKey(recipient, token), balance.Add(balance, amount)); err != nil {
		return err
	}
	if err := m.storeAmount(totalKey(token), total.Add(total, amount)); err != nil {
		return err
	}
	evt := newPaymentEvent(EventTypeEscrowed, Address, recipient, token, amount)
	evt.Attributes["reason"] = cause.Error()
	m.emit(events.Wrap(evt))
	return nil
}

// EscrowedBalance returns recipient's claimable balance of token.
func (m *Manager) EscrowedBalance(recipient, token common.Address) (*big.Int, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	return m.loadAmount(escrowedKey(recipient, token))
}

// TotalEscrowed returns the sum of all escrowed balances of token.
func (m *Manager) TotalEscrowed(token common.Address) (*big.Int, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	return m.loadAmount(totalKey(token))
}

// GetEscrowedPayBack withdraws caller's escrowed balance of token. The
// balance is zeroed only if the transfer succeeds.
func (m *Manager) GetEscrowedPayBack(caller, token common.Address) (*big.Int, error) {
	balance, err := m.EscrowedBalance(caller, token)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return nil, ErrNoTokensInEscrow
	}
	err = m.state.Atomic(func() error {
		total, err := m.loadAmount(totalKey(token))
		if err != nil {
			return err
		}
		if err := m.storeAmount(escrowedKey(caller, token), big.NewInt(0)); err != nil {
			return err
		}
		if err := m.storeAmount(totalKey(token), total.Sub(total, balance)); err != nil {
			return err
		}
		if err := m.state.TransferToken(token, Address, caller, balance); err != nil {
			return err
		}
		m.emit(events.Wrap(newPaymentEvent(EventTypeWithdrawn, Address, caller, token, balance)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// DrainERC20Airdrop lets an administrator recover tokens sent to the manager
// that are not owed to anyone.
func (m *Manager) DrainERC20Airdrop(caller, token, to common.Address, amount *big.Int) error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if err := m.state.RequireRole(m.adminRole, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := m.state.TokenBalance(token, Address)
	if err != nil {
		return err
	}
	total, err := m.TotalEscrowed(token)
	if err != nil {
		return err
	}
	if new(big.Int).Sub(balance, amount).Cmp(total) < 0 {
		return ErrTokensInEscrow
	}
	if err := m.state.TransferToken(token, Address, to, amount); err != nil {
		return err
	}
	m.emit(events.Wrap(newPaymentEvent(EventTypeDrained, Address, to, token, amount)))
	return nil
}
