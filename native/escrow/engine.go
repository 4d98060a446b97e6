// Package escrow custodies loan collateral. One engine serves the global vault
// and every personal vault; the lock table is shared so an asset can be
// locked at most once whichever vault holds it.
package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftlend/core/events"
	"nftlend/crypto"
	"nftlend/native/assets"
)

var (
	ErrAlreadyLocked          = errors.New("escrow: collateral already locked")
	ErrNotLocked              = errors.New("escrow: collateral not locked")
	ErrNotLockingIssuer       = errors.New("escrow: caller is not the locking issuer")
	ErrUnregisteredIssuer     = errors.New("escrow: caller is not a registered issuer")
	ErrCollateralNotInCustody = errors.New("escrow: collateral not held by vault")
	ErrTokenIsCollateral      = errors.New("escrow: token is collateral")
	ErrNotVaultOwner          = errors.New("escrow: caller is not the vault owner")
	ErrUnknownVault           = errors.New("escrow: unknown vault")
	ErrPluginsDisabled        = errors.New("escrow: plugins disabled for personal escrow")
	ErrPluginNotEnabled       = errors.New("escrow: plugin not enabled")
	ErrNotBorrower            = errors.New("escrow: caller is not the borrower")
	ErrDelegationLocked       = errors.New("escrow: collateral rights are transferable")
	ErrNoDelegation           = errors.New("escrow: no delegation")
	ErrFactoryPaused          = errors.New("escrow: personal escrow factory paused")
	ErrPersonalEscrowExists   = errors.New("escrow: personal escrow already exists")
	errNilState               = errors.New("escrow: state not configured")
)

// GlobalVault is the shared escrow account.
var GlobalVault = crypto.ModuleAddress("escrow")

type engineState interface {
	assets.Ledger
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	HasRole(role string, addr [20]byte) bool
	RequireRole(role string, addr [20]byte) error
	Atomic(fn func() error) error
	TokenBalance(token, holder common.Address) (*big.Int, error)
	TransferToken(token, from, to common.Address, amount *big.Int) error
}

// IssuerRegistry reports which accounts may lock collateral.
type IssuerRegistry interface {
	IsRegisteredIssuer(addr common.Address) bool
}

// Engine implements lock, unlock, hand-over, delegation and recovery across
// the global and personal vaults.
type Engine struct {
	state     engineState
	issuers   IssuerRegistry
	emitter   events.Emitter
	adminRole string
}

// NewEngine creates an escrow engine with a no-op emitter. Holders of
// adminRole own the global vault.
func NewEngine(adminRole string) *Engine {
	return &Engine{emitter: events.NoopEmitter{}, adminRole: adminRole}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetIssuerRegistry configures the registry consulted by LockCollateral.
func (e *Engine) SetIssuerRegistry(reg IssuerRegistry) { e.issuers = reg }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func lockKey(contract common.Address, id *big.Int) []byte {
	return []byte(fmt.Sprintf("escrow/lock/%x/%x", contract, cloneID(id).Bytes()))
}

func delegationKey(contract common.Address, id *big.Int) []byte {
	return []byte(fmt.Sprintf("escrow/delegation/%x/%x", contract, cloneID(id).Bytes()))
}

func pluginKey(plugin common.Address) []byte {
	return []byte(fmt.Sprintf("escrow/plugin/%x", plugin))
}

func personalKey(owner common.Address) []byte {
	return []byte(fmt.Sprintf("escrow/personal/owner/%x", owner))
}

func vaultKey(vault common.Address) []byte {
	return []byte(fmt.Sprintf("escrow/personal/vault/%x", vault))
}

var factoryPausedKey = []byte("escrow/factory/paused")

// PersonalVaultAddress derives the account of owner's personal escrow.
func PersonalVaultAddress(owner common.Address) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("nftlend/personal-escrow"), owner.Bytes())[12:])
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// Vault resolves a vault address.
func (e *Engine) Vault(addr common.Address) (*Vault, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if addr == GlobalVault {
		return &Vault{Address: GlobalVault}, nil
	}
	var v Vault
	ok, err := e.state.KVGet(vaultKey(addr), &v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownVault
	}
	return &v, nil
}

func (e *Engine) requireVaultOwner(caller common.Address, v *Vault) error {
	if v.Personal {
		if caller != v.Owner {
			return ErrNotVaultOwner
		}
		return nil
	}
	if !e.state.HasRole(e.adminRole, caller) {
		return ErrNotVaultOwner
	}
	return nil
}

// VaultFor returns the vault a new loan of borrower locks into: the
// borrower's personal escrow when one exists, the global vault otherwise.
func (e *Engine) VaultFor(borrower common.Address) (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	addr, ok, err := e.PersonalEscrowOf(borrower)
	if err != nil {
		return common.Address{}, err
	}
	if ok {
		return addr, nil
	}
	return GlobalVault, nil
}

// Lock returns the lock record of an asset, if any.
func (e *Engine) Lock(contract common.Address, id *big.Int) (*Lock, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	var lock Lock
	ok, err := e.state.KVGet(lockKey(contract, id), &lock)
	if err != nil || !ok {
		return nil, false, err
	}
	return &lock, true, nil
}

// IsLocked reports whether the asset is currently locked collateral.
func (e *Engine) IsLocked(contract common.Address, id *big.Int) (bool, error) {
	_, ok, err := e.Lock(contract, id)
	return ok, err
}

// LockCollateral pulls the asset from borrower into vault and records issuer
// as the locking issuer. The borrower must have authorised the vault through
// the collectible's own approval surface.
func (e *Engine) LockCollateral(issuer, vault common.Address, c Collateral, borrower common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.issuers == nil || !e.issuers.IsRegisteredIssuer(issuer) {
		return ErrUnregisteredIssuer
	}
	if _, err := e.Vault(vault); err != nil {
		return err
	}
	wrapper, err := assets.ForType(c.WrapperType)
	if err != nil {
		return err
	}
	if locked, err := e.IsLocked(c.Contract, c.TokenID); err != nil {
		return err
	} else if locked {
		return ErrAlreadyLocked
	}
	lock := &Lock{
		Vault:       vault,
		Issuer:      issuer,
		Borrower:    borrower,
		WrapperType: wrapper.Standard(),
		Contract:    c.Contract,
		TokenID:     cloneID(c.TokenID),
	}
	return e.state.Atomic(func() error {
		// collateral always comes from the borrower, never from vault stock
		if err := wrapper.Transfer(e.state, vault, borrower, vault, c.Contract, c.TokenID); err != nil {
			return fmt.Errorf("escrow: pull collateral: %w", err)
		}
		if err := e.state.KVPut(lockKey(c.Contract, c.TokenID), lock); err != nil {
			return err
		}
		e.emit(events.Wrap(newLockEvent(EventTypeCollateralLocked, lock)))
		return nil
	})
}

func (e *Engine) issuerLock(issuer, contract common.Address, id *big.Int) (*Lock, error) {
	lock, ok, err := e.Lock(contract, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotLocked
	}
	if lock.Issuer != issuer {
		return nil, ErrNotLockingIssuer
	}
	return lock, nil
}

func (e *Engine) checkCustody(lock *Lock) (assets.Wrapper, error) {
	wrapper, err := assets.ForType(lock.WrapperType)
	if err != nil {
		return nil, err
	}
	held, err := wrapper.IsOwner(e.state, lock.Vault, lock.Contract, lock.TokenID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, ErrCollateralNotInCustody
	}
	return wrapper, nil
}

// UnlockCollateral releases the asset to recipient. Only the locking issuer
// may unlock. Any delegation on the asset is revoked.
func (e *Engine) UnlockCollateral(issuer, contract common.Address, id *big.Int, recipient common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	lock, err := e.issuerLock(issuer, contract, id)
	if err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		wrapper, err := e.checkCustody(lock)
		if err != nil {
			return err
		}
		if err := e.revokeDelegation(lock); err != nil {
			return err
		}
		if err := e.state.KVDelete(lockKey(contract, id)); err != nil {
			return err
		}
		if err := wrapper.Transfer(e.state, lock.Vault, lock.Vault, recipient, contract, id); err != nil {
			return fmt.Errorf("escrow: release collateral: %w", err)
		}
		e.emit(events.Wrap(newUnlockEvent(lock, recipient)))
		return nil
	})
}

// HandOverLoan moves a lock to newIssuer and, when toVault differs, moves
// the asset into toVault. Custody is re-checked before anything moves.
func (e *Engine) HandOverLoan(issuer, contract common.Address, id *big.Int, newIssuer, toVault common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	lock, err := e.issuerLock(issuer, contract, id)
	if err != nil {
		return err
	}
	if e.issuers == nil || !e.issuers.IsRegisteredIssuer(newIssuer) {
		return ErrUnregisteredIssuer
	}
	if _, err := e.Vault(toVault); err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		wrapper, err := e.checkCustody(lock)
		if err != nil {
			return err
		}
		if err := e.revokeDelegation(lock); err != nil {
			return err
		}
		if toVault != lock.Vault {
			if err := wrapper.Transfer(e.state, lock.Vault, lock.Vault, toVault, contract, id); err != nil {
				return fmt.Errorf("escrow: hand over collateral: %w", err)
			}
			lock.Vault = toVault
		}
		lock.Issuer = newIssuer
		if err := e.state.KVPut(lockKey(contract, id), lock); err != nil {
			return err
		}
		e.emit(events.Wrap(newLockEvent(EventTypeLoanHandedOver, lock)))
		return nil
	})
}

// MarkTransferable records that the loan's obligation token exists: current
// delegations are revoked and no new ones may be created.
func (e *Engine) MarkTransferable(issuer, contract common.Address, id *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	lock, err := e.issuerLock(issuer, contract, id)
	if err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		if err := e.revokeDelegation(lock); err != nil {
			return err
		}
		lock.Transferable = true
		return e.state.KVPut(lockKey(contract, id), lock)
	})
}

// --- plugins and delegation ---

// AddPlugin enables a delegation plugin on vault. Personal vaults never
// accept plugins.
func (e *Engine) AddPlugin(caller, vault, plugin common.Address) error {
	return e.setPlugin(caller, vault, plugin, true)
}

// RemovePlugin disables a delegation plugin on vault.
func (e *Engine) RemovePlugin(caller, vault, plugin common.Address) error {
	return e.setPlugin(caller, vault, plugin, false)
}

func (e *Engine) setPlugin(caller, vault, plugin common.Address, enabled bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	v, err := e.Vault(vault)
	if err != nil {
		return err
	}
	if v.Personal {
		return ErrPluginsDisabled
	}
	if err := e.requireVaultOwner(caller, v); err != nil {
		return err
	}
	if enabled {
		if err := e.state.KVPut(pluginKey(plugin), true); err != nil {
			return err
		}
	} else if err := e.state.KVDelete(pluginKey(plugin)); err != nil {
		return err
	}
	e.emit(events.Wrap(newPluginEvent(plugin, enabled)))
	return nil
}

// IsPluginEnabled reports whether plugin may be used on the global vault.
func (e *Engine) IsPluginEnabled(plugin common.Address) bool {
	if e.ready() != nil {
		return false
	}
	ok, err := e.state.KVGet(pluginKey(plugin), nil)
	return err == nil && ok
}

// Delegate grants delegate usage rights over locked collateral via plugin.
// Only the borrower may delegate, and only while the loan's obligation token
// does not exist.
func (e *Engine) Delegate(caller, plugin, contract common.Address, id *big.Int, delegate common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	lock, ok, err := e.Lock(contract, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotLocked
	}
	if lock.Vault != GlobalVault {
		return ErrPluginsDisabled
	}
	if !e.IsPluginEnabled(plugin) {
		return ErrPluginNotEnabled
	}
	if caller != lock.Borrower {
		return ErrNotBorrower
	}
	if lock.Transferable {
		return ErrDelegationLocked
	}
	d := Delegation{Plugin: plugin, Delegate: delegate}
	if err := e.state.KVPut(delegationKey(contract, id), d); err != nil {
		return err
	}
	e.emit(events.Wrap(newDelegationEvent(EventTypeDelegated, lock, d)))
	return nil
}

// Undelegate removes the delegation on an asset. The borrower may always
// undelegate.
func (e *Engine) Undelegate(caller, contract common.Address, id *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	lock, ok, err := e.Lock(contract, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotLocked
	}
	if caller != lock.Borrower {
		return ErrNotBorrower
	}
	if _, found, err := e.DelegationOf(contract, id); err != nil {
		return err
	} else if !found {
		return ErrNoDelegation
	}
	return e.revokeDelegation(lock)
}

// DelegationOf returns the delegation recorded on an asset.
func (e *Engine) DelegationOf(contract common.Address, id *big.Int) (*Delegation, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	var d Delegation
	ok, err := e.state.KVGet(delegationKey(contract, id), &d)
	if err != nil || !ok {
		return nil, false, err
	}
	return &d, true, nil
}

func (e *Engine) revokeDelegation(lock *Lock) error {
	d, ok, err := e.DelegationOf(lock.Contract, lock.TokenID)
	if err != nil || !ok {
		return err
	}
	if err := e.state.KVDelete(delegationKey(lock.Contract, lock.TokenID)); err != nil {
		return err
	}
	e.emit(events.Wrap(newDelegationEvent(EventTypeUndelegated, lock, *d)))
	return nil
}

// --- recovery ---

// DrainNFT lets the vault owner recover a collectible sent to the vault by
// mistake. Locked collateral can never be drained.
func (e *Engine) DrainNFT(caller, vault common.Address, wrapperType string, contract common.Address, id *big.Int, to common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	v, err := e.Vault(vault)
	if err != nil {
		return err
	}
	if err := e.requireVaultOwner(caller, v); err != nil {
		return err
	}
	if locked, err := e.IsLocked(contract, id); err != nil {
		return err
	} else if locked {
		return ErrTokenIsCollateral
	}
	wrapper, err := assets.ForType(wrapperType)
	if err != nil {
		return err
	}
	if err := wrapper.Transfer(e.state, vault, vault, to, contract, id); err != nil {
		return err
	}
	e.emit(events.Wrap(newDrainedEvent(vault, contract, to, wrapper.Standard()+":"+cloneID(id).String())))
	return nil
}

// DrainERC20 sends the vault's whole balance of token to the vault owner's
// chosen recipient. Vaults never hold fungible collateral.
func (e *Engine) DrainERC20(caller, vault, token, to common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	v, err := e.Vault(vault)
	if err != nil {
		return err
	}
	if err := e.requireVaultOwner(caller, v); err != nil {
		return err
	}
	balance, err := e.state.TokenBalance(token, vault)
	if err != nil {
		return err
	}
	if err := e.state.TransferToken(token, vault, to, balance); err != nil {
		return err
	}
	e.emit(events.Wrap(newDrainedEvent(vault, token, to, "erc20:"+balance.String())))
	return nil
}

// --- personal escrow factory ---

// SetFactoryPaused toggles personal escrow creation.
func (e *Engine) SetFactoryPaused(caller common.Address, paused bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.state.RequireRole(e.adminRole, caller); err != nil {
		return err
	}
	if !paused {
		return e.state.KVDelete(factoryPausedKey)
	}
	return e.state.KVPut(factoryPausedKey, true)
}

// FactoryPaused reports whether personal escrow creation is paused.
func (e *Engine) FactoryPaused() bool {
	if e.ready() != nil {
		return false
	}
	ok, err := e.state.KVGet(factoryPausedKey, nil)
	return err == nil && ok
}

// CreatePersonalEscrow creates owner's personal vault. Each borrower may own
// at most one.
func (e *Engine) CreatePersonalEscrow(owner common.Address) (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	if e.FactoryPaused() {
		return common.Address{}, ErrFactoryPaused
	}
	if _, ok, err := e.PersonalEscrowOf(owner); err != nil {
		return common.Address{}, err
	} else if ok {
		return common.Address{}, ErrPersonalEscrowExists
	}
	v := &Vault{Address: PersonalVaultAddress(owner), Owner: owner, Personal: true}
	err := e.state.Atomic(func() error {
		if err := e.state.KVPut(personalKey(owner), v.Address); err != nil {
			return err
		}
		if err := e.state.KVPut(vaultKey(v.Address), v); err != nil {
			return err
		}
		e.emit(events.Wrap(newPersonalCreatedEvent(v)))
		return nil
	})
	if err != nil {
		return common.Address{}, err
	}
	return v.Address, nil
}

// PersonalEscrowOf returns owner's personal vault, if created.
func (e *Engine) PersonalEscrowOf(owner common.Address) (common.Address, bool, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, false, err
	}
	var addr common.Address
	ok, err := e.state.KVGet(personalKey(owner), &addr)
	if err != nil {
		return common.Address{}, false, err
	}
	return addr, ok, nil
}
