package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/state"
)

var (
	admin    = common.HexToAddress("0xad")
	issuer   = common.HexToAddress("0x1a")
	issuer2  = common.HexToAddress("0x2a")
	borrower = common.HexToAddress("0xb0")
	stranger = common.HexToAddress("0x33")
	nft      = common.HexToAddress("0x7002")
	punks    = common.HexToAddress("0x7003")
	token    = common.HexToAddress("0x7001")
	plugin   = common.HexToAddress("0x9100")
)

type issuerSet map[common.Address]bool

func (s issuerSet) IsRegisteredIssuer(addr common.Address) bool { return s[addr] }

func newTestEngine(t *testing.T) (*Engine, *state.Manager) {
	t.Helper()
	m := state.NewManager(nil)
	if err := m.SetRole(state.RoleAdmin, admin, true); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	e := NewEngine(state.RoleAdmin)
	e.SetState(m)
	e.SetEmitter(m)
	e.SetIssuerRegistry(issuerSet{issuer: true, issuer2: true})
	return e, m
}

func mintApproved(t *testing.T, m *state.Manager, id int64, vault common.Address) *big.Int {
	t.Helper()
	tokenID := big.NewInt(id)
	if err := m.MintNFT(nft, borrower, tokenID); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := m.ApproveNFT(nft, borrower, vault, tokenID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return tokenID
}

func owner(t *testing.T, m *state.Manager, id *big.Int) common.Address {
	t.Helper()
	addr, err := m.NFTOwner(nft, id)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	return addr
}

func TestLockDiscipline(t *testing.T) {
	e, m := newTestEngine(t)
	id := mintApproved(t, m, 1, GlobalVault)
	c := Collateral{WrapperType: "erc721", Contract: nft, TokenID: id}

	if err := e.LockCollateral(stranger, GlobalVault, c, borrower); !errors.Is(err, ErrUnregisteredIssuer) {
		t.Fatalf("expected unregistered issuer, got %v", err)
	}
	if err := e.LockCollateral(issuer, GlobalVault, c, borrower); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if owner(t, m, id) != GlobalVault {
		t.Fatalf("expected vault custody")
	}
	if err := e.LockCollateral(issuer2, GlobalVault, c, borrower); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected already locked, got %v", err)
	}
	if err := e.UnlockCollateral(issuer2, nft, id, borrower); !errors.Is(err, ErrNotLockingIssuer) {
		t.Fatalf("expected only locking issuer to unlock, got %v", err)
	}
	if err := e.UnlockCollateral(issuer, nft, id, borrower); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if owner(t, m, id) != borrower {
		t.Fatalf("expected asset returned to borrower")
	}
	if locked, _ := e.IsLocked(nft, id); locked {
		t.Fatalf("expected no residual lock")
	}
	if err := e.UnlockCollateral(issuer, nft, id, borrower); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected not locked, got %v", err)
	}
}

func TestLockRequiresBorrowerCustody(t *testing.T) {
	e, m := newTestEngine(t)
	stray := big.NewInt(9)
	if err := m.MintNFT(nft, GlobalVault, stray); err != nil {
		t.Fatalf("mint stray: %v", err)
	}
	c := Collateral{WrapperType: "ERC721", Contract: nft, TokenID: stray}
	if err := e.LockCollateral(issuer, GlobalVault, c, stranger); !errors.Is(err, state.ErrNotNFTOwner) {
		t.Fatalf("expected lock of vault-held asset to fail, got %v", err)
	}
	if locked, _ := e.IsLocked(nft, stray); locked {
		t.Fatalf("expected no lock on stray asset")
	}
	if err := e.UnlockCollateral(issuer, nft, stray, stranger); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected unlock of unlocked asset to fail, got %v", err)
	}
	if owner(t, m, stray) != GlobalVault {
		t.Fatalf("expected stray asset to stay in the vault")
	}

	// the vault owner can still recover it
	if err := e.DrainNFT(admin, GlobalVault, "ERC721", nft, stray, admin); err != nil {
		t.Fatalf("drain stray: %v", err)
	}
	if owner(t, m, stray) != admin {
		t.Fatalf("expected stray asset drained to admin")
	}
}

func TestLockRequiresBorrowerMultiBalance(t *testing.T) {
	e, m := newTestEngine(t)
	id := big.NewInt(12)
	if err := m.MintMulti(nft, GlobalVault, id, big.NewInt(1)); err != nil {
		t.Fatalf("mint multi: %v", err)
	}
	c := Collateral{WrapperType: "ERC1155", Contract: nft, TokenID: id}
	if err := e.LockCollateral(issuer, GlobalVault, c, stranger); err == nil {
		t.Fatalf("expected lock without borrower balance to fail")
	}
	if locked, _ := e.IsLocked(nft, id); locked {
		t.Fatalf("expected no lock on vault-held units")
	}
}

func TestFailedLockLeavesNoRecord(t *testing.T) {
	e, m := newTestEngine(t)
	id := big.NewInt(5)
	if err := m.MintNFT(nft, borrower, id); err != nil {
		t.Fatalf("mint: %v", err)
	}
	c := Collateral{WrapperType: "ERC721", Contract: nft, TokenID: id}
	if err := e.LockCollateral(issuer, GlobalVault, c, borrower); !errors.Is(err, state.ErrNotApproved) {
		t.Fatalf("expected approval failure, got %v", err)
	}
	if locked, _ := e.IsLocked(nft, id); locked {
		t.Fatalf("expected no lock after failed pull")
	}
}

func TestPunkCollateral(t *testing.T) {
	e, m := newTestEngine(t)
	id := big.NewInt(77)
	if err := m.MintPunk(punks, borrower, id); err != nil {
		t.Fatalf("mint punk: %v", err)
	}
	if err := m.OfferPunkTo(punks, borrower, id, GlobalVault); err != nil {
		t.Fatalf("offer: %v", err)
	}
	c := Collateral{WrapperType: "PUNKS", Contract: punks, TokenID: id}
	if err := e.LockCollateral(issuer, GlobalVault, c, borrower); err != nil {
		t.Fatalf("lock punk: %v", err)
	}
	if err := e.UnlockCollateral(issuer, punks, id, stranger); err != nil {
		t.Fatalf("unlock punk: %v", err)
	}
	current, _ := m.PunkOwner(punks, id)
	if current != stranger {
		t.Fatalf("expected punk delivered to recipient, got %s", current.Hex())
	}
}

func TestHandOverRechecksCustody(t *testing.T) {
	e, m := newTestEngine(t)
	personal, err := e.CreatePersonalEscrow(borrower)
	if err != nil {
		t.Fatalf("create personal: %v", err)
	}
	id := mintApproved(t, m, 2, personal)
	c := Collateral{WrapperType: "ERC721", Contract: nft, TokenID: id}
	if err := e.LockCollateral(issuer, personal, c, borrower); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := e.HandOverLoan(issuer2, nft, id, issuer2, GlobalVault); !errors.Is(err, ErrNotLockingIssuer) {
		t.Fatalf("expected locking issuer check, got %v", err)
	}
	if err := e.HandOverLoan(issuer, nft, id, issuer, GlobalVault); err != nil {
		t.Fatalf("hand over: %v", err)
	}
	if owner(t, m, id) != GlobalVault {
		t.Fatalf("expected collateral migrated to global vault")
	}
	lock, ok, _ := e.Lock(nft, id)
	if !ok || lock.Vault != GlobalVault {
		t.Fatalf("expected lock to follow the asset: %+v", lock)
	}

	// custody lost outside the engine is detected
	if err := m.TransferNFT(nft, GlobalVault, GlobalVault, stranger, id); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := e.HandOverLoan(issuer, nft, id, issuer2, GlobalVault); !errors.Is(err, ErrCollateralNotInCustody) {
		t.Fatalf("expected custody check, got %v", err)
	}
}

func TestPersonalEscrowFactory(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SetFactoryPaused(stranger, true); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := e.SetFactoryPaused(admin, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := e.CreatePersonalEscrow(borrower); !errors.Is(err, ErrFactoryPaused) {
		t.Fatalf("expected paused factory, got %v", err)
	}
	if err := e.SetFactoryPaused(admin, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	addr, err := e.CreatePersonalEscrow(borrower)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.CreatePersonalEscrow(borrower); !errors.Is(err, ErrPersonalEscrowExists) {
		t.Fatalf("expected one escrow per borrower, got %v", err)
	}
	vault, err := e.VaultFor(borrower)
	if err != nil || vault != addr {
		t.Fatalf("expected personal vault, got %s %v", vault.Hex(), err)
	}
	if vault, _ := e.VaultFor(stranger); vault != GlobalVault {
		t.Fatalf("expected global vault for borrowers without personal escrow")
	}
	if err := e.AddPlugin(borrower, addr, plugin); !errors.Is(err, ErrPluginsDisabled) {
		t.Fatalf("expected plugins disabled, got %v", err)
	}
}

func TestDelegation(t *testing.T) {
	e, m := newTestEngine(t)
	id := mintApproved(t, m, 3, GlobalVault)
	c := Collateral{WrapperType: "ERC721", Contract: nft, TokenID: id}
	if err := e.LockCollateral(issuer, GlobalVault, c, borrower); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := e.Delegate(borrower, plugin, nft, id, stranger); !errors.Is(err, ErrPluginNotEnabled) {
		t.Fatalf("expected plugin check, got %v", err)
	}
	if err := e.AddPlugin(stranger, GlobalVault, plugin); !errors.Is(err, ErrNotVaultOwner) {
		t.Fatalf("expected owner-only plugins, got %v", err)
	}
	if err := e.AddPlugin(admin, GlobalVault, plugin); err != nil {
		t.Fatalf("add plugin: %v", err)
	}
	if err := e.Delegate(stranger, plugin, nft, id, stranger); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("expected borrower-only delegation, got %v", err)
	}
	if err := e.Delegate(borrower, plugin, nft, id, stranger); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if owner(t, m, id) != GlobalVault {
		t.Fatalf("delegation must not move custody")
	}
	if err := e.MarkTransferable(issuer, nft, id); err != nil {
		t.Fatalf("mark transferable: %v", err)
	}
	if _, ok, _ := e.DelegationOf(nft, id); ok {
		t.Fatalf("expected delegation revoked")
	}
	if err := e.Delegate(borrower, plugin, nft, id, stranger); !errors.Is(err, ErrDelegationLocked) {
		t.Fatalf("expected delegation to stay disabled, got %v", err)
	}
}

func TestDrainRejectsCollateral(t *testing.T) {
	e, m := newTestEngine(t)
	id := mintApproved(t, m, 4, GlobalVault)
	c := Collateral{WrapperType: "ERC721", Contract: nft, TokenID: id}
	if err := e.LockCollateral(issuer, GlobalVault, c, borrower); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := e.DrainNFT(admin, GlobalVault, "ERC721", nft, id, admin); !errors.Is(err, ErrTokenIsCollateral) {
		t.Fatalf("expected collateral drain to fail, got %v", err)
	}

	stray := big.NewInt(40)
	if err := m.MintNFT(nft, GlobalVault, stray); err != nil {
		t.Fatalf("mint stray: %v", err)
	}
	if err := e.DrainNFT(stranger, GlobalVault, "ERC721", nft, stray, stranger); !errors.Is(err, ErrNotVaultOwner) {
		t.Fatalf("expected owner-only drain, got %v", err)
	}
	if err := e.DrainNFT(admin, GlobalVault, "ERC721", nft, stray, admin); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if err := m.MintToken(token, GlobalVault, big.NewInt(9)); err != nil {
		t.Fatalf("mint token: %v", err)
	}
	if err := e.DrainERC20(admin, GlobalVault, token, admin); err != nil {
		t.Fatalf("drain erc20: %v", err)
	}
	balance, _ := m.TokenBalance(token, admin)
	if balance.Int64() != 9 {
		t.Fatalf("expected drained balance, got %s", balance)
	}
}
