package flash

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/state"
	nativecommon "nftlend/native/common"
)

var (
	admin    = common.HexToAddress("0xad")
	provider = common.HexToAddress("0xf0")
	borrower = common.HexToAddress("0xb0")
	token    = common.HexToAddress("0x7001")
)

func newTestPool(t *testing.T) (*Pool, *state.Manager) {
	t.Helper()
	st := state.NewManager(nil)
	if err := st.SetRole(state.RoleAdmin, admin, true); err != nil {
		t.Fatalf("set role: %v", err)
	}
	p := NewPool(state.RoleAdmin, 9)
	p.SetState(st)
	p.SetEmitter(st)
	if err := st.MintToken(token, provider, big.NewInt(100_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := st.ApproveToken(token, provider, Address, big.NewInt(100_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := p.Fund(provider, token, big.NewInt(100_000)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return p, st
}

func balanceOf(t *testing.T, st *state.Manager, holder common.Address) int64 {
	t.Helper()
	b, err := st.TokenBalance(token, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Int64()
}

func TestFlashLoanRoundTrip(t *testing.T) {
	p, st := newTestPool(t)
	if err := st.MintToken(token, borrower, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	var seen int64
	receiver := ReceiverFunc(func(tok common.Address, amount, fee *big.Int) error {
		seen = amount.Int64()
		if fee.Int64() != 9 {
			t.Fatalf("expected fee 9, got %s", fee)
		}
		return st.ApproveToken(tok, borrower, Address, new(big.Int).Add(amount, fee))
	})
	if err := p.FlashLoan(borrower, receiver, token, big.NewInt(10_000)); err != nil {
		t.Fatalf("flash loan: %v", err)
	}
	if seen != 10_000 {
		t.Fatalf("receiver saw %d", seen)
	}
	if got := balanceOf(t, st, Address); got != 100_009 {
		t.Fatalf("expected pool to earn the fee, got %d", got)
	}
	if got := balanceOf(t, st, borrower); got != 91 {
		t.Fatalf("expected borrower to pay the fee, got %d", got)
	}
}

func TestFlashLoanFeeRoundsUp(t *testing.T) {
	p, _ := newTestPool(t)
	fee, err := p.FlashFee(big.NewInt(1))
	if err != nil || fee.Int64() != 1 {
		t.Fatalf("expected minimum fee of 1, got %v %v", fee, err)
	}
	if err := p.SetFeeBps(provider, 0); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected admin-only fee update, got %v", err)
	}
	if err := p.SetFeeBps(admin, 0); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	fee, _ = p.FlashFee(big.NewInt(1_000))
	if fee.Sign() != 0 {
		t.Fatalf("expected zero fee, got %s", fee)
	}
}

func TestFlashLoanUnpaidReverts(t *testing.T) {
	p, st := newTestPool(t)
	receiver := ReceiverFunc(func(common.Address, *big.Int, *big.Int) error { return nil })
	if err := p.FlashLoan(borrower, receiver, token, big.NewInt(500)); !errors.Is(err, ErrRepaymentFailed) {
		t.Fatalf("expected repayment failure, got %v", err)
	}
	if balanceOf(t, st, Address) != 100_000 || balanceOf(t, st, borrower) != 0 {
		t.Fatalf("expected balances restored")
	}
	for _, evt := range st.Events() {
		if evt.Type == EventTypeFlashLoan {
			t.Fatalf("unexpected flash loan event after revert")
		}
	}
}

func TestFlashLoanCallbackErrorReverts(t *testing.T) {
	p, st := newTestPool(t)
	boom := errors.New("boom")
	receiver := ReceiverFunc(func(tok common.Address, amount, _ *big.Int) error {
		if err := st.TransferToken(tok, borrower, provider, amount); err != nil {
			return err
		}
		return boom
	})
	err := p.FlashLoan(borrower, receiver, token, big.NewInt(500))
	if !errors.Is(err, ErrCallbackFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected callback failure, got %v", err)
	}
	if balanceOf(t, st, provider) != 0 || balanceOf(t, st, Address) != 100_000 {
		t.Fatalf("expected callback side effects reverted")
	}
}

func TestFlashLoanLimits(t *testing.T) {
	p, st := newTestPool(t)
	receiver := ReceiverFunc(func(common.Address, *big.Int, *big.Int) error { return nil })
	if err := p.FlashLoan(borrower, receiver, token, big.NewInt(100_001)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if err := p.FlashLoan(borrower, receiver, token, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := p.FlashLoan(borrower, nil, token, big.NewInt(1)); !errors.Is(err, ErrNilReceiver) {
		t.Fatalf("expected nil receiver rejection, got %v", err)
	}

	pauses := nativecommon.NewPauses(st, state.RoleAdmin)
	p.SetPauses(pauses)
	if err := pauses.SetPaused(admin, moduleName, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := p.FlashLoan(borrower, receiver, token, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused pool, got %v", err)
	}
}
