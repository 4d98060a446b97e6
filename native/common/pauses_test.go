package common

import (
	"errors"
	"strings"
	"testing"

	"nftlend/core/state"
)

func TestPausesGuard(t *testing.T) {
	st := state.NewManager(nil)
	admin := [20]byte{0xad}
	if err := st.SetRole(state.RoleAdmin, admin, true); err != nil {
		t.Fatalf("set role: %v", err)
	}
	pauses := NewPauses(st, state.RoleAdmin)

	if err := pauses.SetPaused([20]byte{0x01}, "lending", true); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := Guard(pauses, "lending"); err != nil {
		t.Fatalf("unexpected guard error: %v", err)
	}
	if err := pauses.SetPaused(admin, "LENDING", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := Guard(pauses, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	err := Guard(pauses, "refinance", "", "lending")
	if !errors.Is(err, ErrModulePaused) || !strings.HasSuffix(err.Error(), ": lending") {
		t.Fatalf("expected lending named in pause error, got %v", err)
	}
	if err := Guard(pauses, "refinance", "flash"); err != nil {
		t.Fatalf("unrelated modules must pass: %v", err)
	}
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil view must pass: %v", err)
	}
	if err := pauses.SetPaused(admin, "lending", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if pauses.IsPaused("lending") {
		t.Fatalf("expected module to be unpaused")
	}
}
