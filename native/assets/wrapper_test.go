package assets

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/state"
)

var (
	holder   = common.HexToAddress("0xa1")
	custody  = common.HexToAddress("0xe5")
	contract = common.HexToAddress("0xc0ffee")
)

func TestForType(t *testing.T) {
	for _, tag := range Types() {
		w, err := ForType(tag)
		if err != nil {
			t.Fatalf("lookup %s: %v", tag, err)
		}
		if w.Standard() != tag {
			t.Fatalf("wrapper %s reports %s", tag, w.Standard())
		}
	}
	if _, err := ForType("erc721"); err != nil {
		t.Fatalf("lookup must be case-insensitive: %v", err)
	}
	if _, err := ForType("ERC404"); !errors.Is(err, ErrUnknownWrapper) {
		t.Fatalf("expected ErrUnknownWrapper, got %v", err)
	}
}

func TestWrappersRoundTrip(t *testing.T) {
	id := big.NewInt(42)
	cases := []struct {
		name    string
		wrapper Wrapper
		setup   func(m *state.Manager) error
	}{
		{"erc721", ERC721{}, func(m *state.Manager) error {
			if err := m.MintNFT(contract, holder, id); err != nil {
				return err
			}
			return m.SetApprovalForAll(contract, holder, custody, true)
		}},
		{"erc1155", ERC1155{}, func(m *state.Manager) error {
			if err := m.MintMulti(contract, holder, id, big.NewInt(1)); err != nil {
				return err
			}
			return m.SetApprovalForAll(contract, holder, custody, true)
		}},
		{"punks", Punks{}, func(m *state.Manager) error {
			if err := m.MintPunk(contract, holder, id); err != nil {
				return err
			}
			return m.OfferPunkTo(contract, holder, id, custody)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := state.NewManager(nil)
			if err := tc.setup(m); err != nil {
				t.Fatalf("setup: %v", err)
			}
			if err := tc.wrapper.Transfer(m, custody, holder, custody, contract, id); err != nil {
				t.Fatalf("pull into custody: %v", err)
			}
			ok, err := tc.wrapper.IsOwner(m, custody, contract, id)
			if err != nil || !ok {
				t.Fatalf("custody does not own token: %v", err)
			}
			if err := tc.wrapper.Transfer(m, custody, custody, holder, contract, id); err != nil {
				t.Fatalf("push back: %v", err)
			}
			ok, err = tc.wrapper.IsOwner(m, holder, contract, id)
			if err != nil || !ok {
				t.Fatalf("holder does not own token: %v", err)
			}
		})
	}
}
