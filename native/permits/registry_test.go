package permits

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/state"
	"nftlend/native/assets"
)

var admin = common.HexToAddress("0xad")

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	st := state.NewManager(nil)
	if err := st.SetRole(state.RoleAdmin, admin, true); err != nil {
		t.Fatalf("role: %v", err)
	}
	return NewRegistry(st, state.RoleAdmin)
}

func TestNFTPermits(t *testing.T) {
	r := newRegistry(t)
	collection := common.HexToAddress("0x1234")

	if _, _, err := r.NFTWrapper(collection); !errors.Is(err, ErrNFTNotPermitted) {
		t.Fatalf("expected ErrNFTNotPermitted, got %v", err)
	}
	if err := r.SetNFTPermit(common.HexToAddress("0x01"), collection, "ERC721"); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := r.SetNFTPermit(admin, collection, "bogus"); !errors.Is(err, assets.ErrUnknownWrapper) {
		t.Fatalf("expected ErrUnknownWrapper, got %v", err)
	}
	if err := r.SetNFTPermit(admin, collection, "erc721"); err != nil {
		t.Fatalf("permit: %v", err)
	}
	w, tag, err := r.NFTWrapper(collection)
	if err != nil {
		t.Fatalf("wrapper: %v", err)
	}
	if tag != "ERC721" || w.Standard() != "ERC721" {
		t.Fatalf("unexpected wrapper %s/%s", tag, w.Standard())
	}
	if err := r.SetNFTPermit(admin, collection, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := r.NFTType(collection); !errors.Is(err, ErrNFTNotPermitted) {
		t.Fatalf("expected revoked permit, got %v", err)
	}
}

func TestSeedApply(t *testing.T) {
	r := newRegistry(t)
	path := filepath.Join(t.TempDir(), "permits.yaml")
	body := `nfts:
  - contract: "0x00000000000000000000000000000000000000aa"
    type: ERC1155
erc20s:
  - "0x00000000000000000000000000000000000000bb"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := r.Apply(admin, seed); err != nil {
		t.Fatalf("apply: %v", err)
	}
	tag, err := r.NFTType(common.HexToAddress("0xaa"))
	if err != nil || tag != "ERC1155" {
		t.Fatalf("unexpected nft type %q: %v", tag, err)
	}
	if !r.IsERC20Permitted(common.HexToAddress("0xbb")) {
		t.Fatalf("expected erc20 permitted")
	}
	if r.IsERC20Permitted(common.HexToAddress("0xcc")) {
		t.Fatalf("unexpected erc20 permit")
	}
}
