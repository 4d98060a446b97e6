// Package permits stores the admin-curated collateral and denomination
// allow-lists. The lending core only ever asks two questions of it: which
// wrapper type handles a collateral contract, and whether a denomination is
// permitted.
package permits

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/native/assets"
)

var (
	ErrNFTNotPermitted   = errors.New("permits: collateral contract not permitted")
	ErrERC20NotPermitted = errors.New("permits: denomination not permitted")
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	RequireRole(role string, addr [20]byte) error
}

// Registry holds both allow-lists.
type Registry struct {
	state     registryState
	adminRole string
}

// NewRegistry binds the allow-lists to state.
func NewRegistry(state registryState, adminRole string) *Registry {
	return &Registry{state: state, adminRole: adminRole}
}

func nftKey(contract common.Address) []byte {
	return []byte(fmt.Sprintf("permits/nft/%x", contract))
}

func erc20Key(token common.Address) []byte {
	return []byte(fmt.Sprintf("permits/erc20/%x", token))
}

// SetNFTPermit permits a collateral contract under wrapperType. An empty type
// removes the permit.
func (r *Registry) SetNFTPermit(caller, contract common.Address, wrapperType string) error {
	if err := r.state.RequireRole(r.adminRole, caller); err != nil {
		return err
	}
	tag := strings.ToUpper(strings.TrimSpace(wrapperType))
	if tag == "" {
		return r.state.KVDelete(nftKey(contract))
	}
	if _, err := assets.ForType(tag); err != nil {
		return err
	}
	return r.state.KVPut(nftKey(contract), tag)
}

// SetERC20Permit toggles a denomination.
func (r *Registry) SetERC20Permit(caller, token common.Address, permitted bool) error {
	if err := r.state.RequireRole(r.adminRole, caller); err != nil {
		return err
	}
	if !permitted {
		return r.state.KVDelete(erc20Key(token))
	}
	return r.state.KVPut(erc20Key(token), true)
}

// NFTType returns the wrapper type tag for a permitted collateral contract.
func (r *Registry) NFTType(contract common.Address) (string, error) {
	var tag string
	ok, err := r.state.KVGet(nftKey(contract), &tag)
	if err != nil {
		return "", err
	}
	if !ok || tag == "" {
		return "", fmt.Errorf("%w: %s", ErrNFTNotPermitted, contract.Hex())
	}
	return tag, nil
}

// NFTWrapper resolves the wrapper for a permitted collateral contract.
func (r *Registry) NFTWrapper(contract common.Address) (assets.Wrapper, string, error) {
	tag, err := r.NFTType(contract)
	if err != nil {
		return nil, "", err
	}
	w, err := assets.ForType(tag)
	if err != nil {
		return nil, "", err
	}
	return w, tag, nil
}

// IsERC20Permitted reports whether token may denominate loans.
func (r *Registry) IsERC20Permitted(token common.Address) bool {
	var ok bool
	if _, err := r.state.KVGet(erc20Key(token), &ok); err != nil {
		return false
	}
	return ok
}
