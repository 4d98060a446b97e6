// Package assets provides the uniform custody capability the lending core uses
// for every supported collectible format. Format-specific ledger calls never
// leave this package.
package assets

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/state"
)

var (
	ErrUnknownWrapper = errors.New("assets: unknown wrapper type")
	ErrInvalidTokenID = errors.New("assets: token id required")
)

// Ledger is the subset of the asset ledger used by wrappers.
type Ledger interface {
	NFTOwner(contract common.Address, id *big.Int) (common.Address, error)
	TransferNFT(contract, operator, from, to common.Address, id *big.Int) error
	MultiBalance(contract common.Address, id *big.Int, holder common.Address) (*big.Int, error)
	TransferMulti(contract, operator, from, to common.Address, id, amount *big.Int) error
	PunkOwner(contract common.Address, id *big.Int) (common.Address, error)
	TransferPunk(contract, caller, to common.Address, id *big.Int) error
	BuyPunk(contract, buyer common.Address, id *big.Int) error
}

// Wrapper moves and inspects a single collectible of one format. operator is
// the account executing the transfer; it is either the holder itself or an
// account the holder authorised.
type Wrapper interface {
	Standard() string
	Transfer(l Ledger, operator, from, to, contract common.Address, id *big.Int) error
	IsOwner(l Ledger, owner, contract common.Address, id *big.Int) (bool, error)
}

var wrappers = map[string]Wrapper{
	state.StandardERC721:  ERC721{},
	state.StandardERC1155: ERC1155{},
	state.StandardPunks:   Punks{},
}

// ForType resolves the wrapper registered for a stored type tag.
func ForType(tag string) (Wrapper, error) {
	w, ok := wrappers[strings.ToUpper(strings.TrimSpace(tag))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWrapper, tag)
	}
	return w, nil
}

// Types lists the supported type tags.
func Types() []string {
	return []string{state.StandardERC721, state.StandardERC1155, state.StandardPunks}
}

// ERC721 handles single-owner collectibles with approvals.
type ERC721 struct{}

func (ERC721) Standard() string { return state.StandardERC721 }

func (ERC721) Transfer(l Ledger, operator, from, to, contract common.Address, id *big.Int) error {
	if id == nil {
		return ErrInvalidTokenID
	}
	return l.TransferNFT(contract, operator, from, to, id)
}

func (ERC721) IsOwner(l Ledger, owner, contract common.Address, id *big.Int) (bool, error) {
	if id == nil {
		return false, ErrInvalidTokenID
	}
	current, err := l.NFTOwner(contract, id)
	if errors.Is(err, state.ErrNFTNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return current == owner, nil
}

// ERC1155 handles semi-fungible collectibles; a loan always locks exactly one
// unit of the id.
type ERC1155 struct{}

var oneUnit = big.NewInt(1)

func (ERC1155) Standard() string { return state.StandardERC1155 }

func (ERC1155) Transfer(l Ledger, operator, from, to, contract common.Address, id *big.Int) error {
	if id == nil {
		return ErrInvalidTokenID
	}
	return l.TransferMulti(contract, operator, from, to, id, oneUnit)
}

func (ERC1155) IsOwner(l Ledger, owner, contract common.Address, id *big.Int) (bool, error) {
	if id == nil {
		return false, ErrInvalidTokenID
	}
	balance, err := l.MultiBalance(contract, id, owner)
	if err != nil {
		return false, err
	}
	return balance.Sign() > 0, nil
}

// Punks handles the pre-approval collectible format: a holder pushes the token
// directly, a third party can only take it after the holder offered it to
// that party.
type Punks struct{}

func (Punks) Standard() string { return state.StandardPunks }

func (Punks) Transfer(l Ledger, operator, from, to, contract common.Address, id *big.Int) error {
	if id == nil {
		return ErrInvalidTokenID
	}
	if operator == from {
		return l.TransferPunk(contract, from, to, id)
	}
	if operator != to {
		return state.ErrNotApproved
	}
	owner, err := l.PunkOwner(contract, id)
	if err != nil {
		return err
	}
	if owner != from {
		return state.ErrNotNFTOwner
	}
	return l.BuyPunk(contract, to, id)
}

func (Punks) IsOwner(l Ledger, owner, contract common.Address, id *big.Int) (bool, error) {
	if id == nil {
		return false, ErrInvalidTokenID
	}
	current, err := l.PunkOwner(contract, id)
	if errors.Is(err, state.ErrNFTNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return current == owner, nil
}
