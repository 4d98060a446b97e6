package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	// TypeTokenTransfer is emitted for fungible token balance movements.
	TypeTokenTransfer = "asset.token.transfer"
	// TypeNFTTransfer is emitted when custody of a collectible changes.
	TypeNFTTransfer = "asset.nft.transfer"
)

// TokenTransfer describes a fungible movement between two accounts.
type TokenTransfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"token":  strings.ToLower(e.Token.Hex()),
			"from":   strings.ToLower(e.From.Hex()),
			"to":     strings.ToLower(e.To.Hex()),
			"amount": amount,
		},
	}
}

// NFTTransfer describes a change of custody of a collectible.
type NFTTransfer struct {
	Standard string
	Contract common.Address
	TokenID  *big.Int
	From     common.Address
	To       common.Address
}

func (NFTTransfer) EventType() string { return TypeNFTTransfer }

func (e NFTTransfer) Event() *types.Event {
	id := "0"
	if e.TokenID != nil {
		id = e.TokenID.String()
	}
	return &types.Event{
		Type: TypeNFTTransfer,
		Attributes: map[string]string{
			"standard": e.Standard,
			"contract": strings.ToLower(e.Contract.Hex()),
			"tokenId":  id,
			"from":     strings.ToLower(e.From.Hex()),
			"to":       strings.ToLower(e.To.Hex()),
		},
	}
}
