package payments

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypePaid      = "payments.paid"
	EventTypeEscrowed  = "payments.escrowed"
	EventTypeWithdrawn = "payments.withdrawn"
	EventTypeDrained   = "payments.drained"
)

func newPaymentEvent(eventType string, from, to, token common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"from":   strings.ToLower(from.Hex()),
		"to":     strings.ToLower(to.Hex()),
		"token":  strings.ToLower(token.Hex()),
		"amount": amount.String(),
	}}
}
