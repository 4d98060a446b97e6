package flash

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypeFunded    = "flash.pool.funded"
	EventTypeWithdrawn = "flash.pool.withdrawn"
	EventTypeFlashLoan = "flash.loan"
)

func newPoolEvent(eventType string, account, token common.Address, amount, fee *big.Int) *types.Event {
	attrs := map[string]string{
		"account": strings.ToLower(account.Hex()),
		"token":   strings.ToLower(token.Hex()),
		"amount":  amount.String(),
	}
	if fee != nil {
		attrs["fee"] = fee.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
