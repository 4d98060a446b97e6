package swap

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypeLiquidityAdded = "swap.liquidity.added"
	EventTypeSwapped        = "swap.executed"
)

func newLiquidityEvent(provider common.Address, p *Pool) *types.Event {
	return &types.Event{Type: EventTypeLiquidityAdded, Attributes: map[string]string{
		"provider": strings.ToLower(provider.Hex()),
		"token0":   strings.ToLower(p.Token0.Hex()),
		"token1":   strings.ToLower(p.Token1.Hex()),
		"reserve0": p.Reserve0.String(),
		"reserve1": p.Reserve1.String(),
	}}
}

func newSwapEvent(trader, recipient, tokenIn, tokenOut common.Address, amountIn, amountOut *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSwapped, Attributes: map[string]string{
		"trader":    strings.ToLower(trader.Hex()),
		"recipient": strings.ToLower(recipient.Hex()),
		"tokenIn":   strings.ToLower(tokenIn.Hex()),
		"tokenOut":  strings.ToLower(tokenOut.Hex()),
		"amountIn":  amountIn.String(),
		"amountOut": amountOut.String(),
	}}
}
