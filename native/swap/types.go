package swap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is a constant-product reserve pair. Token0 sorts before Token1.
type Pool struct {
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// reserves returns the pool reserves oriented as (in, out).
func (p *Pool) reserves(tokenIn common.Address) (*big.Int, *big.Int) {
	if tokenIn == p.Token0 {
		return p.Reserve0, p.Reserve1
	}
	return p.Reserve1, p.Reserve0
}

func (p *Pool) apply(tokenIn common.Address, amountIn, amountOut *big.Int) {
	if tokenIn == p.Token0 {
		p.Reserve0 = new(big.Int).Add(p.Reserve0, amountIn)
		p.Reserve1 = new(big.Int).Sub(p.Reserve1, amountOut)
		return
	}
	p.Reserve1 = new(big.Int).Add(p.Reserve1, amountIn)
	p.Reserve0 = new(big.Int).Sub(p.Reserve0, amountOut)
}
