// Package swap is a constant-product exchange between pairs of fungible
// tokens. The refinancing engine uses it to convert between loan
// denominations and the borrowed flash liquidity.
package swap

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/fees"
)

const moduleName = "swap"

var (
	ErrIdenticalTokens       = errors.New("swap: identical tokens")
	ErrPoolNotFound          = errors.New("swap: pool not found")
	ErrInvalidAmount         = errors.New("swap: amount must be positive")
	ErrInsufficientLiquidity = errors.New("swap: insufficient liquidity")
	ErrSlippage              = errors.New("swap: price moved beyond limit")
	errNilState              = errors.New("swap: state not configured")
)

// Address holds the reserves of every pool.
var Address = crypto.ModuleAddress("swap")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Atomic(fn func() error) error
	TransferToken(token, from, to common.Address, amount *big.Int) error
	TransferTokenFrom(token, spender, from, to common.Address, amount *big.Int) error
}

// Engine executes swaps against pooled reserves.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	feeBps  uint32
}

// NewEngine returns a swap venue keeping feeBps of every input in the pool.
func NewEngine(feeBps uint32) (*Engine, error) {
	if err := fees.Validate(feeBps); err != nil {
		return nil, err
	}
	if feeBps == fees.MaxBps {
		return nil, fees.ErrBpsOutOfRange
	}
	return &Engine{emitter: events.NoopEmitter{}, feeBps: feeBps}, nil
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(pauses nativecommon.PauseView) { e.pauses = pauses }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// FeeBps returns the swap fee rate.
func (e *Engine) FeeBps() uint32 { return e.feeBps }

// Pool loads the pool for a pair in either order.
func (e *Engine) Pool(tokenA, tokenB common.Address) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if tokenA == tokenB {
		return nil, ErrIdenticalTokens
	}
	token0, token1 := sortTokens(tokenA, tokenB)
	var pool Pool
	ok, err := e.state.KVGet(poolKey(token0, token1), &pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	return &pool, nil
}

func (e *Engine) storePool(p *Pool) error {
	return e.state.KVPut(poolKey(p.Token0, p.Token1), p)
}

// AddLiquidity deposits both sides of a pair, creating the pool if needed.
// The provider must have granted the venue an allowance on both tokens.
func (e *Engine) AddLiquidity(provider, tokenA, tokenB common.Address, amountA, amountB *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if tokenA == tokenB {
		return ErrIdenticalTokens
	}
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.state.Atomic(func() error {
		pool, err := e.Pool(tokenA, tokenB)
		if errors.Is(err, ErrPoolNotFound) {
			token0, token1 := sortTokens(tokenA, tokenB)
			pool = &Pool{Token0: token0, Token1: token1, Reserve0: big.NewInt(0), Reserve1: big.NewInt(0)}
		} else if err != nil {
			return err
		}
		if err := e.state.TransferTokenFrom(tokenA, Address, provider, Address, amountA); err != nil {
			return err
		}
		if err := e.state.TransferTokenFrom(tokenB, Address, provider, Address, amountB); err != nil {
			return err
		}
		if tokenA == pool.Token0 {
			pool.Reserve0 = new(big.Int).Add(pool.Reserve0, amountA)
			pool.Reserve1 = new(big.Int).Add(pool.Reserve1, amountB)
		} else {
			pool.Reserve0 = new(big.Int).Add(pool.Reserve0, amountB)
			pool.Reserve1 = new(big.Int).Add(pool.Reserve1, amountA)
		}
		if err := e.storePool(pool); err != nil {
			return err
		}
		e.emit(events.Wrap(newLiquidityEvent(provider, pool)))
		return nil
	})
}

// QuoteExactInput returns the output amountIn of tokenIn buys right now.
func (e *Engine) QuoteExactInput(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	pool, err := e.Pool(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return e.quoteIn(pool, tokenIn, amountIn)
}

func (e *Engine) quoteIn(pool *Pool, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserveIn, reserveOut := pool.reserves(tokenIn)
	net := fees.Apply(amountIn, e.feeBps).Net
	out := new(big.Int).Mul(net, reserveOut)
	out.Quo(out, new(big.Int).Add(reserveIn, net))
	if out.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}

// QuoteExactOutput returns the input of tokenIn needed to receive exactly
// amountOut of tokenOut right now. Rounding favours the pool.
func (e *Engine) QuoteExactOutput(tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	pool, err := e.Pool(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return e.quoteOut(pool, tokenIn, amountOut)
}

func (e *Engine) quoteOut(pool *Pool, tokenIn common.Address, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserveIn, reserveOut := pool.reserves(tokenIn)
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	net := new(big.Int).Mul(reserveIn, amountOut)
	net = ceilDiv(net, new(big.Int).Sub(reserveOut, amountOut))
	gross := new(big.Int).Mul(net, big.NewInt(fees.MaxBps))
	return ceilDiv(gross, big.NewInt(int64(fees.MaxBps-e.feeBps))), nil
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// SwapExactInput sells amountIn of tokenIn from trader and sends the proceeds
// to recipient. minOut bounds slippage; nil disables the bound.
func (e *Engine) SwapExactInput(trader, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, recipient common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	var amountOut *big.Int
	err := e.state.Atomic(func() error {
		pool, err := e.Pool(tokenIn, tokenOut)
		if err != nil {
			return err
		}
		out, err := e.quoteIn(pool, tokenIn, amountIn)
		if err != nil {
			return err
		}
		if minOut != nil && out.Cmp(minOut) < 0 {
			return ErrSlippage
		}
		if err := e.settle(pool, trader, recipient, tokenIn, tokenOut, amountIn, out); err != nil {
			return err
		}
		amountOut = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

// SwapExactOutput buys exactly amountOut of tokenOut for recipient, paid by
// trader in tokenIn. maxIn bounds slippage; nil disables the bound.
func (e *Engine) SwapExactOutput(trader, tokenIn, tokenOut common.Address, amountOut, maxIn *big.Int, recipient common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	var amountIn *big.Int
	err := e.state.Atomic(func() error {
		pool, err := e.Pool(tokenIn, tokenOut)
		if err != nil {
			return err
		}
		in, err := e.quoteOut(pool, tokenIn, amountOut)
		if err != nil {
			return err
		}
		if maxIn != nil && in.Cmp(maxIn) > 0 {
			return ErrSlippage
		}
		if err := e.settle(pool, trader, recipient, tokenIn, tokenOut, in, amountOut); err != nil {
			return err
		}
		amountIn = in
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amountIn, nil
}

func (e *Engine) settle(pool *Pool, trader, recipient, tokenIn, tokenOut common.Address, amountIn, amountOut *big.Int) error {
	if err := e.state.TransferTokenFrom(tokenIn, Address, trader, Address, amountIn); err != nil {
		return err
	}
	if err := e.state.TransferToken(tokenOut, Address, recipient, amountOut); err != nil {
		return err
	}
	pool.apply(tokenIn, amountIn, amountOut)
	if err := e.storePool(pool); err != nil {
		return err
	}
	e.emit(events.Wrap(newSwapEvent(trader, recipient, tokenIn, tokenOut, amountIn, amountOut)))
	return nil
}
