package swap

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

var poolPrefix = []byte("swap/pool/")

// sortTokens orders a pair so both directions address the same pool.
func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(b.Bytes(), a.Bytes()) < 0 {
		return b, a
	}
	return a, b
}

func poolKey(token0, token1 common.Address) []byte {
	buf := make([]byte, len(poolPrefix)+2*common.AddressLength)
	copy(buf, poolPrefix)
	copy(buf[len(poolPrefix):], token0.Bytes())
	copy(buf[len(poolPrefix)+common.AddressLength:], token1.Bytes())
	return buf
}
