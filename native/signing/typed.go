package signing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DomainName    = "nftlend"
	DomainVersion = "1"
)

// Domain binds a signature to one chain and one verifying component (the loan
// issuer accepting the authorisation).
type Domain struct {
	ChainID           uint64
	VerifyingContract common.Address
}

// TypedMessage is a structured payload hashed with EIP-712.
type TypedMessage interface {
	PrimaryType() string
	Fields() []apitypes.Type
	Message() apitypes.TypedDataMessage
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedData assembles the full EIP-712 document for msg under domain.
func TypedData(domain Domain, msg TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":    domainTypes,
			msg.PrimaryType(): msg.Fields(),
		},
		PrimaryType: msg.PrimaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(domain.ChainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: msg.Message(),
	}
}

// Hash returns the EIP-712 digest of msg under domain.
func Hash(domain Domain, msg TypedMessage) (common.Hash, error) {
	if msg == nil {
		return common.Hash{}, fmt.Errorf("signing: nil message")
	}
	digest, _, err := apitypes.TypedDataAndHash(TypedData(domain, msg))
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing: hash %s: %w", msg.PrimaryType(), err)
	}
	return common.BytesToHash(digest), nil
}

// Uint encodes an unsigned value for a typed-data message.
func Uint(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// Amount encodes a possibly nil amount for a typed-data message.
func Amount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Address encodes an address for a typed-data message.
func Address(a common.Address) string { return a.Hex() }

// Addresses encodes an address list for a typed-data message.
func Addresses(list []common.Address) []interface{} {
	out := make([]interface{}, 0, len(list))
	for _, a := range list {
		out = append(out, a.Hex())
	}
	return out
}
