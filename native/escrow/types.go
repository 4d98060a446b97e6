package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Collateral identifies one collectible held as loan collateral.
type Collateral struct {
	WrapperType string
	Contract    common.Address
	TokenID     *big.Int
}

// Lock is the custody record of a locked collateral asset. At most one lock
// exists per (contract, token id).
type Lock struct {
	Vault       common.Address
	Issuer      common.Address
	Borrower    common.Address
	WrapperType string
	Contract    common.Address
	TokenID     *big.Int
	// Transferable is set once the loan's obligation token exists. Delegation
	// is no longer possible from that point.
	Transferable bool
}

// Delegation grants a delegate usage rights over locked collateral through a
// plugin, without moving custody.
type Delegation struct {
	Plugin   common.Address
	Delegate common.Address
}

// Vault describes an escrow instance. The global vault is owned by the
// protocol administrators, personal vaults by their borrower.
type Vault struct {
	Address  common.Address
	Owner    common.Address
	Personal bool
}

func cloneID(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
