// Package signing validates off-ledger authorisations of loan terms, for both
// plain-key signers and contract accounts that validate signatures themselves.
package signing

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// MagicValue is returned by a contract signer that accepts a signature.
var MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

// ContractSigner is implemented by contract accounts that decide signature
// validity themselves.
type ContractSigner interface {
	IsValidSignature(hash common.Hash, signature []byte) ([4]byte, error)
}

// Verifier checks that a signature over a digest was produced by signer.
type Verifier struct {
	mu        sync.RWMutex
	contracts map[common.Address]ContractSigner
}

// NewVerifier returns a verifier with no contract signers registered.
func NewVerifier() *Verifier {
	return &Verifier{contracts: make(map[common.Address]ContractSigner)}
}

// RegisterContractSigner marks addr as a contract account delegating
// validation to impl. A nil impl unregisters the address.
func (v *Verifier) RegisterContractSigner(addr common.Address, impl ContractSigner) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if impl == nil {
		delete(v.contracts, addr)
		return
	}
	v.contracts[addr] = impl
}

func (v *Verifier) contractSigner(addr common.Address) (ContractSigner, bool) {
	if v == nil {
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	impl, ok := v.contracts[addr]
	return impl, ok
}

// Verify reports whether signature authorises hash on behalf of signer.
// Contract signers that error, panic or return anything but MagicValue are
// treated as an invalid signature, never as a failure of the caller.
func (v *Verifier) Verify(signer common.Address, hash common.Hash, signature []byte) bool {
	if signer == (common.Address{}) {
		return false
	}
	if impl, ok := v.contractSigner(signer); ok {
		return verifyContract(impl, hash, signature)
	}
	return verifyKey(signer, hash, signature)
}

func verifyContract(impl ContractSigner, hash common.Hash, signature []byte) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			valid = false
		}
	}()
	magic, err := impl.IsValidSignature(hash, append([]byte(nil), signature...))
	if err != nil {
		return false
	}
	return magic == MagicValue
}

func verifyKey(signer common.Address, hash common.Hash, signature []byte) bool {
	if len(signature) != 65 {
		return false
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return false
	}
	pub, err := ethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == signer
}
