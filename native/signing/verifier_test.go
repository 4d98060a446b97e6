package signing

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"nftlend/crypto"
)

type testMessage struct {
	amount *big.Int
	signer common.Address
}

func (testMessage) PrimaryType() string { return "Test" }

func (testMessage) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "amount", Type: "uint256"},
		{Name: "signer", Type: "address"},
		{Name: "borrowers", Type: "address[]"},
	}
}

func (m testMessage) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"amount":    Amount(m.amount),
		"signer":    Address(m.signer),
		"borrowers": Addresses(nil),
	}
}

type stubContract struct {
	magic [4]byte
	err   error
	panic bool
}

func (s stubContract) IsValidSignature(common.Hash, []byte) ([4]byte, error) {
	if s.panic {
		panic("reverted")
	}
	return s.magic, s.err
}

func TestHashIsDomainSeparated(t *testing.T) {
	msg := testMessage{amount: big.NewInt(100), signer: common.HexToAddress("0x01")}
	a, err := Hash(Domain{ChainID: 1, VerifyingContract: common.HexToAddress("0xaa")}, msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := Hash(Domain{ChainID: 2, VerifyingContract: common.HexToAddress("0xaa")}, msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	c, err := Hash(Domain{ChainID: 1, VerifyingContract: common.HexToAddress("0xbb")}, msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a == b || a == c {
		t.Fatalf("expected distinct digests per domain")
	}
	msg.amount = big.NewInt(101)
	d, err := Hash(Domain{ChainID: 1, VerifyingContract: common.HexToAddress("0xaa")}, msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a == d {
		t.Fatalf("expected digest to change with the message")
	}
}

func TestVerifyKeySignature(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := common.HexToHash("0x1234")
	sig, err := key.Sign(digest.Bytes())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	v := NewVerifier()
	if !v.Verify(key.Address(), digest, sig) {
		t.Fatalf("expected signature to verify")
	}
	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	if !v.Verify(key.Address(), digest, legacy) {
		t.Fatalf("expected 27/28 recovery id to verify")
	}
	if v.Verify(common.HexToAddress("0x02"), digest, sig) {
		t.Fatalf("expected other signer to fail")
	}
	if v.Verify(key.Address(), common.HexToHash("0x99"), sig) {
		t.Fatalf("expected other digest to fail")
	}
	if v.Verify(key.Address(), digest, sig[:64]) {
		t.Fatalf("expected short signature to fail")
	}
}

func TestVerifyContractSigner(t *testing.T) {
	v := NewVerifier()
	wallet := common.HexToAddress("0xc0")
	digest := common.HexToHash("0x01")

	v.RegisterContractSigner(wallet, stubContract{magic: MagicValue})
	if !v.Verify(wallet, digest, []byte("anything")) {
		t.Fatalf("expected magic value to verify")
	}
	v.RegisterContractSigner(wallet, stubContract{magic: [4]byte{1, 2, 3, 4}})
	if v.Verify(wallet, digest, nil) {
		t.Fatalf("expected wrong magic to fail")
	}
	v.RegisterContractSigner(wallet, stubContract{magic: MagicValue, err: errors.New("revert")})
	if v.Verify(wallet, digest, nil) {
		t.Fatalf("expected erroring contract to fail")
	}
	v.RegisterContractSigner(wallet, stubContract{panic: true})
	if v.Verify(wallet, digest, nil) {
		t.Fatalf("expected panicking contract to fail")
	}
}
