package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/crypto"
	"nftlend/native/lending"
	"nftlend/native/signing"
)

func staticPass(string) func(bool) (string, error) {
	return func(bool) (string, error) { return "correct horse", nil }
}

func writeOffer(t *testing.T, dir string, signer common.Address) string {
	t.Helper()
	doc := offerDocument{
		OfferType:          lending.OfferTypeAsset,
		Issuer:             "asset-offer-loan",
		ChainID:            1,
		Denomination:       "0x0000000000000000000000000000000000007001",
		Principal:          "100",
		MaximumRepayment:   "150",
		CollateralContract: "0x0000000000000000000000000000000000007003",
		CollateralID:       "1",
		Duration:           604800,
		Signer:             signer.Hex(),
		Nonce:              1,
		Expiry:             2_000_000,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "offer.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestSignOfferMatchesIssuerVerification(t *testing.T) {
	dir := t.TempDir()
	keystorePath := filepath.Join(dir, "lender.keystore")
	var out bytes.Buffer
	if err := run([]string{"generate-key", "-keystore", keystorePath}, &out, staticPass("")); err != nil {
		t.Fatalf("generate-key: %v", err)
	}
	key, err := crypto.LoadSignerKey(keystorePath, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out.String(), key.Address().Hex()) {
		t.Fatalf("expected address in output: %s", out.String())
	}

	offerPath := writeOffer(t, dir, key.Address())
	out.Reset()
	if err := run([]string{"sign-offer", "-offer", offerPath, "-keystore", keystorePath}, &out, staticPass("")); err != nil {
		t.Fatalf("sign-offer: %v", err)
	}
	var sigHex string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "Signature:") {
			sigHex = strings.TrimSpace(strings.TrimPrefix(line, "Signature:"))
		}
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		t.Fatalf("decode signature %q: %v", sigHex, err)
	}

	doc, err := loadOfferDocument(offerPath)
	if err != nil {
		t.Fatalf("load offer: %v", err)
	}
	parsed, err := doc.parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.domain.VerifyingContract != crypto.ModuleAddress("issuer/asset-offer-loan") {
		t.Fatalf("expected issuer name to resolve to its module address")
	}
	hash, err := parsed.hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !signing.NewVerifier().Verify(key.Address(), hash, sig) {
		t.Fatalf("signature does not verify")
	}

	out.Reset()
	if err := run([]string{"offer-hash", "-offer", offerPath}, &out, nil); err != nil {
		t.Fatalf("offer-hash: %v", err)
	}
	if strings.TrimSpace(out.String()) != hash.Hex() {
		t.Fatalf("offer-hash printed %q, want %s", out.String(), hash.Hex())
	}
}

func TestSignOfferRejectsForeignKey(t *testing.T) {
	dir := t.TempDir()
	keystorePath := filepath.Join(dir, "lender.keystore")
	if err := run([]string{"generate-key", "-keystore", keystorePath}, &bytes.Buffer{}, staticPass("")); err != nil {
		t.Fatalf("generate-key: %v", err)
	}
	offerPath := writeOffer(t, dir, common.HexToAddress("0xb0"))
	err := run([]string{"sign-offer", "-offer", offerPath, "-keystore", keystorePath}, &bytes.Buffer{}, staticPass(""))
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected signer mismatch, got %v", err)
	}
}

func TestOfferDocumentValidation(t *testing.T) {
	base := offerDocument{
		OfferType:          lending.OfferTypeCollection,
		PrimaryType:        lending.PrimaryTypeCollectionRangeOffer,
		Issuer:             "0x0000000000000000000000000000000000001234",
		Denomination:       "0x0000000000000000000000000000000000007001",
		Principal:          "100",
		MaximumRepayment:   "150",
		CollateralContract: "0x0000000000000000000000000000000000007003",
		Signer:             "0x00000000000000000000000000000000000000b0",
	}
	if _, err := base.parse(); err == nil || !strings.Contains(err.Error(), "minId") {
		t.Fatalf("expected range offers to require minId, got %v", err)
	}
	base.MinID, base.MaxID = "1", "10"
	parsed, err := base.parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.domain.VerifyingContract != common.HexToAddress("0x1234") {
		t.Fatalf("expected hex issuer to be used directly")
	}
	base.PrimaryType = "Bogus"
	if _, err := base.parse(); err == nil {
		t.Fatalf("expected unknown primary type to fail")
	}
	if err := run([]string{"frobnicate"}, &bytes.Buffer{}, nil); err == nil {
		t.Fatalf("expected unknown command to fail")
	}
}
