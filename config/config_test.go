package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Issuers) != 2 || cfg.Issuers[0].OfferType != "ASSET_OFFER_LOAN" {
		t.Fatalf("unexpected default issuers: %+v", cfg.Issuers)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default file written: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Flash.FeeBps != 9 || reloaded.Swap.FeeBps != 30 {
		t.Fatalf("unexpected reloaded fees: %+v %+v", reloaded.Flash, reloaded.Swap)
	}
}

func TestLoadParsesIssuers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = ":9000"
DataDir = "./data"
ChainID = 5
Treasury = "0x00000000000000000000000000000000000000fe"
Admins = ["0x00000000000000000000000000000000000000ad"]

[[issuer]]
OfferType = "ASSET_OFFER_LOAN_V1"
Kind = "asset"
AdminFeeBps = 400
ProRataDisabled = true
Adapter = "legacy_v1"

[[issuer]]
Name = "collection"
OfferType = "COLLECTION_OFFER_LOAN"
Kind = "collection"

[refinance]
FallbackBorrowToken = "0x0000000000000000000000000000000000007001"

[logging]
File = "node.log"
MaxSizeMB = 10
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 5 || cfg.RPCAddress != ":9000" {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	legacy := cfg.Issuers[0]
	if legacy.Name != "asset_offer_loan_v1" || !legacy.ProRataDisabled || legacy.MaxLoanDuration != DefaultMaxLoanDuration {
		t.Fatalf("unexpected legacy issuer: %+v", legacy)
	}
	if cfg.Issuers[1].Adapter != "CURRENT" {
		t.Fatalf("expected default adapter, got %q", cfg.Issuers[1].Adapter)
	}
	if cfg.DBBackend != "leveldb" {
		t.Fatalf("expected default backend, got %q", cfg.DBBackend)
	}
	if cfg.RPC.ReadTimeout != 15 {
		t.Fatalf("expected default rpc timeout, got %d", cfg.RPC.ReadTimeout)
	}
}

func TestLoadAllowsSeveralDeploymentsPerOfferType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `Treasury = "0x00000000000000000000000000000000000000fe"

[[issuer]]
Name = "asset-v1"
OfferType = "ASSET_OFFER_LOAN"
Kind = "asset"
Adapter = "LEGACY_V1"

[[issuer]]
Name = "asset-v2"
OfferType = "asset_offer_loan"
Kind = "asset"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Issuers) != 2 || cfg.Issuers[1].Adapter != "CURRENT" {
		t.Fatalf("unexpected issuers: %+v", cfg.Issuers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key": "Treasury = \"0x00000000000000000000000000000000000000fe\"\nBogus = 1\n[[issuer]]\nOfferType = \"A\"\nKind = \"asset\"\n",
		"treasury":    "Treasury = \"nope\"\n[[issuer]]\nOfferType = \"A\"\nKind = \"asset\"\n",
		"no issuers":  "Treasury = \"0x00000000000000000000000000000000000000fe\"\n",
		"kind":        "Treasury = \"0x00000000000000000000000000000000000000fe\"\n[[issuer]]\nOfferType = \"A\"\nKind = \"batch\"\n",
		"duplicate":   "Treasury = \"0x00000000000000000000000000000000000000fe\"\n[[issuer]]\nName = \"a\"\nOfferType = \"A\"\nKind = \"asset\"\n[[issuer]]\nName = \"a\"\nOfferType = \"B\"\nKind = \"asset\"\n",
		"mixed kind":  "Treasury = \"0x00000000000000000000000000000000000000fe\"\n[[issuer]]\nName = \"a\"\nOfferType = \"A\"\nKind = \"asset\"\n[[issuer]]\nName = \"b\"\nOfferType = \"a\"\nKind = \"collection\"\n",
		"adapter":     "Treasury = \"0x00000000000000000000000000000000000000fe\"\n[[issuer]]\nOfferType = \"A\"\nKind = \"asset\"\nAdapter = \"V9\"\n",
		"backend":     "Treasury = \"0x00000000000000000000000000000000000000fe\"\nDBBackend = \"rocksdb\"\n[[issuer]]\nOfferType = \"A\"\nKind = \"asset\"\n",
		"swap fee":    "Treasury = \"0x00000000000000000000000000000000000000fe\"\n[swap]\nFeeBps = 10000\n[[issuer]]\nOfferType = \"A\"\nKind = \"asset\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected %s to be rejected", strings.TrimSpace(name))
			}
		})
	}
}
