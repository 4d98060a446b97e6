package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/crypto"
	"nftlend/native/lending"
	"nftlend/native/signing"
)

// offerDocument is the JSON file a lender fills in before signing.
type offerDocument struct {
	PrimaryType string `json:"primaryType"`
	OfferType   string `json:"offerType"`
	// Issuer is either the issuer's address or its configured name.
	Issuer  string `json:"issuer"`
	ChainID uint64 `json:"chainId"`

	Denomination       string   `json:"denomination"`
	Principal          string   `json:"principal"`
	MaximumRepayment   string   `json:"maximumRepayment"`
	CollateralContract string   `json:"collateralContract"`
	CollateralID       string   `json:"collateralId,omitempty"`
	MinID              string   `json:"minId,omitempty"`
	MaxID              string   `json:"maxId,omitempty"`
	Duration           uint64   `json:"duration"`
	IsProRata          bool     `json:"isProRata"`
	OriginationFee     string   `json:"originationFee,omitempty"`
	LiquidityCap       string   `json:"liquidityCap,omitempty"`
	AllowedBorrowers   []string `json:"allowedBorrowers,omitempty"`

	Signer string `json:"signer"`
	Nonce  uint64 `json:"nonce"`
	Expiry uint64 `json:"expiry"`
}

type parsedOffer struct {
	primary   string
	offerType string
	domain    signing.Domain
	offer     lending.Offer
	auth      lending.Authorization
}

func loadOfferDocument(path string) (*offerDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc offerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse offer %s: %w", path, err)
	}
	return &doc, nil
}

func resolveIssuer(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, fmt.Errorf("issuer is required")
	}
	if addr, err := crypto.DecodeAddress(raw); err == nil {
		return addr, nil
	}
	return crypto.ModuleAddress("issuer/" + raw), nil
}

func parseAmount(field, raw string, required bool) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return nil, fmt.Errorf("%s is required", field)
		}
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return v, nil
}

func (d *offerDocument) parse() (*parsedOffer, error) {
	primary := strings.TrimSpace(d.PrimaryType)
	switch primary {
	case lending.PrimaryTypeAssetOffer, lending.PrimaryTypeCollectionOffer, lending.PrimaryTypeCollectionRangeOffer:
	case "":
		primary = lending.PrimaryTypeAssetOffer
	default:
		return nil, fmt.Errorf("unknown primary type %q", d.PrimaryType)
	}
	issuer, err := resolveIssuer(d.Issuer)
	if err != nil {
		return nil, err
	}
	denomination, err := crypto.DecodeAddress(d.Denomination)
	if err != nil {
		return nil, fmt.Errorf("denomination: %w", err)
	}
	collateral, err := crypto.DecodeAddress(d.CollateralContract)
	if err != nil {
		return nil, fmt.Errorf("collateralContract: %w", err)
	}
	signer, err := crypto.DecodeAddress(d.Signer)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	out := &parsedOffer{
		primary:   primary,
		offerType: strings.ToUpper(strings.TrimSpace(d.OfferType)),
		domain:    signing.Domain{ChainID: d.ChainID, VerifyingContract: issuer},
		offer: lending.Offer{
			Denomination:       denomination,
			CollateralContract: collateral,
			Duration:           d.Duration,
			IsProRata:          d.IsProRata,
		},
		auth: lending.Authorization{Signer: signer, Nonce: d.Nonce, Expiry: d.Expiry},
	}
	if out.offerType == "" {
		return nil, fmt.Errorf("offerType is required")
	}
	amounts := []struct {
		field    string
		raw      string
		required bool
		dst      **big.Int
	}{
		{"principal", d.Principal, true, &out.offer.Principal},
		{"maximumRepayment", d.MaximumRepayment, true, &out.offer.MaximumRepayment},
		{"collateralId", d.CollateralID, primary == lending.PrimaryTypeAssetOffer, &out.offer.CollateralID},
		{"minId", d.MinID, primary == lending.PrimaryTypeCollectionRangeOffer, &out.offer.MinID},
		{"maxId", d.MaxID, primary == lending.PrimaryTypeCollectionRangeOffer, &out.offer.MaxID},
		{"originationFee", d.OriginationFee, false, &out.offer.OriginationFee},
		{"liquidityCap", d.LiquidityCap, false, &out.offer.LiquidityCap},
	}
	for _, a := range amounts {
		v, err := parseAmount(a.field, a.raw, a.required)
		if err != nil {
			return nil, err
		}
		*a.dst = v
	}
	for _, raw := range d.AllowedBorrowers {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("allowedBorrowers: %w", err)
		}
		out.offer.AllowedBorrowers = append(out.offer.AllowedBorrowers, addr)
	}
	return out, nil
}

func (p *parsedOffer) hash() (common.Hash, error) {
	return lending.OfferHash(p.domain, p.primary, p.offerType, p.offer, p.auth)
}
