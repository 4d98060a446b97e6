package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"nftlend/native/signing"
)

// Typed-data primary types. Each acceptance mode has its own type, so a
// signature made for one mode never validates in another.
const (
	PrimaryTypeAssetOffer           = "AssetOffer"
	PrimaryTypeCollectionOffer      = "CollectionOffer"
	PrimaryTypeCollectionRangeOffer = "CollectionRangeOffer"
	PrimaryTypeRenegotiation        = "Renegotiation"
)

type offerMessage struct {
	primary   string
	offerType string
	offer     Offer
	auth      Authorization
}

func (m offerMessage) PrimaryType() string { return m.primary }

func (m offerMessage) Fields() []apitypes.Type {
	fields := []apitypes.Type{
		{Name: "loanERC20Denomination", Type: "address"},
		{Name: "loanPrincipalAmount", Type: "uint256"},
		{Name: "maximumRepaymentAmount", Type: "uint256"},
		{Name: "nftCollateralContract", Type: "address"},
	}
	switch m.primary {
	case PrimaryTypeAssetOffer:
		fields = append(fields, apitypes.Type{Name: "nftCollateralId", Type: "uint256"})
	case PrimaryTypeCollectionRangeOffer:
		fields = append(fields,
			apitypes.Type{Name: "minId", Type: "uint256"},
			apitypes.Type{Name: "maxId", Type: "uint256"},
		)
	}
	return append(fields,
		apitypes.Type{Name: "loanDuration", Type: "uint256"},
		apitypes.Type{Name: "isProRata", Type: "bool"},
		apitypes.Type{Name: "originationFee", Type: "uint256"},
		apitypes.Type{Name: "liquidityCap", Type: "uint256"},
		apitypes.Type{Name: "allowedBorrowers", Type: "address[]"},
		apitypes.Type{Name: "offerType", Type: "string"},
		apitypes.Type{Name: "signer", Type: "address"},
		apitypes.Type{Name: "nonce", Type: "uint256"},
		apitypes.Type{Name: "expiry", Type: "uint256"},
	)
}

func (m offerMessage) Message() apitypes.TypedDataMessage {
	o := m.offer
	msg := apitypes.TypedDataMessage{
		"loanERC20Denomination":  signing.Address(o.Denomination),
		"loanPrincipalAmount":    signing.Amount(o.Principal),
		"maximumRepaymentAmount": signing.Amount(o.MaximumRepayment),
		"nftCollateralContract":  signing.Address(o.CollateralContract),
		"loanDuration":           signing.Uint(o.Duration),
		"isProRata":              o.IsProRata,
		"originationFee":         signing.Amount(o.OriginationFee),
		"liquidityCap":           signing.Amount(o.LiquidityCap),
		"allowedBorrowers":       signing.Addresses(o.AllowedBorrowers),
		"offerType":              m.offerType,
		"signer":                 signing.Address(m.auth.Signer),
		"nonce":                  signing.Uint(m.auth.Nonce),
		"expiry":                 signing.Uint(m.auth.Expiry),
	}
	switch m.primary {
	case PrimaryTypeAssetOffer:
		msg["nftCollateralId"] = signing.Amount(o.CollateralID)
	case PrimaryTypeCollectionRangeOffer:
		msg["minId"] = signing.Amount(o.MinID)
		msg["maxId"] = signing.Amount(o.MaxID)
	}
	return msg
}

type renegotiationMessage struct {
	offerType string
	r         Renegotiation
	auth      Authorization
}

func (renegotiationMessage) PrimaryType() string { return PrimaryTypeRenegotiation }

func (renegotiationMessage) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "loanId", Type: "uint256"},
		{Name: "newLoanDuration", Type: "uint256"},
		{Name: "newMaximumRepaymentAmount", Type: "uint256"},
		{Name: "renegotiationFee", Type: "uint256"},
		{Name: "offerType", Type: "string"},
		{Name: "signer", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
	}
}

func (m renegotiationMessage) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"loanId":                    signing.Uint(m.r.LoanID),
		"newLoanDuration":           signing.Uint(m.r.NewDuration),
		"newMaximumRepaymentAmount": signing.Amount(m.r.NewMaximumRepayment),
		"renegotiationFee":          signing.Amount(m.r.RenegotiationFee),
		"offerType":                 m.offerType,
		"signer":                    signing.Address(m.auth.Signer),
		"nonce":                     signing.Uint(m.auth.Nonce),
		"expiry":                    signing.Uint(m.auth.Expiry),
	}
}

// OfferHash returns the digest a lender signs for an offer accepted in the
// given mode (one of the offer primary types) by the issuer at domain.
func OfferHash(domain signing.Domain, primaryType, offerType string, offer Offer, auth Authorization) (common.Hash, error) {
	return signing.Hash(domain, offerMessage{primary: primaryType, offerType: offerType, offer: offer, auth: auth})
}

// RenegotiationHash returns the digest a lender signs to renegotiate a loan.
func RenegotiationHash(domain signing.Domain, offerType string, r Renegotiation, auth Authorization) (common.Hash, error) {
	return signing.Hash(domain, renegotiationMessage{offerType: offerType, r: r, auth: auth})
}
