package coordinator

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypeOfferTypeRegistered = "coordinator.offer_type.registered"
	EventTypeLoanRegistered      = "coordinator.loan.registered"
	EventTypeLoanResolved        = "coordinator.loan.resolved"
	EventTypeOwnershipReset      = "coordinator.loan.ownership_reset"
	EventTypeTokenMinted         = "coordinator.token.minted"
	EventTypeNonceCancelled      = "coordinator.nonce.cancelled"
)

func loanAttrs(loan *Loan) map[string]string {
	return map[string]string{
		"loanId":    strconv.FormatUint(loan.ID, 10),
		"issuer":    strings.ToLower(loan.Issuer.Hex()),
		"offerType": loan.OfferType,
		"status":    loan.Status.String(),
	}
}

func newOfferTypeRegisteredEvent(offerType string, issuer common.Address) *types.Event {
	return &types.Event{Type: EventTypeOfferTypeRegistered, Attributes: map[string]string{
		"offerType": offerType,
		"issuer":    strings.ToLower(issuer.Hex()),
	}}
}

func newLoanEvent(eventType string, loan *Loan) *types.Event {
	return &types.Event{Type: eventType, Attributes: loanAttrs(loan)}
}

func newTokenMintedEvent(loan *Loan, kind TokenKind, tokenID string, owner common.Address) *types.Event {
	attrs := loanAttrs(loan)
	attrs["kind"] = kind.String()
	attrs["tokenId"] = tokenID
	attrs["owner"] = strings.ToLower(owner.Hex())
	return &types.Event{Type: EventTypeTokenMinted, Attributes: attrs}
}

func newNonceCancelledEvent(offerType string, signer common.Address, nonce uint64) *types.Event {
	return &types.Event{Type: EventTypeNonceCancelled, Attributes: map[string]string{
		"offerType": offerType,
		"signer":    strings.ToLower(signer.Hex()),
		"nonce":     strconv.FormatUint(nonce, 10),
	}}
}
