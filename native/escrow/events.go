package escrow

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypeCollateralLocked   = "escrow.collateral.locked"
	EventTypeCollateralUnlocked = "escrow.collateral.unlocked"
	EventTypeLoanHandedOver     = "escrow.collateral.handed_over"
	EventTypeDelegated          = "escrow.collateral.delegated"
	EventTypeUndelegated        = "escrow.collateral.undelegated"
	EventTypePluginUpdated      = "escrow.plugin.updated"
	EventTypePersonalCreated    = "escrow.personal.created"
	EventTypeDrained            = "escrow.drained"
)

func hexAddr(a common.Address) string { return strings.ToLower(a.Hex()) }

func newLockEvent(eventType string, lock *Lock) *types.Event {
	attrs := map[string]string{
		"vault":    hexAddr(lock.Vault),
		"issuer":   hexAddr(lock.Issuer),
		"borrower": hexAddr(lock.Borrower),
		"wrapper":  lock.WrapperType,
		"contract": hexAddr(lock.Contract),
		"tokenId":  cloneID(lock.TokenID).String(),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newUnlockEvent(lock *Lock, recipient common.Address) *types.Event {
	evt := newLockEvent(EventTypeCollateralUnlocked, lock)
	evt.Attributes["recipient"] = hexAddr(recipient)
	return evt
}

func newDelegationEvent(eventType string, lock *Lock, d Delegation) *types.Event {
	evt := newLockEvent(eventType, lock)
	evt.Attributes["plugin"] = hexAddr(d.Plugin)
	evt.Attributes["delegate"] = hexAddr(d.Delegate)
	return evt
}

func newPluginEvent(plugin common.Address, enabled bool) *types.Event {
	status := "removed"
	if enabled {
		status = "added"
	}
	return &types.Event{Type: EventTypePluginUpdated, Attributes: map[string]string{
		"plugin": hexAddr(plugin),
		"status": status,
	}}
}

func newPersonalCreatedEvent(v *Vault) *types.Event {
	return &types.Event{Type: EventTypePersonalCreated, Attributes: map[string]string{
		"vault": hexAddr(v.Address),
		"owner": hexAddr(v.Owner),
	}}
}

func newDrainedEvent(vault, asset, to common.Address, what string) *types.Event {
	return &types.Event{Type: EventTypeDrained, Attributes: map[string]string{
		"vault": hexAddr(vault),
		"asset": hexAddr(asset),
		"to":    hexAddr(to),
		"what":  what,
	}}
}
