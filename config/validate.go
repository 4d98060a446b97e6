package config

import (
	"fmt"
	"strings"

	"nftlend/crypto"
)

const maxBps = 10_000

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if _, err := crypto.DecodeAddress(c.Treasury); err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	for _, admin := range c.Admins {
		if _, err := crypto.DecodeAddress(admin); err != nil {
			return fmt.Errorf("admins: %w", err)
		}
	}
	if token := strings.TrimSpace(c.Refinance.FallbackBorrowToken); token != "" {
		if _, err := crypto.DecodeAddress(token); err != nil {
			return fmt.Errorf("refinance: fallback borrow token: %w", err)
		}
	}
	switch c.DBBackend {
	case "leveldb", "bolt":
	default:
		return fmt.Errorf("DBBackend must be leveldb or bolt, got %q", c.DBBackend)
	}
	if c.Flash.FeeBps > maxBps {
		return fmt.Errorf("flash: fee_bps > %d", maxBps)
	}
	if c.Swap.FeeBps >= maxBps {
		return fmt.Errorf("swap: fee_bps must be below %d", maxBps)
	}
	if len(c.Issuers) == 0 {
		return fmt.Errorf("issuer: at least one issuer required")
	}
	seenTypes := make(map[string]string, len(c.Issuers))
	seenNames := make(map[string]struct{}, len(c.Issuers))
	for _, issuer := range c.Issuers {
		offerType := strings.ToUpper(strings.TrimSpace(issuer.OfferType))
		if offerType == "" {
			return fmt.Errorf("issuer %q: offer type required", issuer.Name)
		}
		if _, dup := seenNames[issuer.Name]; dup {
			return fmt.Errorf("issuer %q: duplicate name", issuer.Name)
		}
		seenNames[issuer.Name] = struct{}{}
		kind := strings.ToLower(strings.TrimSpace(issuer.Kind))
		switch kind {
		case "asset", "collection":
		default:
			return fmt.Errorf("issuer %q: kind must be asset or collection", issuer.Name)
		}
		// later deployments of an offer type take over origination; they
		// must keep its kind
		if prev, ok := seenTypes[offerType]; ok && prev != kind {
			return fmt.Errorf("issuer %q: %s deployments must share kind %s", issuer.Name, offerType, prev)
		}
		seenTypes[offerType] = kind
		if issuer.AdminFeeBps > maxBps || issuer.RenegotiationAdminFeeBps > maxBps {
			return fmt.Errorf("issuer %q: fee_bps > %d", issuer.Name, maxBps)
		}
		switch strings.ToUpper(strings.TrimSpace(issuer.Adapter)) {
		case "CURRENT", "LEGACY_V1":
		default:
			return fmt.Errorf("issuer %q: unknown adapter %q", issuer.Name, issuer.Adapter)
		}
	}
	return nil
}
