package lending

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/native/fees"
)

// Config captures the runtime configuration of a loan issuer.
type Config struct {
	OfferType                string         `toml:"OfferType"`
	MaxLoanDuration          uint64         `toml:"MaxLoanDuration"`
	AdminFeeBps              uint32         `toml:"AdminFeeBps"`
	RenegotiationAdminFeeBps uint32         `toml:"RenegotiationAdminFeeBps"`
	ChainID                  uint64         `toml:"ChainID"`
	Treasury                 common.Address `toml:"-"`
	// ProRataDisabled marks deployments that only originate fixed-rate loans.
	ProRataDisabled bool `toml:"ProRataDisabled"`
}

// DefaultMaxLoanDuration is 53 weeks.
const DefaultMaxLoanDuration = 53 * 7 * 24 * 60 * 60

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.OfferType == "" {
		return errors.New("lending: offer type required")
	}
	if c.MaxLoanDuration == 0 {
		return errors.New("lending: max loan duration must be positive")
	}
	if err := fees.Validate(c.AdminFeeBps); err != nil {
		return fmt.Errorf("lending: admin fee: %w", err)
	}
	if err := fees.Validate(c.RenegotiationAdminFeeBps); err != nil {
		return fmt.Errorf("lending: renegotiation admin fee: %w", err)
	}
	if c.Treasury == (common.Address{}) {
		return errors.New("lending: treasury required")
	}
	return nil
}
