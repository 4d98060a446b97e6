package config

// Issuer describes one loan issuer deployment.
type Issuer struct {
	// Name derives the issuer's module address.
	Name                     string `toml:"Name"`
	OfferType                string `toml:"OfferType"`
	Kind                     string `toml:"Kind"`
	MaxLoanDuration          uint64 `toml:"MaxLoanDuration"`
	AdminFeeBps              uint32 `toml:"AdminFeeBps"`
	RenegotiationAdminFeeBps uint32 `toml:"RenegotiationAdminFeeBps"`
	ProRataDisabled          bool   `toml:"ProRataDisabled"`
	// Adapter selects how the refinancing engine closes this issuer's loans.
	Adapter string `toml:"Adapter"`
}

// Flash configures the flash liquidity pool.
type Flash struct {
	FeeBps uint32 `toml:"FeeBps"`
}

// Swap configures the swap venue.
type Swap struct {
	FeeBps uint32 `toml:"FeeBps"`
}

// Refinance configures the refinancing engine.
type Refinance struct {
	FallbackBorrowToken string `toml:"FallbackBorrowToken"`
}

// RPC configures the HTTP query surface.
type RPC struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	ReadTimeout       int     `toml:"ReadTimeout"`
	WriteTimeout      int     `toml:"WriteTimeout"`
}

// Logging configures log output.
type Logging struct {
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Pauses lists modules paused at startup.
type Pauses struct {
	Lending   bool `toml:"Lending"`
	Flash     bool `toml:"Flash"`
	Swap      bool `toml:"Swap"`
	Refinance bool `toml:"Refinance"`
}
