package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAdminFeeBps              = 500
	DefaultRenegotiationAdminFeeBps = 500
	DefaultMaxLoanDuration          = 53 * 7 * 24 * 60 * 60
)

type Config struct {
	RPCAddress  string   `toml:"RPCAddress"`
	DataDir     string   `toml:"DataDir"`
	DBBackend   string   `toml:"DBBackend"`
	NetworkName string   `toml:"NetworkName"`
	ChainID     uint64   `toml:"ChainID"`
	Treasury    string   `toml:"Treasury"`
	Admins      []string `toml:"Admins"`
	PermitsFile string   `toml:"PermitsFile"`

	Issuers   []Issuer  `toml:"issuer"`
	Flash     Flash     `toml:"flash"`
	Swap      Swap      `toml:"swap"`
	Refinance Refinance `toml:"refinance"`
	RPC       RPC       `toml:"rpc"`
	Logging   Logging   `toml:"logging"`
	Pauses    Pauses    `toml:"pauses"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "nftlend-local"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if strings.TrimSpace(cfg.DBBackend) == "" {
		cfg.DBBackend = "leveldb"
	}
	if cfg.Admins == nil {
		cfg.Admins = []string{}
	}
	if cfg.RPC.ReadTimeout <= 0 {
		cfg.RPC.ReadTimeout = 15
	}
	if cfg.RPC.WriteTimeout <= 0 {
		cfg.RPC.WriteTimeout = 15
	}
	for i := range cfg.Issuers {
		issuer := &cfg.Issuers[i]
		if issuer.MaxLoanDuration == 0 {
			issuer.MaxLoanDuration = DefaultMaxLoanDuration
		}
		if strings.TrimSpace(issuer.Adapter) == "" {
			issuer.Adapter = "CURRENT"
		}
		if strings.TrimSpace(issuer.Name) == "" {
			issuer.Name = strings.ToLower(issuer.OfferType)
		}
	}
}

// Default returns the configuration written for a fresh node: one asset and
// one collection issuer.
func Default() *Config {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./nftlend-data",
		DBBackend:   "leveldb",
		NetworkName: "nftlend-local",
		ChainID:     1,
		Treasury:    "0x000000000000000000000000000000000000fee5",
		Admins:      []string{},
		Issuers: []Issuer{
			{
				Name:                     "asset-offer-loan",
				OfferType:                "ASSET_OFFER_LOAN",
				Kind:                     "asset",
				MaxLoanDuration:          DefaultMaxLoanDuration,
				AdminFeeBps:              DefaultAdminFeeBps,
				RenegotiationAdminFeeBps: DefaultRenegotiationAdminFeeBps,
				Adapter:                  "CURRENT",
			},
			{
				Name:                     "collection-offer-loan",
				OfferType:                "COLLECTION_OFFER_LOAN",
				Kind:                     "collection",
				MaxLoanDuration:          DefaultMaxLoanDuration,
				AdminFeeBps:              DefaultAdminFeeBps,
				RenegotiationAdminFeeBps: DefaultRenegotiationAdminFeeBps,
				Adapter:                  "CURRENT",
			},
		},
		Flash: Flash{FeeBps: 9},
		Swap:  Swap{FeeBps: 30},
		RPC:   RPC{RequestsPerMinute: 600, Burst: 60, ReadTimeout: 15, WriteTimeout: 15},
	}
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
