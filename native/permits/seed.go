package permits

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Seed is the on-disk format of the initial allow-lists, maintained by the
// deployment tooling.
type Seed struct {
	NFTs []struct {
		Contract string `yaml:"contract"`
		Type     string `yaml:"type"`
	} `yaml:"nfts"`
	ERC20s []string `yaml:"erc20s"`
}

// LoadSeed parses a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("permits: parse seed %s: %w", path, err)
	}
	return &seed, nil
}

// Apply writes every seed entry through the admin-gated setters.
func (r *Registry) Apply(caller common.Address, seed *Seed) error {
	if seed == nil {
		return nil
	}
	for _, nft := range seed.NFTs {
		if !common.IsHexAddress(nft.Contract) {
			return fmt.Errorf("permits: invalid nft contract %q", nft.Contract)
		}
		if err := r.SetNFTPermit(caller, common.HexToAddress(nft.Contract), nft.Type); err != nil {
			return err
		}
	}
	for _, token := range seed.ERC20s {
		if !common.IsHexAddress(token) {
			return fmt.Errorf("permits: invalid erc20 %q", token)
		}
		if err := r.SetERC20Permit(caller, common.HexToAddress(token), true); err != nil {
			return err
		}
	}
	return nil
}
