package asset

import (
	_ "embed"
	"fmt"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Category string

const (
	CategoryNative        Category = "native"
	CategoryWrapped       Category = "wrapped"
	CategoryStablecoin    Category = "stablecoin"
	CategoryLiquidStaking Category = "liquid_staking"
	CategoryDeFi          Category = "defi"
	CategoryMeme          Category = "meme"
)

// Info is a read-only catalog entry.
type Info struct {
	Symbol     string   `yaml:"symbol" json:"symbol"`
	Name       string   `yaml:"name" json:"name"`
	Aliases    []string `yaml:"aliases" json:"aliases,omitempty"`
	Decimals   int      `yaml:"decimals" json:"decimals"`
	Category   Category `yaml:"category" json:"category"`
	Stablecoin bool     `yaml:"stablecoin" json:"stablecoin"`
	Popularity float64  `yaml:"popularity" json:"popularity"`
	Address    string   `yaml:"address" json:"address,omitempty"`
}

type catalogFile struct {
	Assets []Info `yaml:"assets"`
}

// DefaultCatalog decodes the embedded asset catalog.
func DefaultCatalog() ([]Info, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes a YAML catalog and rejects duplicate or empty symbols.
func ParseCatalog(data []byte) ([]Info, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse asset catalog", err)
	}
	seen := map[string]struct{}{}
	for i, a := range file.Assets {
		key := normalize(a.Symbol)
		if key == "" {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("asset catalog entry %d has no symbol", i))
		}
		if _, dup := seen[key]; dup {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("asset catalog lists %s twice", a.Symbol))
		}
		seen[key] = struct{}{}
		if a.Category == CategoryStablecoin {
			file.Assets[i].Stablecoin = true
		}
	}
	return file.Assets, nil
}
