package strategy

import (
	_ "embed"
	"fmt"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/risk"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Step struct {
	Action       model.Intent `yaml:"action" json:"action"`
	Protocol     string       `yaml:"protocol" json:"protocol"`
	Token        string       `yaml:"token" json:"token"`
	EstimatedGas uint64       `yaml:"estimated_gas" json:"estimated_gas"`
}

// Info is a read-only catalog strategy. APY is a percentage.
type Info struct {
	ID           string     `yaml:"id" json:"id"`
	Name         string     `yaml:"name" json:"name"`
	Description  string     `yaml:"description" json:"description"`
	Protocols    []string   `yaml:"protocols" json:"protocols"`
	Tokens       []string   `yaml:"tokens" json:"tokens"`
	Risk         risk.Level `yaml:"risk" json:"risk"`
	APY          float64    `yaml:"apy" json:"apy"`
	MinAmount    float64    `yaml:"min_amount" json:"min_amount"`
	MaxAmount    float64    `yaml:"max_amount" json:"max_amount,omitempty"`
	Popularity   float64    `yaml:"popularity" json:"popularity"`
	UsesLeverage bool       `yaml:"uses_leverage" json:"uses_leverage"`
	MaxLeverage  float64    `yaml:"max_leverage" json:"max_leverage,omitempty"`
	DurationDays int        `yaml:"duration_days" json:"duration_days,omitempty"`
	Steps        []Step     `yaml:"steps" json:"steps"`
}

func (s Info) maxStepGas() uint64 {
	var highest uint64
	for _, step := range s.Steps {
		if step.EstimatedGas > highest {
			highest = step.EstimatedGas
		}
	}
	return highest
}

type catalogFile struct {
	Strategies []Info `yaml:"strategies"`
}

func DefaultCatalog() ([]Info, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes a YAML strategy catalog and checks each entry.
func ParseCatalog(data []byte) ([]Info, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse strategy catalog", err)
	}
	seen := map[string]struct{}{}
	for _, s := range file.Strategies {
		if s.ID == "" {
			return nil, clierr.New(clierr.CodeUsage, "strategy catalog entry without id")
		}
		if _, dup := seen[s.ID]; dup {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("strategy %s listed twice", s.ID))
		}
		seen[s.ID] = struct{}{}
		if s.Risk.Ordinal() < 0 {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("strategy %s has unknown risk %q", s.ID, s.Risk))
		}
		if s.MaxAmount > 0 && s.MaxAmount < s.MinAmount {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("strategy %s has max_amount below min_amount", s.ID))
		}
	}
	return file.Strategies, nil
}
