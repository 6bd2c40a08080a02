package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
)

type Category string

const (
	CategoryLending Category = "lending"
	CategoryDEX     Category = "dex"
	CategoryPerps   Category = "perps"
	CategoryStaking Category = "staking"
)

// Protocol is a read-only registry entry. Rank orders protocols offered for
// the same intent (lower first). Tier is the liquidity tier used by risk
// scoring: 1 deep, 3 shallow.
type Protocol struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Aliases     []string       `json:"aliases,omitempty"`
	Category    Category       `json:"category"`
	Intents     []model.Intent `json:"intents"`
	Rank        int            `json:"rank"`
	Tier        int            `json:"tier"`
}

func (p Protocol) Supports(intent model.Intent) bool {
	for _, i := range p.Intents {
		if i == intent {
			return true
		}
	}
	return false
}

var defaultProtocols = []Protocol{
	{
		Name: "yei-finance", DisplayName: "Yei Finance", Aliases: []string{"yei", "yeifinance"},
		Category: CategoryLending, Rank: 1, Tier: 1,
		Intents: []model.Intent{model.IntentLend, model.IntentWithdraw, model.IntentBorrow, model.IntentRepay},
	},
	{
		Name: "takara", DisplayName: "Takara Lend", Aliases: []string{"takara-lend", "takaralend"},
		Category: CategoryLending, Rank: 2, Tier: 2,
		Intents: []model.Intent{model.IntentLend, model.IntentWithdraw, model.IntentBorrow, model.IntentRepay},
	},
	{
		Name: "silo", DisplayName: "Silo", Aliases: []string{"silo-stake", "silo-finance"},
		Category: CategoryStaking, Rank: 1, Tier: 1,
		Intents: []model.Intent{model.IntentStake, model.IntentUnstake},
	},
	{
		Name: "dragonswap", DisplayName: "DragonSwap", Aliases: []string{"dragon", "dragon-swap"},
		Category: CategoryDEX, Rank: 1, Tier: 1,
		Intents: []model.Intent{model.IntentSwap, model.IntentAddLiquidity, model.IntentRemoveLiquidity, model.IntentArbitrage},
	},
	{
		Name: "symphony", DisplayName: "Symphony", Aliases: []string{"symphony-aggregator"},
		Category: CategoryDEX, Rank: 2, Tier: 2,
		Intents: []model.Intent{model.IntentSwap, model.IntentArbitrage, model.IntentCrossProtocolArbitrage},
	},
	{
		Name: "astroport", DisplayName: "Astroport", Aliases: []string{"astro"},
		Category: CategoryDEX, Rank: 3, Tier: 1,
		Intents: []model.Intent{model.IntentSwap, model.IntentAddLiquidity, model.IntentRemoveLiquidity},
	},
	{
		Name: "citrex", DisplayName: "Citrex", Aliases: []string{"citrex-markets"},
		Category: CategoryPerps, Rank: 1, Tier: 3,
		Intents: []model.Intent{model.IntentOpenPosition, model.IntentClosePosition},
	},
}

// Registry is an immutable protocol table built once.
type Registry struct {
	protocols []Protocol
	byKey     map[string]int
}

// Default returns the built-in protocol table.
func Default() *Registry {
	return New(defaultProtocols)
}

func New(protocols []Protocol) *Registry {
	r := &Registry{
		protocols: append([]Protocol(nil), protocols...),
		byKey:     make(map[string]int, len(protocols)*2),
	}
	for i, p := range r.protocols {
		r.byKey[key(p.Name)] = i
		for _, alias := range p.Aliases {
			r.byKey[key(alias)] = i
		}
	}
	return r
}

// Only returns a registry restricted to the named protocols. Unknown names
// are ignored; an empty list keeps everything.
func (r *Registry) Only(names []string) *Registry {
	if len(names) == 0 {
		return r
	}
	kept := make([]Protocol, 0, len(names))
	for _, p := range r.protocols {
		for _, name := range names {
			if key(name) == key(p.Name) {
				kept = append(kept, p)
				break
			}
		}
	}
	return New(kept)
}

func (r *Registry) All() []Protocol {
	return append([]Protocol(nil), r.protocols...)
}

func (r *Registry) Lookup(name string) (Protocol, bool) {
	i, ok := r.byKey[key(name)]
	if !ok {
		return Protocol{}, false
	}
	return r.protocols[i], true
}

// Resolve maps a name or alias to its canonical protocol.
func (r *Registry) Resolve(name string) (Protocol, error) {
	if strings.TrimSpace(name) == "" {
		return Protocol{}, clierr.Domain(clierr.KindProtocolResolution, "PROTOCOL_EMPTY", "protocol name is required")
	}
	if p, ok := r.Lookup(name); ok {
		return p, nil
	}
	e := clierr.Domain(clierr.KindProtocolResolution, "PROTOCOL_NOT_FOUND", fmt.Sprintf("unknown protocol %q", name))
	if suggestions := r.closest(name, 3); len(suggestions) > 0 {
		e.WithDetail("suggestions", suggestions)
	}
	return Protocol{}, e
}

// Viable lists protocols offering intent in rank order.
func (r *Registry) Viable(intent model.Intent) []Protocol {
	out := []Protocol{}
	for _, p := range r.protocols {
		if p.Supports(intent) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names returns canonical names in table order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.protocols))
	for _, p := range r.protocols {
		out = append(out, p.Name)
	}
	return out
}

func (r *Registry) closest(name string, limit int) []string {
	type scored struct {
		name string
		dist int
	}
	target := key(name)
	candidates := make([]scored, 0, len(r.protocols))
	for _, p := range r.protocols {
		d := levenshtein.ComputeDistance(target, key(p.Name))
		if d <= len(target)/2+1 {
			candidates = append(candidates, scored{name: p.Name, dist: d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	out := []string{}
	for i := 0; i < len(candidates) && i < limit; i++ {
		out = append(out, candidates[i].name)
	}
	return out
}

func key(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	var b strings.Builder
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
