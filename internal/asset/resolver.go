package asset

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"go.uber.org/zap"
)

const (
	ReasonEmpty    = "ASSET_EMPTY"
	ReasonNotFound = "ASSET_NOT_FOUND"
)

type MatchType string

const (
	MatchExact       MatchType = "exact"
	MatchAlias       MatchType = "alias"
	MatchFuzzySymbol MatchType = "fuzzy_symbol"
	MatchFuzzyName   MatchType = "fuzzy_name"
	MatchPartial     MatchType = "partial"
)

type Config struct {
	MinFuzzyScore       float64 `yaml:"min_fuzzy_score"`
	MaxSuggestions      int     `yaml:"max_suggestions"`
	EnableFuzzyMatching bool    `yaml:"enable_fuzzy_matching"`
	PreferStablecoins   bool    `yaml:"prefer_stablecoins"`
	PreferPopular       bool    `yaml:"prefer_popular"`
}

func DefaultConfig() Config {
	return Config{
		MinFuzzyScore:       0.6,
		MaxSuggestions:      5,
		EnableFuzzyMatching: true,
		PreferStablecoins:   false,
		PreferPopular:       true,
	}
}

type Match struct {
	Asset      Info      `json:"asset"`
	MatchType  MatchType `json:"match_type"`
	Confidence float64   `json:"confidence"`
}

type Resolution struct {
	Input        string    `json:"input"`
	Asset        Info      `json:"asset"`
	MatchType    MatchType `json:"match_type"`
	Confidence   float64   `json:"confidence"`
	Alternatives []Match   `json:"alternatives,omitempty"`
}

// Resolver maps free text to catalog assets. The catalog and its indexes are
// built once in New and never modified.
type Resolver struct {
	cfg      Config
	log      *zap.Logger
	assets   []Info
	bySymbol map[string]int
	byAlias  map[string]int
	names    []string
}

type Option func(*Resolver)

func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// New builds a resolver over the embedded catalog.
func New(cfg Config, opts ...Option) (*Resolver, error) {
	assets, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	return NewWithCatalog(cfg, assets, opts...), nil
}

func NewWithCatalog(cfg Config, assets []Info, opts ...Option) *Resolver {
	if cfg.MinFuzzyScore <= 0 || cfg.MinFuzzyScore > 1 {
		cfg.MinFuzzyScore = DefaultConfig().MinFuzzyScore
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultConfig().MaxSuggestions
	}
	r := &Resolver{
		cfg:      cfg,
		log:      zap.NewNop(),
		assets:   append([]Info(nil), assets...),
		bySymbol: make(map[string]int, len(assets)),
		byAlias:  map[string]int{},
		names:    make([]string, len(assets)),
	}
	for i, a := range r.assets {
		r.bySymbol[normalize(a.Symbol)] = i
		r.names[i] = normalize(a.Name)
	}
	for i, a := range r.assets {
		for _, alias := range a.Aliases {
			key := normalize(alias)
			if _, taken := r.bySymbol[key]; taken {
				continue
			}
			if _, taken := r.byAlias[key]; !taken {
				r.byAlias[key] = i
			}
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Config() Config { return r.cfg }

// Resolve tries an exact symbol, then an alias, then fuzzy matching.
func (r *Resolver) Resolve(input string) (res Resolution, err error) {
	defer clierr.Recover(clierr.KindAssetResolution, &err)

	norm := normalize(input)
	if norm == "" {
		return Resolution{}, clierr.Domain(clierr.KindAssetResolution, ReasonEmpty, "asset reference is empty")
	}
	if i, ok := r.bySymbol[norm]; ok {
		return Resolution{Input: input, Asset: r.assets[i], MatchType: MatchExact, Confidence: 1.0}, nil
	}
	if i, ok := r.byAlias[norm]; ok {
		return Resolution{Input: input, Asset: r.assets[i], MatchType: MatchAlias, Confidence: 0.95}, nil
	}
	if r.cfg.EnableFuzzyMatching {
		matches := r.fuzzy(norm)
		if len(matches) > 0 {
			best := matches[0]
			r.log.Debug("fuzzy asset match",
				zap.String("input", input),
				zap.String("symbol", best.Asset.Symbol),
				zap.Float64("confidence", best.Confidence))
			alts := matches[1:]
			if len(alts) > r.cfg.MaxSuggestions-1 {
				alts = alts[:r.cfg.MaxSuggestions-1]
			}
			if len(alts) == 0 {
				alts = nil
			}
			return Resolution{
				Input:        input,
				Asset:        best.Asset,
				MatchType:    best.MatchType,
				Confidence:   best.Confidence,
				Alternatives: alts,
			}, nil
		}
	}
	return Resolution{}, clierr.Domain(clierr.KindAssetResolution, ReasonNotFound, fmt.Sprintf("unknown asset %q", input)).
		WithDetail("input", input).
		WithDetail("suggestions", r.failureSuggestions(norm))
}

type scoredMatch struct {
	Match
	score float64
}

func (r *Resolver) fuzzy(norm string) []Match {
	scored := []scoredMatch{}
	for i, a := range r.assets {
		symbol := normalize(a.Symbol)
		name := r.names[i]

		best := scoredMatch{Match: Match{Asset: a}}
		if s := similarity(norm, symbol); s > best.score {
			best.score, best.MatchType, best.Confidence = s, MatchFuzzySymbol, s*0.9
		}
		if s := similarity(norm, name); s > best.score {
			best.score, best.MatchType, best.Confidence = s, MatchFuzzyName, s*0.8
		}
		if len(norm) >= 2 && best.score < 0.7 && partialMatch(norm, symbol, name) {
			best.score, best.MatchType, best.Confidence = 0.7, MatchPartial, 0.7
		}
		if best.score >= r.cfg.MinFuzzyScore {
			scored = append(scored, best)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if r.cfg.PreferPopular && a.Asset.Popularity != b.Asset.Popularity {
			return a.Asset.Popularity > b.Asset.Popularity
		}
		if r.cfg.PreferStablecoins && a.Asset.Stablecoin != b.Asset.Stablecoin {
			return a.Asset.Stablecoin
		}
		return a.Asset.Symbol < b.Asset.Symbol
	})
	out := make([]Match, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.Match)
	}
	return out
}

func partialMatch(norm, symbol, name string) bool {
	if len(symbol) >= 2 && (strings.Contains(norm, symbol) || strings.Contains(symbol, norm)) {
		return true
	}
	return strings.Contains(name, norm)
}

// similarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func (r *Resolver) failureSuggestions(norm string) []string {
	out := []string{}
	for _, a := range r.spelling(norm) {
		out = append(out, fmt.Sprintf("did you mean %s?", a.Symbol))
	}
	if strings.Contains(norm, "USD") || strings.Contains(norm, "STABLE") {
		symbols := []string{}
		for _, a := range r.Stablecoins() {
			symbols = append(symbols, a.Symbol)
		}
		out = append(out, "stablecoins: "+strings.Join(symbols, ", "))
	}
	popular := []string{}
	for _, a := range r.Popular(r.cfg.MaxSuggestions) {
		popular = append(popular, a.Symbol)
	}
	out = append(out, "popular assets: "+strings.Join(popular, ", "))
	return out
}

func (r *Resolver) spelling(norm string) []Info {
	out := []Info{}
	for _, a := range r.assets {
		if d := levenshtein.ComputeDistance(norm, normalize(a.Symbol)); d > 0 && d <= 2 {
			out = append(out, a)
		}
	}
	return out
}

// Lookup returns the asset with exactly this symbol or alias.
func (r *Resolver) Lookup(symbol string) (Info, bool) {
	norm := normalize(symbol)
	if i, ok := r.bySymbol[norm]; ok {
		return r.assets[i], true
	}
	if i, ok := r.byAlias[norm]; ok {
		return r.assets[i], true
	}
	return Info{}, false
}

func (r *Resolver) Assets() []Info {
	return append([]Info(nil), r.assets...)
}

type Filter struct {
	Query          string
	Category       Category
	StablecoinOnly bool
	Limit          int
}

// Search returns assets whose symbol, name or aliases contain the query,
// ordered by popularity.
func (r *Resolver) Search(f Filter) []Info {
	q := normalize(f.Query)
	out := []Info{}
	for i, a := range r.assets {
		if f.Category != "" && a.Category != f.Category {
			continue
		}
		if f.StablecoinOnly && !a.Stablecoin {
			continue
		}
		if q != "" && !r.containsQuery(i, q) {
			continue
		}
		out = append(out, a)
	}
	sortByPopularity(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (r *Resolver) containsQuery(i int, q string) bool {
	a := r.assets[i]
	if strings.Contains(normalize(a.Symbol), q) || strings.Contains(r.names[i], q) {
		return true
	}
	for _, alias := range a.Aliases {
		if strings.Contains(normalize(alias), q) {
			return true
		}
	}
	return false
}

func (r *Resolver) Popular(limit int) []Info {
	return r.Search(Filter{Limit: limit})
}

func (r *Resolver) Stablecoins() []Info {
	return r.Search(Filter{StablecoinOnly: true})
}

// Suggest autocompletes a symbol or name prefix.
func (r *Resolver) Suggest(prefix string) []Info {
	p := normalize(prefix)
	if p == "" {
		return []Info{}
	}
	out := []Info{}
	for i, a := range r.assets {
		if strings.HasPrefix(normalize(a.Symbol), p) || strings.HasPrefix(r.names[i], p) {
			out = append(out, a)
		}
	}
	sortByPopularity(out)
	if len(out) > r.cfg.MaxSuggestions {
		out = out[:r.cfg.MaxSuggestions]
	}
	return out
}

func sortByPopularity(assets []Info) {
	sort.SliceStable(assets, func(i, j int) bool {
		if assets[i].Popularity != assets[j].Popularity {
			return assets[i].Popularity > assets[j].Popularity
		}
		return assets[i].Symbol < assets[j].Symbol
	})
}

func normalize(v string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(v) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
