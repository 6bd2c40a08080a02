package asset

import (
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/id"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(DefaultConfig(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return r
}

func TestResolveExactAndAlias(t *testing.T) {
	r := newResolver(t)

	res, err := r.Resolve("USDC")
	require.NoError(t, err)
	require.Equal(t, "USDC", res.Asset.Symbol)
	require.Equal(t, MatchExact, res.MatchType)
	require.Equal(t, 1.0, res.Confidence)

	res, err = r.Resolve("  usdc ")
	require.NoError(t, err)
	require.Equal(t, MatchExact, res.MatchType)

	res, err = r.Resolve("Tether")
	require.NoError(t, err)
	require.Equal(t, "USDT", res.Asset.Symbol)
	require.Equal(t, MatchAlias, res.MatchType)
	require.Equal(t, 0.95, res.Confidence)

	res, err = r.Resolve("wrapped sei")
	require.NoError(t, err)
	require.Equal(t, "WSEI", res.Asset.Symbol)
}

func TestResolveFuzzy(t *testing.T) {
	r := newResolver(t)

	res, err := r.Resolve("usdcc")
	require.NoError(t, err)
	require.Equal(t, "USDC", res.Asset.Symbol)
	require.Equal(t, MatchFuzzySymbol, res.MatchType)
	require.Greater(t, res.Confidence, 0.0)
	require.Less(t, res.Confidence, 1.0)
	require.InDelta(t, 0.72, res.Confidence, 1e-9)
	require.LessOrEqual(t, len(res.Alternatives), DefaultConfig().MaxSuggestions-1)

	res, err = r.Resolve("etherum")
	require.NoError(t, err)
	require.Equal(t, "ETH", res.Asset.Symbol)
	require.Equal(t, MatchFuzzyName, res.MatchType)
}

func TestResolveDeterministic(t *testing.T) {
	r := newResolver(t)
	first, err := r.Resolve("usdx")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := r.Resolve("usdx")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestResolveFuzzyDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableFuzzyMatching = false
	r, err := New(cfg)
	require.NoError(t, err)

	_, err = r.Resolve("usdcc")
	require.Error(t, err)
	require.True(t, clierr.HasReason(err, ReasonNotFound))
}

func TestResolveFailureSuggestions(t *testing.T) {
	r := newResolver(t)

	_, err := r.Resolve("stableusd")
	require.Error(t, err)
	require.True(t, clierr.IsKind(err, clierr.KindAssetResolution))
	e, ok := clierr.As(err)
	require.True(t, ok)
	suggestions, ok := e.Details["suggestions"].([]string)
	require.True(t, ok)
	joined := strings.Join(suggestions, "\n")
	require.Contains(t, joined, "stablecoins: USDC")
	require.Contains(t, joined, "popular assets: SEI")

	_, err = r.Resolve("!!!")
	require.True(t, clierr.HasReason(err, ReasonEmpty))
}

func TestCatalogQueries(t *testing.T) {
	r := newResolver(t)

	popular := r.Popular(3)
	require.Equal(t, []string{"SEI", "USDC", "ETH"}, symbols(popular))

	require.Equal(t, []string{"USDC", "USDT", "DAI", "FASTUSD"}, symbols(r.Stablecoins()))
	require.Equal(t, []string{"WSEI", "WBTC", "WETH"}, symbols(r.Suggest("w")))
	require.Empty(t, r.Suggest(" "))

	wrapped := r.Search(Filter{Category: CategoryWrapped, Query: "sei"})
	require.Equal(t, []string{"WSEI"}, symbols(wrapped))

	info, ok := r.Lookup("isei")
	require.True(t, ok)
	require.Equal(t, "iSEI", info.Symbol)
}

func TestCatalogAddressesAreValid(t *testing.T) {
	assets, err := DefaultCatalog()
	require.NoError(t, err)
	for _, a := range assets {
		if a.Address == "" {
			continue
		}
		require.True(t, id.IsEVMAddress(a.Address), a.Symbol)
	}
}

func TestParseCatalogRejectsDuplicates(t *testing.T) {
	_, err := ParseCatalog([]byte("assets:\n  - symbol: ABC\n  - symbol: abc\n"))
	require.Error(t, err)
	_, err = ParseCatalog([]byte("assets:\n  - name: nameless\n"))
	require.Error(t, err)
}

func symbols(assets []Info) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.Symbol)
	}
	return out
}
