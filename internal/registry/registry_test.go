package registry

import (
	"testing"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
)

func TestResolveAliases(t *testing.T) {
	reg := Default()
	for _, input := range []string{"yei", "Yei Finance", "YEI-FINANCE", "yei_finance"} {
		p, err := reg.Resolve(input)
		if err != nil {
			t.Fatalf("resolve %q: %v", input, err)
		}
		if p.Name != "yei-finance" {
			t.Fatalf("unexpected protocol for %q: %s", input, p.Name)
		}
	}
}

func TestResolveUnknownSuggests(t *testing.T) {
	_, err := Default().Resolve("dragonswp")
	if err == nil {
		t.Fatal("expected resolution error")
	}
	if !clierr.IsKind(err, clierr.KindProtocolResolution) {
		t.Fatalf("unexpected error kind: %v", err)
	}
	e, _ := clierr.As(err)
	suggestions, _ := e.Details["suggestions"].([]string)
	if len(suggestions) == 0 || suggestions[0] != "dragonswap" {
		t.Fatalf("unexpected suggestions: %#v", e.Details)
	}
}

func TestViableRankOrder(t *testing.T) {
	viable := Default().Viable(model.IntentSwap)
	if len(viable) != 3 {
		t.Fatalf("expected three swap venues, got %d", len(viable))
	}
	if viable[0].Name != "dragonswap" || viable[1].Name != "symphony" || viable[2].Name != "astroport" {
		t.Fatalf("unexpected order: %+v", viable)
	}
	if got := Default().Viable(model.IntentPortfolioStatus); len(got) != 0 {
		t.Fatalf("expected no venues for portfolio status, got %d", len(got))
	}
}

func TestOnlyRestrictsTable(t *testing.T) {
	reg := Default().Only([]string{"takara"})
	if got := reg.Viable(model.IntentLend); len(got) != 1 || got[0].Name != "takara" {
		t.Fatalf("unexpected restricted venues: %+v", got)
	}
	if _, err := reg.Resolve("yei"); err == nil {
		t.Fatal("expected filtered protocol to be unknown")
	}
}

func TestEstimateGas(t *testing.T) {
	if gas, ok := EstimateGas(model.IntentSwap); !ok || gas == 0 {
		t.Fatalf("unexpected swap gas: %d %v", gas, ok)
	}
	if _, ok := EstimateGas(model.IntentUnknown); ok {
		t.Fatal("did not expect gas for unknown intent")
	}
}
