package policy

import "testing"

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "assets resolve"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"Assets  Resolve"}, "assets resolve"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"risk assess"}, "parse"); err == nil {
		t.Fatal("expected command to be blocked")
	}
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	if rules.MaxLTV.String() != "0.75" {
		t.Fatalf("unexpected ltv: %s", rules.MaxLTV)
	}
	if !rules.IsLiquid("wsei") || rules.IsLiquid("PEPE") {
		t.Fatalf("unexpected liquid set membership")
	}
}
