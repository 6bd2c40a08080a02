package errors

import (
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("expected 0 for nil, got %d", got)
	}
	if got := ExitCode(fmt.Errorf("plain")); got != int(CodeInternal) {
		t.Fatalf("expected internal code, got %d", got)
	}
	wrapped := fmt.Errorf("outer: %w", Domain(KindParameterValidation, "MISSING_PARAMETER", "amount is required"))
	if got := ExitCode(wrapped); got != int(CodeValidation) {
		t.Fatalf("expected validation code, got %d", got)
	}
}

func TestKindParent(t *testing.T) {
	err := Domain(KindCommandBuilding, "CANCELLED", "cancelled")
	if !IsKind(err, KindCommandProcessing) {
		t.Fatal("expected command building to sit under command processing")
	}
	if IsKind(err, KindAssetResolution) {
		t.Fatal("unexpected asset resolution match")
	}
	if !HasReason(err, "CANCELLED") {
		t.Fatal("expected reason to match")
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	run := func() (err error) {
		defer Recover(KindRiskAnalysis, &err)
		panic("boom")
	}
	err := run()
	e, ok := As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if e.Reason != ReasonInternal || e.Kind != KindRiskAnalysis {
		t.Fatalf("unexpected error: %+v", e)
	}
	if e.Details["originalError"] != "boom" {
		t.Fatalf("expected original error detail, got %v", e.Details)
	}
}

func TestTypeName(t *testing.T) {
	cases := map[string]error{
		"validation_error": Domain(KindParameterValidation, "X", "x"),
		"unresolved":       Domain(KindCommandBuilding, "CANCELLED", "x"),
		"usage_error":      Domain(KindAmountParsing, "X", "x"),
		"stale_data":       New(CodeStale, "expired"),
		"internal_error":   fmt.Errorf("plain"),
	}
	for want, err := range cases {
		if got := TypeName(err); got != want {
			t.Fatalf("TypeName(%v) = %q, want %q", err, got, want)
		}
	}
}
