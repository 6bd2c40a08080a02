package store

import (
	"path/filepath"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/id"
	"github.com/ggonzalez94/defi-intent/internal/model"
)

func newCommand(intent model.Intent, protocol string, level model.RiskLevel, created time.Time) model.ExecutableCommand {
	return model.ExecutableCommand{
		ID:     id.NewCommandID(),
		Intent: intent,
		Action: protocol + "." + string(intent),
		Parameters: model.CommandParameters{
			Primary: model.PrimaryParameters{Amount: "100", Token: "USDC", Protocol: protocol},
		},
		Metadata:         model.CommandMetadata{CreatedAt: created, Confidence: 0.9},
		ValidationStatus: model.ValidationValid,
		RiskLevel:        level,
	}
}

func TestStoreSaveGetList(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "commands.db"), filepath.Join(dir, "commands.lock"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lend := newCommand(model.IntentLend, "yei-finance", model.RiskLow, base)
	swap := newCommand(model.IntentSwap, "dragonswap", model.RiskMedium, base.Add(time.Minute))
	for _, cmd := range []model.ExecutableCommand{lend, swap} {
		if err := store.Save(cmd); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	got, err := store.Get(lend.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Action != "yei-finance.lend" || got.Parameters.Primary.Token != "USDC" {
		t.Fatalf("unexpected command: %+v", got)
	}

	all, err := store.List(Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != swap.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}

	swaps, err := store.List(Filter{Intent: model.IntentSwap, Limit: 10})
	if err != nil {
		t.Fatalf("List by intent failed: %v", err)
	}
	if len(swaps) != 1 || swaps[0].ID != swap.ID {
		t.Fatalf("unexpected filtered list: %+v", swaps)
	}
	low, err := store.List(Filter{RiskLevel: model.RiskLow})
	if err != nil {
		t.Fatalf("List by risk failed: %v", err)
	}
	if len(low) != 1 || low[0].ID != lend.ID {
		t.Fatalf("unexpected risk filtered list: %+v", low)
	}
}

func TestStoreRejectsDuplicateID(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "commands.db"), filepath.Join(dir, "commands.lock"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cmd := newCommand(model.IntentLend, "takara", model.RiskMedium, time.Now().UTC())
	if err := store.Save(cmd); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(cmd); err == nil {
		t.Fatal("expected error when saving the same command twice")
	}
}

func TestStoreGetMissingCommand(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "commands.db"), filepath.Join(dir, "commands.lock"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Get("cmd_missing")
	if err == nil {
		t.Fatal("expected error for missing command")
	}
	if clierr.ExitCode(err) != int(clierr.CodeNotFound) {
		t.Fatalf("expected not found exit code, got %d", clierr.ExitCode(err))
	}
}
