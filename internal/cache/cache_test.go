package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/defi-intent/internal/command"
	"github.com/ggonzalez94/defi-intent/internal/model"
)

func newPending(id string, created time.Time) command.Pending {
	return command.Pending{
		ID:      id,
		Request: command.Request{Intent: model.IntentLend, Input: "lend 100 usdc"},
		Parameters: model.CommandParameters{
			Primary: model.PrimaryParameters{Amount: "100", Token: "USDC"},
		},
		Options: model.DisambiguationOptions{
			Type:      model.AmbiguityMissingProtocol,
			Question:  "Which protocol would you like to use?",
			Options:   []model.DisambiguationOption{{ID: "yei-finance", Label: "Yei Finance"}},
			TimeoutMS: 30000,
		},
		CreatedAt: created,
	}
}

func TestPendingPutGetFreshAndExpired(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, err := Open(filepath.Join(tmp, "pending.db"), filepath.Join(tmp, "pending.lock"), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("Open pending store failed: %v", err)
	}
	defer store.Close()

	if err := store.Put(newPending("clr_1", now)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entry, err := store.Get("clr_1")
	if err != nil {
		t.Fatalf("Get fresh failed: %v", err)
	}
	if !entry.Hit || entry.Expired {
		t.Fatalf("expected fresh hit, got %+v", entry)
	}
	if entry.Pending.Parameters.Primary.Token != "USDC" || entry.Pending.Options.Options[0].ID != "yei-finance" {
		t.Fatalf("pending payload did not survive the store: %+v", entry.Pending)
	}
	if !entry.Pending.CreatedAt.Equal(now) {
		t.Fatalf("unexpected created_at: %s", entry.Pending.CreatedAt)
	}

	now = now.Add(31 * time.Second)
	entry, err = store.Get("clr_1")
	if err != nil {
		t.Fatalf("Get expired failed: %v", err)
	}
	if !entry.Hit || !entry.Expired {
		t.Fatalf("expected expired hit, got %+v", entry)
	}
	if entry.Age != 31*time.Second {
		t.Fatalf("unexpected age: %s", entry.Age)
	}
}

func TestPendingPruneAndDelete(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, err := Open(filepath.Join(tmp, "pending.db"), filepath.Join(tmp, "pending.lock"), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("Open pending store failed: %v", err)
	}
	defer store.Close()

	if err := store.Put(newPending("clr_old", now)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(newPending("clr_new", now)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete("clr_new"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if entry, _ := store.Get("clr_new"); entry.Hit {
		t.Fatal("expected deleted entry to miss")
	}

	now = now.Add(Grace + time.Minute)
	if err := store.Prune(); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if entry, _ := store.Get("clr_old"); entry.Hit {
		t.Fatal("expected pruned entry to miss")
	}
}

func TestPendingPutRequiresID(t *testing.T) {
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "pending.db"), filepath.Join(tmp, "pending.lock"))
	if err != nil {
		t.Fatalf("Open pending store failed: %v", err)
	}
	defer store.Close()
	if err := store.Put(command.Pending{}); err == nil {
		t.Fatal("expected error for missing pending id")
	}
}

func TestPendingConcurrentOpenAndPut(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "pending.db")
	lockPath := filepath.Join(tmp, "pending.lock")

	const workers = 8
	const iterations = 20

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()

			for i := 0; i < iterations; i++ {
				id := fmt.Sprintf("clr_%d_%d", workerID, i)
				if err := store.Put(newPending(id, time.Now().UTC())); err != nil {
					errCh <- fmt.Errorf("worker %d put iter %d: %w", workerID, i, err)
					return
				}
				entry, err := store.Get(id)
				if err != nil {
					errCh <- fmt.Errorf("worker %d get iter %d: %w", workerID, i, err)
					return
				}
				if !entry.Hit {
					errCh <- fmt.Errorf("worker %d get iter %d: expected hit", workerID, i)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
