package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-intent/internal/command"
	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store keeps pending clarifications between CLI invocations. An entry lives
// for the timeout of its question; expired entries are still readable until
// the next prune so the caller can report expiry instead of not-found.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Entry struct {
	Hit     bool
	Pending command.Pending
	Age     time.Duration
	Expired bool
}

// Grace keeps expired entries around long enough to answer with a stale error.
const Grace = 24 * time.Hour

type Option func(*Store)

// WithClock sets the clock used for expiry and pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func Open(path, lockPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pending store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite pending store: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS pending_clarifications (
			pending_id TEXT PRIMARY KEY,
			ambiguity_type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init pending schema: %w", err)
		}
	}

	store := &Store{db: db, lock: flock.New(lockPath), now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	_ = store.Prune()
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes entries that expired more than Grace ago.
func (s *Store) Prune() error {
	if s == nil || s.db == nil {
		return nil
	}
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()
	cutoff := s.now().UTC().Add(-Grace).UnixMilli()
	if _, err := s.db.Exec("DELETE FROM pending_clarifications WHERE expires_at < ?", cutoff); err != nil {
		return fmt.Errorf("prune pending: %w", err)
	}
	return nil
}

func (s *Store) Put(p command.Pending) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("save pending: missing pending id")
	}
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending: %w", err)
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = s.now().UTC()
	}
	expires := created.Add(p.Options.Timeout())
	_, err = s.db.Exec(`
		INSERT INTO pending_clarifications (pending_id, ambiguity_type, created_at, expires_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pending_id) DO UPDATE SET
			ambiguity_type=excluded.ambiguity_type,
			created_at=excluded.created_at,
			expires_at=excluded.expires_at,
			payload=excluded.payload
	`, p.ID, string(p.Options.Type), created.UnixMilli(), expires.UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("pending write: %w", err)
	}
	return nil
}

func (s *Store) Get(pendingID string) (Entry, error) {
	var payload []byte
	var createdMS, expiresMS int64
	err := s.db.QueryRow("SELECT payload, created_at, expires_at FROM pending_clarifications WHERE pending_id = ?", pendingID).
		Scan(&payload, &createdMS, &expiresMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{Hit: false}, nil
		}
		return Entry{}, fmt.Errorf("pending read: %w", err)
	}
	var p command.Pending
	if err := json.Unmarshal(payload, &p); err != nil {
		return Entry{}, fmt.Errorf("decode pending payload: %w", err)
	}

	now := s.now().UTC()
	age := now.Sub(time.UnixMilli(createdMS))
	if age < 0 {
		age = 0
	}
	return Entry{
		Hit:     true,
		Pending: p,
		Age:     age,
		Expired: now.After(time.UnixMilli(expiresMS)),
	}, nil
}

// Delete removes an answered clarification. Missing ids are not an error.
func (s *Store) Delete(pendingID string) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()
	if _, err := s.db.Exec("DELETE FROM pending_clarifications WHERE pending_id = ?", pendingID); err != nil {
		return fmt.Errorf("pending delete: %w", err)
	}
	return nil
}

func (s *Store) acquire() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock pending store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock pending store: timeout acquiring lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}
