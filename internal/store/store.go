package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store is the local history of built commands. Commands are immutable, so
// saving an existing id is rejected rather than updated.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

type Filter struct {
	Intent    model.Intent
	RiskLevel model.RiskLevel
	Limit     int
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create command store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create command lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open command sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS commands (
			command_id TEXT PRIMARY KEY,
			intent TEXT NOT NULL,
			action TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_commands_intent_created ON commands(intent, created_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init command schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(cmd model.ExecutableCommand) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return fmt.Errorf("save command: missing command id")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock command store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock command store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	created := cmd.Metadata.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT INTO commands (command_id, intent, action, risk_level, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(command_id) DO NOTHING
	`, cmd.ID, string(cmd.Intent), cmd.Action, string(cmd.RiskLevel), created.UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("save command: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save command: %s already exists", cmd.ID)
	}
	return nil
}

func (s *Store) Get(commandID string) (model.ExecutableCommand, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM commands WHERE command_id = ?", commandID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ExecutableCommand{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("command not found: %s", commandID))
		}
		return model.ExecutableCommand{}, fmt.Errorf("read command: %w", err)
	}
	var cmd model.ExecutableCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return model.ExecutableCommand{}, fmt.Errorf("decode command payload: %w", err)
	}
	return cmd, nil
}

// List returns the newest commands first.
func (s *Store) List(f Filter) ([]model.ExecutableCommand, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if f.Intent != "" {
		where = append(where, "intent = ?")
		args = append(args, string(f.Intent))
	}
	if f.RiskLevel != "" {
		where = append(where, "risk_level = ?")
		args = append(args, string(f.RiskLevel))
	}
	query := "SELECT payload FROM commands"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, command_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	commands := make([]model.ExecutableCommand, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan command row: %w", err)
		}
		var cmd model.ExecutableCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return nil, fmt.Errorf("decode command row: %w", err)
		}
		commands = append(commands, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command rows: %w", err)
	}
	return commands, nil
}
