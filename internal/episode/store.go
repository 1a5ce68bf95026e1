package episode

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists for a correlation id.
var ErrNotFound = errors.New("episode record not found")

// Store persists episode records keyed by correlation id.
type Store interface {
	Put(ctx context.Context, record *Record) error
	Get(ctx context.Context, correlationID string) (*Record, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// SQLiteStore is the reference Store over an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) an episode store at path. Use ":memory:"
// for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open episode store %s: %w", path, err)
	}
	// One writer at a time keeps the modernc driver happy.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	correlation_id TEXT PRIMARY KEY,
	template_id    TEXT NOT NULL DEFAULT '',
	success        INTEGER NOT NULL DEFAULT 0,
	final_state    TEXT NOT NULL DEFAULT '',
	completed_at   TEXT NOT NULL DEFAULT '',
	record         BLOB NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate episode store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put upserts a record by correlation id.
func (s *SQLiteStore) Put(ctx context.Context, record *Record) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode episode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO episodes (correlation_id, template_id, success, final_state, completed_at, record)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(correlation_id) DO UPDATE SET
	template_id = excluded.template_id,
	success = excluded.success,
	final_state = excluded.final_state,
	completed_at = excluded.completed_at,
	record = excluded.record`,
		record.CorrelationID, string(record.TemplateID), boolInt(record.Success),
		string(record.FinalState), record.CompletedAt.Format(timeFormat), blob)
	if err != nil {
		return fmt.Errorf("put episode %s: %w", record.CorrelationID, err)
	}
	return nil
}

// Get loads a record by correlation id.
func (s *SQLiteStore) Get(ctx context.Context, correlationID string) (*Record, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM episodes WHERE correlation_id = ?`, correlationID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get episode %s: %w", correlationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get episode %s: %w", correlationID, err)
	}
	var record Record
	if err := json.Unmarshal(blob, &record); err != nil {
		return nil, fmt.Errorf("decode episode %s: %w", correlationID, err)
	}
	return &record, nil
}

// List returns every stored correlation id, ordered by completion time and
// then by correlation id.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT correlation_id FROM episodes ORDER BY completed_at, correlation_id`)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
