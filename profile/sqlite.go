package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/domcapture/internal/dbopen"
)

// Schema for the profiles table.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	content    BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, name)
);
`

// SQLiteStore keeps profiles in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the profile database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// NewSQLiteStore wraps an open database. The schema is applied.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("profile: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, k Kind, name string) ([]byte, error) {
	if err := checkKind(k); err != nil {
		return nil, err
	}
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM profiles WHERE kind = ? AND name = ?`, string(k), name,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s/%s: %w", k, name, err)
	}
	return content, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, k Kind) ([]string, error) {
	if err := checkKind(k); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM profiles WHERE kind = ? ORDER BY name COLLATE NOCASE`, string(k))
	if err != nil {
		return nil, fmt.Errorf("profile: list %s: %w", k, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, k Kind, name string, content []byte) error {
	if err := checkKind(k); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	if content == nil {
		content = []byte{}
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO profiles (kind, name, content, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		string(k), name, content, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("profile: put %s/%s: %w", k, name, err)
	}
	return nil
}
