package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLite is the local backend: every entity is a CBOR record in a single
// table, ordered by a per-collection sequence number.
type SQLite struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLite{db: conn, locks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			body BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS records_by_seq ON records(collection, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Gateway exposes the database through the Collection contract.
func (s *SQLite) Gateway(opts Options) *Gateway {
	return assemble(recordCollections(s), opts, s.Close)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// lock serializes read-modify-write sequences on one collection.
func (s *SQLite) lock(coll string) func() {
	s.mu.Lock()
	l, ok := s.locks[coll]
	if !ok {
		l = &sync.Mutex{}
		s.locks[coll] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *SQLite) list(ctx context.Context, coll string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT body FROM records WHERE collection = ? ORDER BY seq ASC", coll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bodies [][]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		bodies = append(bodies, b)
	}
	return bodies, rows.Err()
}

func (s *SQLite) insert(ctx context.Context, coll, id string, body []byte) error {
	defer s.lock(coll)()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM records WHERE collection = ? AND id = ?)", coll, id,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrExists
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (collection, id, seq, body)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE collection = ?), ?)`,
		coll, id, coll, body,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) replace(ctx context.Context, coll, id string, body []byte) error {
	defer s.lock(coll)()

	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET body = ?, updated_at = CURRENT_TIMESTAMP WHERE collection = ? AND id = ?",
		body, coll, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) remove(ctx context.Context, coll, id string) error {
	defer s.lock(coll)()

	_, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE collection = ? AND id = ?", coll, id)
	return err
}
