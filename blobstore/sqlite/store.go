// Package sqlite stores blobs as rows of a single SQLite table.
//
// It uses the pure-Go modernc.org/sqlite driver, so no cgo toolchain is
// needed. WAL journaling keeps readers off the writer's lock.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hupe1980/pagedb/blobstore"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	name TEXT PRIMARY KEY,
	data BLOB NOT NULL
);`

// Store implements blobstore.BlobStore on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" for a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL; PRAGMA synchronous = FULL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pragma: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open reads the whole row; page blobs are small.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: %s: %w", name, blobstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", name, err)
	}
	return blobstore.NewBytesBlob(data), nil
}

func (s *Store) Create(_ context.Context, name string) (blobstore.WritableBlob, error) {
	return &writer{s: s, name: name}, nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO blobs (name, data) VALUES (?, ?)`, name, data)
	if err != nil {
		return fmt.Errorf("sqlite: write %s: %w", name, err)
	}
	return nil
}

// PutBatch writes several blobs in one transaction.
func (s *Store) PutBatch(ctx context.Context, blobs map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO blobs (name, data) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for name, data := range blobs {
		if _, err := stmt.ExecContext(ctx, name, data); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: write %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", name, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM blobs WHERE substr(name, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %q: %w", prefix, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type writer struct {
	s    *Store
	name string
	buf  bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *writer) Sync() error                 { return nil }

func (w *writer) Close() error {
	return w.s.Put(context.Background(), w.name, w.buf.Bytes())
}
