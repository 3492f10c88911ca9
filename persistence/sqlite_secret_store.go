package persistence

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSecretStore persists secrets in a SQLite database.
type SQLiteSecretStore struct {
	db *sql.DB
}

// NewSQLiteSecretStore opens/creates the database at dbPath.
func NewSQLiteSecretStore(dbPath string) (*SQLiteSecretStore, error) {
	if dbPath == "" {
		return nil, errors.New("secret database path required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	store := &SQLiteSecretStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteSecretStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		id TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteSecretStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the secret stored under id.
func (s *SQLiteSecretStore) Get(ctx context.Context, id string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE id = ?`, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Store upserts value under id.
func (s *SQLiteSecretStore) Store(ctx context.Context, id, value string) error {
	if id == "" {
		return errors.New("secret id required")
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO secrets (id, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		value=excluded.value,
		updated_at=excluded.updated_at
	`, id, value, time.Now().UTC())
	return err
}

// Delete removes id.
func (s *SQLiteSecretStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id)
	return err
}
