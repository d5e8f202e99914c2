// Package storage provides the embedded key-value store using SQLite.
//
// Every entity in nevekod is persisted under a primary string key.
// Values larger than a single page are split into chunked sub-records
// transparently; readers always see one opaque byte string.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ChunkSize is the maximum payload stored in a single row. Values above
// this are split across consecutive chunk rows.
const ChunkSize = 4096

// ErrNotFound is returned when a key has never been written. A stored
// empty value is NOT a not-found: Get returns an empty byte slice for it.
var ErrNotFound = errors.New("storage: key not found")

// DB provides persistent storage for the nevekod core.
type DB struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex

	// indexMu serializes read-modify-write cycles on list keys. The
	// comma-joined index format is not safe for concurrent writers.
	indexMu sync.Mutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string

	// Name is the database file name without extension. A separate name
	// is used in development so test data never mixes with real state.
	Name string
}

// New creates a new DB instance, creating the data directory and schema
// as needed.
func New(cfg *Config) (*DB, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "nevekod"
	}
	dbPath := filepath.Join(dataDir, name+".db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &DB{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

// initSchema creates the key-value table. Each logical key occupies one
// or more rows ordered by seq; readers reassemble the chunks.
func (s *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		k   TEXT NOT NULL,
		seq INTEGER NOT NULL,
		v   BLOB NOT NULL,
		PRIMARY KEY (k, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_kv_key ON kv(k);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put writes a value under key, replacing any previous value. Values
// exceeding ChunkSize are split into chunked sub-records inside a single
// transaction.
func (s *DB) Put(key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("storage: can't write empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM kv WHERE k = ?", key); err != nil {
		return fmt.Errorf("failed to clear previous value: %w", err)
	}

	// An empty value still gets one row so the key exists.
	seq := 0
	for {
		end := len(value)
		if end > ChunkSize {
			end = ChunkSize
		}
		chunk := value[:end]
		value = value[end:]

		if _, err := tx.Exec("INSERT INTO kv (k, seq, v) VALUES (?, ?, ?)", key, seq, chunk); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", seq, err)
		}
		seq++
		if len(value) == 0 {
			break
		}
	}

	return tx.Commit()
}

// Get reads the value stored under key, reassembling chunked records.
// Returns ErrNotFound when the key has never been written.
func (s *DB) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("storage: can't read empty key")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT v FROM kv WHERE k = ? ORDER BY seq", key)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	defer rows.Close()

	var value []byte
	found := false
	for rows.Next() {
		var chunk []byte
		if err := rows.Scan(&chunk); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		value = append(value, chunk...)
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Delete removes a key and all of its chunks. Deleting an absent key
// returns ErrNotFound.
func (s *DB) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("storage: can't delete empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM kv WHERE k = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
