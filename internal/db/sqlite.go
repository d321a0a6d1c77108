// Package db implements the SQLite history store: chat lines, lobby notices
// and login sessions seen by the client.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// historyPragmas tune the file for one writer (the recorder) and a few
// readers (API and CLI). busy_timeout covers readers racing a prune.
var historyPragmas = []string{
	"journal_mode=WAL",
	"synchronous=NORMAL",
	"foreign_keys=ON",
	"busy_timeout=5000",
}

// store is the SQLite handle behind the history database. Writes are
// serialized on mu.
type store struct {
	mu sync.Mutex
	db *sql.DB
}

// openStore opens or creates dbPath and applies every migration the file
// has not seen yet. migrations[i] brings the schema to user_version i+1.
func openStore(dbPath string, migrations []string) (*store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	// Pragmas are per connection, so keep exactly one.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	for _, p := range historyPragmas {
		if _, err := sqlDB.Exec("PRAGMA " + p); err != nil {
			log.Warn().Err(err).Str("pragma", p).Msg("failed to apply pragma")
		}
	}

	s := &store{db: sqlDB}
	if err := s.migrate(migrations); err != nil {
		sqlDB.Close()
		return nil, err
	}

	log.Info().Str("path", dbPath).Int("schema", len(migrations)).Msg("history database opened")
	return s, nil
}

// schemaVersion reads user_version.
func (s *store) schemaVersion() (int, error) {
	var v int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func (s *store) migrate(migrations []string) error {
	current, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("history schema version %d is newer than this client (%d)", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		err := s.tx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(migrations[v]); err != nil {
				return err
			}
			// PRAGMA takes no placeholders.
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("history migration %d failed: %w", v+1, err)
		}
		log.Debug().Int("version", v+1).Msg("history schema migrated")
	}
	return nil
}

func (s *store) close() error {
	return s.db.Close()
}

func (s *store) exec(query string, args ...interface{}) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Exec(query, args...)
}

func (s *store) query(query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.Query(query, args...)
}

// tx runs fn in a transaction, rolling back if it fails.
func (s *store) tx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
