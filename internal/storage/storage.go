// Package storage provides the persistent wallet database using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the wallet database. All swap parameters, settings, coins and
// peer message queues live here.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance backed by <data-dir>/beamswap.db.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "beamswap.db")
	return open(dbPath)
}

// NewInMemory creates an in-memory Storage for tests.
func NewInMemory() (*Storage, error) {
	return open(":memory:")
}

func open(dbPath string) (*Storage, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
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

	s := &Storage{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

func (s *Storage) initSchema() error {
	schema := `
	-- Settings table: connection options and other persisted key/values.
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- Swap parameter store: (tx_id, sub_tx, param_id) -> value.
	-- This is the durable negotiation state for every swap; the FSM can be
	-- resumed from these rows alone.
	CREATE TABLE IF NOT EXISTS swap_params (
		tx_id TEXT NOT NULL,
		sub_tx INTEGER NOT NULL,
		param_id INTEGER NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tx_id, sub_tx, param_id)
	);

	CREATE INDEX IF NOT EXISTS idx_swap_params_tx ON swap_params(tx_id);

	-- Swap summaries, one row per swap, for listing and startup recovery.
	CREATE TABLE IF NOT EXISTS swaps (
		tx_id TEXT PRIMARY KEY,
		peer_id TEXT,
		is_sender INTEGER NOT NULL,
		is_initiator INTEGER NOT NULL,
		amount_beam INTEGER NOT NULL,
		amount_swap INTEGER NOT NULL,
		swap_coin TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'initial',
		failure_reason TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_state ON swaps(state);

	-- Wallet coins on the Beam side. Blinding factors are re-derived from the
	-- KDF; only the coin id components and status are stored.
	CREATE TABLE IF NOT EXISTS coins (
		idx INTEGER NOT NULL,
		sub_idx INTEGER NOT NULL,
		value INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'available',
		spent_by TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (idx, sub_idx)
	);

	CREATE INDEX IF NOT EXISTS idx_coins_status ON coins(status);

	-- Outbound peer messages pending delivery.
	CREATE TABLE IF NOT EXISTS message_outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT UNIQUE NOT NULL,
		tx_id TEXT NOT NULL,
		peer_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		retry_count INTEGER DEFAULT 0,
		next_retry_at INTEGER NOT NULL,
		status TEXT DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON message_outbox(status, next_retry_at);

	-- Inbound message ids for deduplication.
	CREATE TABLE IF NOT EXISTS message_inbox (
		message_id TEXT PRIMARY KEY,
		tx_id TEXT NOT NULL,
		peer_id TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
