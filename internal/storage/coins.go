// Package storage - Beam wallet coin registry.
package storage

import (
	"database/sql"
	"time"
)

// Coin statuses.
const (
	CoinStatusAvailable = "available"
	CoinStatusLocked    = "locked"
	CoinStatusSpent     = "spent"
)

// Coin is a Beam-side wallet coin. Blinding factors are never stored; they
// are re-derived from the KDF using (idx, sub_idx, value).
type Coin struct {
	Idx    uint64
	SubIdx uint32
	Value  uint64
	Status string
}

// SaveCoin inserts or updates a coin.
func (s *Storage) SaveCoin(c *Coin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO coins (idx, sub_idx, value, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(idx, sub_idx) DO UPDATE SET
			value = excluded.value,
			status = excluded.status`,
		c.Idx, c.SubIdx, c.Value, c.Status, time.Now().Unix(),
	)
	return err
}

// AvailableCoins returns spendable coins, largest first.
func (s *Storage) AvailableCoins() ([]*Coin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT idx, sub_idx, value, status FROM coins WHERE status = ? ORDER BY value DESC",
		CoinStatusAvailable,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coins []*Coin
	for rows.Next() {
		var c Coin
		if err := rows.Scan(&c.Idx, &c.SubIdx, &c.Value, &c.Status); err != nil {
			return nil, err
		}
		coins = append(coins, &c)
	}
	return coins, rows.Err()
}

// SetCoinStatus updates a coin's status, recording which swap spent it.
func (s *Storage) SetCoinStatus(idx uint64, subIdx uint32, status, spentBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var spent sql.NullString
	if spentBy != "" {
		spent = sql.NullString{String: spentBy, Valid: true}
	}
	_, err := s.db.Exec(
		"UPDATE coins SET status = ?, spent_by = ? WHERE idx = ? AND sub_idx = ?",
		status, spent, idx, subIdx,
	)
	return err
}

// NextCoinIdx returns the next unused coin derivation index.
func (s *Storage) NextCoinIdx() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(idx) FROM coins").Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return uint64(max.Int64) + 1, nil
}
