// Package storage - swap parameter persistence.
package storage

import (
	"bytes"
	"database/sql"
	"time"
)

// GetParam reads a swap parameter. The second return value reports whether
// the row exists.
func (s *Storage) GetParam(txID string, subTx, paramID int) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRow(
		"SELECT value FROM swap_params WHERE tx_id = ? AND sub_tx = ? AND param_id = ?",
		txID, subTx, paramID,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// PutParam writes a swap parameter. Writing a value identical to the stored
// one is a no-op; the returned flag reports whether the row changed, which is
// what keeps replayed peer bundles and callback duplicates from re-advancing
// state.
func (s *Storage) PutParam(txID string, subTx, paramID int, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []byte
	err := s.db.QueryRow(
		"SELECT value FROM swap_params WHERE tx_id = ? AND sub_tx = ? AND param_id = ?",
		txID, subTx, paramID,
	).Scan(&existing)
	if err == nil && bytes.Equal(existing, value) {
		return false, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	_, err = s.db.Exec(`
		INSERT INTO swap_params (tx_id, sub_tx, param_id, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tx_id, sub_tx, param_id) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		txID, subTx, paramID, value, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteParams removes all parameters of a swap.
func (s *Storage) DeleteParams(txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM swap_params WHERE tx_id = ?", txID)
	return err
}
