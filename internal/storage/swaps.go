// Package storage - swap summary persistence for listing and recovery.
package storage

import (
	"database/sql"
	"errors"
	"time"
)

var ErrSwapNotFound = errors.New("swap not found")

// SwapRecord is the per-swap summary row. The negotiation detail lives in
// swap_params; this row is what listings and startup recovery read.
type SwapRecord struct {
	TxID        string
	PeerID      string
	IsSender    bool
	IsInitiator bool
	AmountBeam  uint64
	AmountSwap  uint64
	SwapCoin    string

	State         string
	FailureReason string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

var terminalStates = map[string]bool{
	"completed": true,
	"cancelled": true,
	"failed":    true,
}

// SaveSwap inserts or updates a swap summary.
func (s *Storage) SaveSwap(rec *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	var completedAt int64
	if terminalStates[rec.State] {
		completedAt = now.Unix()
	}

	_, err := s.db.Exec(`
		INSERT INTO swaps (
			tx_id, peer_id, is_sender, is_initiator,
			amount_beam, amount_swap, swap_coin,
			state, failure_reason, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id) DO UPDATE SET
			peer_id = excluded.peer_id,
			state = excluded.state,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		rec.TxID, rec.PeerID, boolToInt(rec.IsSender), boolToInt(rec.IsInitiator),
		rec.AmountBeam, rec.AmountSwap, rec.SwapCoin,
		rec.State, rec.FailureReason,
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(), completedAt,
	)
	return err
}

// GetSwap reads a swap summary by tx id.
func (s *Storage) GetSwap(txID string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectSwap+" WHERE tx_id = ?", txID)
	rec, err := scanSwap(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	return rec, err
}

// GetPendingSwaps returns all swaps that are not in a terminal state, oldest
// first. These are resumed on startup.
func (s *Storage) GetPendingSwaps() ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(selectSwap +
		" WHERE state NOT IN ('completed', 'cancelled', 'failed') ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*SwapRecord
	for rows.Next() {
		rec, err := scanSwap(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpdateSwapState updates the summary state and failure reason.
func (s *Storage) UpdateSwapState(txID, state, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	var completedAt int64
	if terminalStates[state] {
		completedAt = now
	}

	res, err := s.db.Exec(`
		UPDATE swaps
		SET state = ?, failure_reason = ?, updated_at = ?,
			completed_at = CASE WHEN ? > 0 THEN ? ELSE completed_at END
		WHERE tx_id = ?`,
		state, failureReason, now, completedAt, completedAt, txID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSwapNotFound
	}
	return nil
}

const selectSwap = `
	SELECT tx_id, peer_id, is_sender, is_initiator,
		amount_beam, amount_swap, swap_coin,
		state, failure_reason, created_at, updated_at, completed_at
	FROM swaps`

func scanSwap(scan func(...any) error) (*SwapRecord, error) {
	var rec SwapRecord
	var isSender, isInitiator int
	var peerID, failureReason sql.NullString
	var createdAt, updatedAt, completedAt int64

	err := scan(
		&rec.TxID, &peerID, &isSender, &isInitiator,
		&rec.AmountBeam, &rec.AmountSwap, &rec.SwapCoin,
		&rec.State, &failureReason, &createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.IsSender = isSender == 1
	rec.IsInitiator = isInitiator == 1
	rec.PeerID = peerID.String
	rec.FailureReason = failureReason.String
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt > 0 {
		rec.CompletedAt = time.Unix(completedAt, 0)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
