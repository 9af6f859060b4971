// Package storage - peer message queues: persisted outbox with retry
// bookkeeping and an inbound id log for deduplication.
package storage

import (
	"time"
)

// Outbox message statuses.
const (
	OutboxPending = "pending"
	OutboxAcked   = "acked"
	OutboxFailed  = "failed"
)

// OutboxMessage is an outbound peer message pending delivery.
type OutboxMessage struct {
	MessageID  string
	TxID       string
	PeerID     string
	Payload    []byte
	RetryCount int
}

// EnqueueMessage persists an outbound message before any delivery attempt.
func (s *Storage) EnqueueMessage(m *OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO message_outbox (message_id, tx_id, peer_id, payload, created_at, next_retry_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(message_id) DO NOTHING`,
		m.MessageID, m.TxID, m.PeerID, m.Payload, now, now,
	)
	return err
}

// DueMessages returns pending messages whose retry time has passed.
func (s *Storage) DueMessages(limit int) ([]*OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT message_id, tx_id, peer_id, payload, retry_count
		FROM message_outbox
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY id ASC LIMIT ?`,
		time.Now().Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.MessageID, &m.TxID, &m.PeerID, &m.Payload, &m.RetryCount); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// RescheduleMessage bumps the retry counter and sets the next attempt time.
func (s *Storage) RescheduleMessage(messageID string, nextRetry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE message_outbox
		SET retry_count = retry_count + 1, next_retry_at = ?
		WHERE message_id = ?`,
		nextRetry.Unix(), messageID,
	)
	return err
}

// SetMessageStatus marks a message acked or failed.
func (s *Storage) SetMessageStatus(messageID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE message_outbox SET status = ? WHERE message_id = ?",
		status, messageID,
	)
	return err
}

// RecordInbound logs an inbound message id. Returns false if the id was
// already seen, in which case the message must be dropped.
func (s *Storage) RecordInbound(messageID, txID, peerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO message_inbox (message_id, tx_id, peer_id, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		messageID, txID, peerID, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
