// Package storage - persisted settings key/values.
package storage

import (
	"database/sql"
	"time"
)

// GetSetting reads a settings value by key.
func (s *Storage) GetSetting(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutSetting writes a settings value.
func (s *Storage) PutSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	return err
}

// DeleteSettingsPrefix removes every settings row whose key starts with the
// given prefix.
func (s *Storage) DeleteSettingsPrefix(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM settings WHERE key LIKE ? || '%'", prefix)
	return err
}
