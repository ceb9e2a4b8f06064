package store

import (
	"database/sql"
	"time"
)

// SetCheckpoint records a sync checkpoint value, e.g. the time of the last
// successful conversation-list sync.
func (db *DB) SetCheckpoint(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// GetCheckpoint retrieves a sync checkpoint value; missing keys yield "".
func (db *DB) GetCheckpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
