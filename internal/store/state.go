package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveState stores v as a JSON document under key, replacing any previous value.
func (s *Store) SaveState(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		key, string(data))
	if err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	return nil
}

// LoadState decodes the document stored under key into v. It reports false
// when nothing is stored under key.
func (s *Store) LoadState(key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load state %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) DeleteState(key string) error {
	_, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListStateKeys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM state ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list state keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan state key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
