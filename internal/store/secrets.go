package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Secret holds an encrypted value. Value and Nonce come straight from the vault.
type Secret struct {
	Name      string    `json:"name"`
	Value     []byte    `json:"-"`
	Nonce     []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) SaveSecret(sec *Secret) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets (name, value, nonce)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value, nonce = excluded.nonce,
			updated_at = CURRENT_TIMESTAMP`,
		sec.Name, sec.Value, sec.Nonce)
	if err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(name string) (*Secret, error) {
	sec := &Secret{}
	err := s.db.QueryRow(`
		SELECT name, value, nonce, created_at, updated_at
		FROM secrets WHERE name = ?`, name).
		Scan(&sec.Name, &sec.Value, &sec.Nonce, &sec.CreatedAt, &sec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return sec, nil
}

func (s *Store) DeleteSecret(name string) error {
	_, err := s.db.Exec(`DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}
