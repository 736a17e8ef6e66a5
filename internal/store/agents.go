package store

import (
	"database/sql"
	"fmt"

	"github.com/shelltether/shelltether/internal/tokenauth"
)

// AgentRecord is a persisted agent's identity and token hashes.
type AgentRecord struct {
	ID             string
	Name           string
	AdminTokenHash string
	ShareTokenHash string
}

// UpsertAgent hashes the presented tokens with SHA-256 and stores them,
// overwriting any prior record for id.
func (s *Store) UpsertAgent(id, name, adminToken, shareToken string) error {
	adminHash := tokenauth.HashToken(adminToken)
	shareHash := tokenauth.HashToken(shareToken)
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, admin_token_hash, share_token_hash, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			admin_token_hash = excluded.admin_token_hash,
			share_token_hash = excluded.share_token_hash,
			updated_at = CURRENT_TIMESTAMP
	`, id, name, adminHash, shareHash)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", id, err)
	}
	return nil
}

// FindByAdminToken reports the agent id whose admin_token_hash matches
// the SHA-256 of token, if any.
func (s *Store) FindByAdminToken(token string) (string, bool, error) {
	return s.findByHash("admin_token_hash", tokenauth.HashToken(token))
}

// FindByShareToken reports the agent id whose share_token_hash matches
// the SHA-256 of token, if any.
func (s *Store) FindByShareToken(token string) (string, bool, error) {
	return s.findByHash("share_token_hash", tokenauth.HashToken(token))
}

func (s *Store) findByHash(column, hash string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(fmt.Sprintf("SELECT id FROM agents WHERE %s = ?", column), hash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find by %s: %w", column, err)
	}
	return id, true, nil
}

// FindByID returns the full persisted record for id.
func (s *Store) FindByID(id string) (*AgentRecord, error) {
	var rec AgentRecord
	err := s.db.QueryRow(`SELECT id, name, admin_token_hash, share_token_hash FROM agents WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Name, &rec.AdminTokenHash, &rec.ShareTokenHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by id %s: %w", id, err)
	}
	return &rec, nil
}

// DeleteAgent removes an agent's persisted record and tags.
func (s *Store) DeleteAgent(id string) error {
	_, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}
