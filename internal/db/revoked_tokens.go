package db

import (
	"fmt"
	"time"
)

// RevokedTokenRepository is the session denylist. Rows mirror the expiry of
// the token they revoke, so garbage collection is naturally bounded.
type RevokedTokenRepository struct {
	db *DB
}

func NewRevokedTokenRepository(db *DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

func (r *RevokedTokenRepository) Revoke(tokenHash, userID string, expiresAt time.Time) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO revoked_tokens (token_hash, user_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?)`,
		tokenHash, userID, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

func (r *RevokedTokenRepository) IsRevoked(tokenHash string) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens WHERE token_hash = ?`, tokenHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return count > 0, nil
}

func (r *RevokedTokenRepository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired revoked tokens: %w", err)
	}

	return result.RowsAffected()
}
