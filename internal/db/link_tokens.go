package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hearth/internal/models"
)

type LinkTokenRepository struct {
	db *DB
}

func NewLinkTokenRepository(db *DB) *LinkTokenRepository {
	return &LinkTokenRepository{db: db}
}

func (r *LinkTokenRepository) Create(email, tokenHash, displayName string, expiresAt time.Time) (*models.LinkToken, error) {
	id, err := GenerateID("lnk")
	if err != nil {
		return nil, fmt.Errorf("generating link token ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.Exec(
		`INSERT INTO link_tokens (id, email, token_hash, display_name, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, email, tokenHash, displayName, expiresAt.UTC(), now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating link token: %w", err)
	}

	return &models.LinkToken{
		ID:          id,
		Email:       email,
		TokenHash:   tokenHash,
		DisplayName: displayName,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}, nil
}

// Consume deletes the token and returns it in one statement, so exactly one
// of N concurrent redemptions can succeed. The caller still checks expiry on
// the returned row; an expired token is consumed all the same.
func (r *LinkTokenRepository) Consume(tokenHash string) (*models.LinkToken, error) {
	var t models.LinkToken

	err := r.db.QueryRow(
		`DELETE FROM link_tokens WHERE token_hash = ?
		 RETURNING id, email, token_hash, display_name, expires_at, created_at`,
		tokenHash,
	).Scan(&t.ID, &t.Email, &t.TokenHash, &t.DisplayName, &t.ExpiresAt, &t.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming link token: %w", err)
	}

	return &t, nil
}

func (r *LinkTokenRepository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM link_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired link tokens: %w", err)
	}

	return result.RowsAffected()
}
