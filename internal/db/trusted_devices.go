package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hearth/internal/models"
)

type TrustedDeviceRepository struct {
	db *DB
}

func NewTrustedDeviceRepository(db *DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{db: db}
}

func (r *TrustedDeviceRepository) Create(userID, tokenHash, userAgent string, expiresAt time.Time) (*models.TrustedDevice, error) {
	id, err := GenerateID("tdv")
	if err != nil {
		return nil, fmt.Errorf("generating trusted device ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.Exec(
		`INSERT INTO trusted_devices (id, user_id, token_hash, user_agent, expires_at, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, tokenHash, userAgent, expiresAt.UTC(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating trusted device: %w", err)
	}

	return &models.TrustedDevice{
		ID:         id,
		UserID:     userID,
		TokenHash:  tokenHash,
		UserAgent:  userAgent,
		ExpiresAt:  expiresAt,
		LastUsedAt: now,
		CreatedAt:  now,
	}, nil
}

// FindValid returns the device only when the token belongs to the user and
// has not expired, and stamps last_used_at. Repeat lookups mutate nothing
// beyond that stamp.
func (r *TrustedDeviceRepository) FindValid(userID, tokenHash string) (*models.TrustedDevice, error) {
	now := time.Now().UTC()
	var d models.TrustedDevice

	err := r.db.QueryRow(
		`UPDATE trusted_devices SET last_used_at = ?
		 WHERE user_id = ? AND token_hash = ? AND expires_at > ?
		 RETURNING id, user_id, token_hash, user_agent, expires_at, last_used_at, created_at`,
		now, userID, tokenHash, now,
	).Scan(&d.ID, &d.UserID, &d.TokenHash, &d.UserAgent, &d.ExpiresAt, &d.LastUsedAt, &d.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying trusted device: %w", err)
	}

	return &d, nil
}

func (r *TrustedDeviceRepository) DeleteAllForUser(userID string) error {
	_, err := r.db.Exec(`DELETE FROM trusted_devices WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting user trusted devices: %w", err)
	}
	return nil
}

func (r *TrustedDeviceRepository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM trusted_devices WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired trusted devices: %w", err)
	}

	return result.RowsAffected()
}
