package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hearth/internal/models"
)

// PendingCredentialRepository owns the one-time codes awaiting verification.
// Bounded-attempt accounting happens in single SQL statements so that
// concurrent guesses against the same code cannot both observe a pre-failure
// state.
type PendingCredentialRepository struct {
	db *DB
}

func NewPendingCredentialRepository(db *DB) *PendingCredentialRepository {
	return &PendingCredentialRepository{db: db}
}

// Issue stores a fresh code for (user, purpose), overwriting any prior one.
// The overwrite resets the attempt counter, which is what implicitly
// invalidates the previous code.
func (r *PendingCredentialRepository) Issue(userID string, purpose models.CredentialPurpose, codeHash string, expiresAt time.Time) (*models.PendingCredential, error) {
	now := time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO pending_credentials (user_id, purpose, code_hash, expires_at, attempts, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(user_id, purpose) DO UPDATE SET
			code_hash = excluded.code_hash,
			expires_at = excluded.expires_at,
			attempts = 0,
			created_at = excluded.created_at`,
		userID, string(purpose), codeHash, expiresAt.UTC(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("issuing pending credential: %w", err)
	}

	return &models.PendingCredential{
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

func (r *PendingCredentialRepository) Get(userID string, purpose models.CredentialPurpose) (*models.PendingCredential, error) {
	var c models.PendingCredential
	var purposeStr string

	err := r.db.QueryRow(
		`SELECT user_id, purpose, code_hash, expires_at, attempts, created_at
		 FROM pending_credentials WHERE user_id = ? AND purpose = ?`,
		userID, string(purpose),
	).Scan(&c.UserID, &purposeStr, &c.CodeHash, &c.ExpiresAt, &c.Attempts, &c.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pending credential: %w", err)
	}

	c.Purpose = models.CredentialPurpose(purposeStr)

	return &c, nil
}

// IncrementAttempts atomically increments the attempt count only if it is
// below max and the credential is not locked, and returns the new value
// together with the hash from that same row version, so the caller's compare
// cannot race a reissue. Returns -1 if no increment happened (already at the
// limit, locked, or gone).
func (r *PendingCredentialRepository) IncrementAttempts(userID string, purpose models.CredentialPurpose, max int) (int, string, error) {
	var attempts int
	var codeHash string
	err := r.db.QueryRow(
		`UPDATE pending_credentials SET attempts = attempts + 1
		 WHERE user_id = ? AND purpose = ? AND attempts < ? AND code_hash != ''
		 RETURNING attempts, code_hash`,
		userID, string(purpose), max,
	).Scan(&attempts, &codeHash)

	if errors.Is(err, sql.ErrNoRows) {
		return -1, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("incrementing attempts: %w", err)
	}

	return attempts, codeHash, nil
}

// Lock destroys the stored secret but keeps the row, so later guesses with
// the originally-correct code still see the lockout rather than a stale
// not-found.
func (r *PendingCredentialRepository) Lock(userID string, purpose models.CredentialPurpose) error {
	_, err := r.db.Exec(
		`UPDATE pending_credentials SET code_hash = '' WHERE user_id = ? AND purpose = ?`,
		userID, string(purpose),
	)
	if err != nil {
		return fmt.Errorf("locking pending credential: %w", err)
	}
	return nil
}

func (r *PendingCredentialRepository) Delete(userID string, purpose models.CredentialPurpose) error {
	_, err := r.db.Exec(
		`DELETE FROM pending_credentials WHERE user_id = ? AND purpose = ?`,
		userID, string(purpose),
	)
	if err != nil {
		return fmt.Errorf("deleting pending credential: %w", err)
	}
	return nil
}

func (r *PendingCredentialRepository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM pending_credentials WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired pending credentials: %w", err)
	}

	return result.RowsAffected()
}
