package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hearth/internal/models"
)

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, display_name, email_verified_at, two_factor_enabled,
	two_factor_method, two_factor_verified, phone_number, created_at, updated_at`

func (r *UserRepository) Create(email, displayName string) (*models.User, error) {
	id, err := GenerateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.Exec(
		`INSERT INTO users (id, email, display_name, created_at) VALUES (?, ?, ?, ?)`,
		id, email, displayName, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return &models.User{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
	}, nil
}

func (r *UserRepository) FindByID(id string) (*models.User, error) {
	return r.findOne(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByEmail(email string) (*models.User, error) {
	return r.findOne(`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// MarkEmailVerified stamps the verification time if it is not already set.
func (r *UserRepository) MarkEmailVerified(id string) error {
	_, err := r.db.Exec(
		`UPDATE users SET email_verified_at = ?, updated_at = ? WHERE id = ? AND email_verified_at IS NULL`,
		time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking email verified: %w", err)
	}
	return nil
}

// StageTwoFactor records the method and phone number chosen during setup.
// The enabled flag only flips once the setup code is verified.
func (r *UserRepository) StageTwoFactor(id string, method models.TwoFactorMethod, phoneNumber string) error {
	result, err := r.db.Exec(
		`UPDATE users SET two_factor_method = ?, phone_number = ?, updated_at = ? WHERE id = ?`,
		string(method), phoneNumber, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("staging two-factor config: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) EnableTwoFactor(id string) error {
	result, err := r.db.Exec(
		`UPDATE users SET two_factor_enabled = 1, two_factor_verified = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("enabling two-factor: %w", err)
	}
	return checkRowsAffected(result)
}

// DisableTwoFactor clears enrollment and the staged method in one statement.
func (r *UserRepository) DisableTwoFactor(id string) error {
	result, err := r.db.Exec(
		`UPDATE users SET two_factor_enabled = 0, two_factor_verified = 0,
			two_factor_method = '', phone_number = '', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("disabling two-factor: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) SetTwoFactorVerified(id string, verified bool) error {
	result, err := r.db.Exec(
		`UPDATE users SET two_factor_verified = ?, updated_at = ? WHERE id = ?`,
		verified, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting two-factor verified: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) findOne(query string, args ...any) (*models.User, error) {
	var u models.User
	var method string
	var emailVerifiedAt, updatedAt sql.NullTime

	err := r.db.QueryRow(query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&emailVerifiedAt,
		&u.TwoFactorEnabled,
		&method,
		&u.TwoFactorVerified,
		&u.PhoneNumber,
		&u.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.TwoFactorMethod = models.TwoFactorMethod(method)
	u.EmailVerifiedAt = nullTimeToPtr(emailVerifiedAt)
	u.UpdatedAt = nullTimeToPtr(updatedAt)

	return &u, nil
}
