package models

import "time"

type TwoFactorMethod string

const (
	TwoFactorEmail TwoFactorMethod = "email"
	TwoFactorSMS   TwoFactorMethod = "sms"
)

type User struct {
	ID                string          `json:"id"`
	Email             string          `json:"email"`
	DisplayName       string          `json:"displayName,omitempty"`
	EmailVerifiedAt   *time.Time      `json:"emailVerifiedAt,omitempty"`
	TwoFactorEnabled  bool            `json:"twoFactorEnabled"`
	TwoFactorMethod   TwoFactorMethod `json:"twoFactorMethod,omitempty"`
	TwoFactorVerified bool            `json:"-"`
	PhoneNumber       string          `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         *time.Time      `json:"updatedAt,omitempty"`
}

// CredentialPurpose distinguishes the three one-time code flows that share
// the pending_credentials table.
type CredentialPurpose string

const (
	PurposeLogin     CredentialPurpose = "login"
	PurposeChallenge CredentialPurpose = "challenge"
	PurposeSetup     CredentialPurpose = "setup"
)

// PendingCredential is a one-time code awaiting verification. At most one
// exists per (user, purpose); issuing a new one overwrites the old. A locked
// credential keeps its row with an empty hash so the lockout outlives the
// guess that caused it.
type PendingCredential struct {
	UserID    string
	Purpose   CredentialPurpose
	CodeHash  string
	ExpiresAt time.Time
	Attempts  int
	CreatedAt time.Time
}

func (c *PendingCredential) Locked() bool {
	return c.CodeHash == ""
}

// LinkToken is the legacy single-use login link. The owning identifier is an
// email because the user may not exist until the token is redeemed.
type LinkToken struct {
	ID          string
	Email       string
	TokenHash   string
	DisplayName string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// RevokedToken denylists a session token until its natural expiry.
type RevokedToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type TrustedDevice struct {
	ID         string
	UserID     string
	TokenHash  string
	UserAgent  string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	CreatedAt  time.Time
}
