package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hearth/internal/db"
	"hearth/internal/models"
	"hearth/internal/notify"
)

// VerifyOutcome is the result of checking a submitted code against its
// pending credential.
type VerifyOutcome int

const (
	// OutcomeVerified consumed the credential; the code matched.
	OutcomeVerified VerifyOutcome = iota
	// OutcomeMismatch burned an attempt; AttemptsRemaining is populated.
	OutcomeMismatch
	// OutcomeLockedOut means the attempt budget is gone and the secret was
	// destroyed. Terminal for this code instance.
	OutcomeLockedOut
	// OutcomeExpired means the code outlived its deadline.
	OutcomeExpired
	// OutcomeNotFound means no pending credential exists for this purpose.
	OutcomeNotFound
)

type VerifyResult struct {
	Outcome           VerifyOutcome
	AttemptsRemaining int
}

// Verifier owns the shared one-time code primitive: issuance with a fresh
// attempt budget, and bounded-attempt verification. Login codes, login-time
// challenges and setup challenges all go through it.
type Verifier struct {
	credentials *db.PendingCredentialRepository
	dispatcher  *notify.Dispatcher
	codeTTL     time.Duration
}

func NewVerifier(credentials *db.PendingCredentialRepository, dispatcher *notify.Dispatcher, codeTTL time.Duration) *Verifier {
	return &Verifier{
		credentials: credentials,
		dispatcher:  dispatcher,
		codeTTL:     codeTTL,
	}
}

func (v *Verifier) CodeTTL() time.Duration {
	return v.codeTTL
}

// IssueCode generates, stores and dispatches a fresh code for (user,
// purpose). Any prior code for the same purpose is invalidated by the
// overwrite. Delivery failures are logged, never returned.
func (v *Verifier) IssueCode(ctx context.Context, user *models.User, purpose models.CredentialPurpose) error {
	code, err := GenerateCode()
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(v.codeTTL)
	if _, err := v.credentials.Issue(user.ID, purpose, HashCode(user.ID, code), expiresAt); err != nil {
		return fmt.Errorf("storing %s code: %w", purpose, err)
	}

	v.dispatcher.SendCodeQuietly(ctx, user, purpose, code, v.codeTTL)

	return nil
}

// VerifyCode runs the bounded-attempt check. The attempt counter moves in a
// single SQL statement, so concurrent guesses cannot both see a pre-failure
// state.
func (v *Verifier) VerifyCode(user *models.User, purpose models.CredentialPurpose, code string) (*VerifyResult, error) {
	cred, err := v.credentials.Get(user.ID, purpose)
	if errors.Is(err, db.ErrNotFound) {
		return &VerifyResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	if cred.Locked() {
		return &VerifyResult{Outcome: OutcomeLockedOut}, nil
	}

	if time.Now().After(cred.ExpiresAt) {
		return &VerifyResult{Outcome: OutcomeExpired}, nil
	}

	// The increment returns the hash from the same row version, so the
	// compare below cannot race a concurrent reissue.
	attempts, codeHash, err := v.credentials.IncrementAttempts(user.ID, purpose, MaxAttempts)
	if err != nil {
		return nil, err
	}
	if attempts < 0 {
		// Another request exhausted the budget between our read and the
		// increment.
		return &VerifyResult{Outcome: OutcomeLockedOut}, nil
	}

	if !HashEquals(HashCode(user.ID, code), codeHash) {
		if attempts >= MaxAttempts {
			if err := v.credentials.Lock(user.ID, purpose); err != nil {
				return nil, err
			}
			return &VerifyResult{Outcome: OutcomeLockedOut}, nil
		}
		return &VerifyResult{
			Outcome:           OutcomeMismatch,
			AttemptsRemaining: MaxAttempts - attempts,
		}, nil
	}

	if err := v.credentials.Delete(user.ID, purpose); err != nil {
		return nil, err
	}

	return &VerifyResult{Outcome: OutcomeVerified}, nil
}

// Pending returns the live credential for (user, purpose), ErrNotFound when
// none exists.
func (v *Verifier) Pending(user *models.User, purpose models.CredentialPurpose) (*models.PendingCredential, error) {
	return v.credentials.Get(user.ID, purpose)
}

// Invalidate discards any pending code for (user, purpose).
func (v *Verifier) Invalidate(user *models.User, purpose models.CredentialPurpose) error {
	return v.credentials.Delete(user.ID, purpose)
}
