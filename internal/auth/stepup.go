package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hearth/internal/db"
	"hearth/internal/models"
)

// StepUpState is the explicit outcome of entering the step-up machine after
// a first-factor success.
type StepUpState int

const (
	// StateNoSecondFactor: the user never enrolled; pass straight to the
	// session issuer.
	StateNoSecondFactor StepUpState = iota
	// StateTrustedDeviceBypassed: a valid device token skipped the challenge.
	StateTrustedDeviceBypassed
	// StateChallengeIssued: a challenge code was sent and an intermediate
	// token issued.
	StateChallengeIssued
)

// StepUpResult carries either a full session or an intermediate token,
// depending on State.
type StepUpResult struct {
	State            StepUpState
	SessionToken     string
	SessionExpiresAt time.Time
	TempToken        string
	Method           models.TwoFactorMethod
}

// StepUp converges every first-factor success (code, link, federated) into
// one second-factor decision. All three entry points call Begin; none
// duplicate the trusted-device check.
type StepUp struct {
	users    *db.UserRepository
	devices  *db.TrustedDeviceRepository
	verifier *Verifier
	jwt      *JWTService
}

func NewStepUp(users *db.UserRepository, devices *db.TrustedDeviceRepository, verifier *Verifier, jwt *JWTService) *StepUp {
	return &StepUp{
		users:    users,
		devices:  devices,
		verifier: verifier,
		jwt:      jwt,
	}
}

// Begin decides whether a second factor is required. deviceToken is the raw
// bypass token from the request cookie, empty if absent. The trusted-device
// check runs before any challenge generation, so an already-trusted browser
// never triggers a code dispatch.
func (s *StepUp) Begin(ctx context.Context, user *models.User, deviceToken string) (*StepUpResult, error) {
	if !user.TwoFactorEnabled {
		token, expiresAt, err := s.jwt.GenerateSessionToken(user, true)
		if err != nil {
			return nil, err
		}
		return &StepUpResult{
			State:            StateNoSecondFactor,
			SessionToken:     token,
			SessionExpiresAt: expiresAt,
		}, nil
	}

	if deviceToken != "" {
		_, err := s.devices.FindValid(user.ID, HashToken(deviceToken))
		if err == nil {
			if err := s.users.SetTwoFactorVerified(user.ID, true); err != nil {
				return nil, err
			}
			token, expiresAt, err := s.jwt.GenerateSessionToken(user, true)
			if err != nil {
				return nil, err
			}
			return &StepUpResult{
				State:            StateTrustedDeviceBypassed,
				SessionToken:     token,
				SessionExpiresAt: expiresAt,
			}, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}

	if err := s.verifier.IssueCode(ctx, user, models.PurposeChallenge); err != nil {
		return nil, fmt.Errorf("issuing challenge: %w", err)
	}

	tempToken, err := s.jwt.GenerateIntermediateToken(user)
	if err != nil {
		return nil, err
	}

	return &StepUpResult{
		State:     StateChallengeIssued,
		TempToken: tempToken,
		Method:    user.TwoFactorMethod,
	}, nil
}

// FinishChallenge completes a login-time step-up after the challenge code
// verified. It flips the live verified flag and mints the session.
func (s *StepUp) FinishChallenge(user *models.User) (string, time.Time, error) {
	if err := s.users.SetTwoFactorVerified(user.ID, true); err != nil {
		return "", time.Time{}, err
	}
	return s.jwt.GenerateSessionToken(user, true)
}

// FinishSetup completes a setup-time step-up: it flips enrollment on, marks
// the session verified, and reissues a session token reflecting both.
func (s *StepUp) FinishSetup(user *models.User) (string, time.Time, error) {
	if err := s.users.EnableTwoFactor(user.ID); err != nil {
		return "", time.Time{}, err
	}
	user.TwoFactorEnabled = true
	return s.jwt.GenerateSessionToken(user, true)
}
