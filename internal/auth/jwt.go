package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hearth/internal/models"
)

const (
	scopeSession = "session"
	scopeStepUp  = "step-up"
)

type JWTService struct {
	secret          []byte
	sessionTTL      time.Duration
	intermediateTTL time.Duration
}

// SessionClaims is the long-lived bearer token payload.
type SessionClaims struct {
	UserID            string `json:"userId"`
	Email             string `json:"email"`
	TwoFactorEnabled  bool   `json:"twoFactorEnabled"`
	TwoFactorVerified bool   `json:"twoFactorVerified"`
	Scope             string `json:"scope"`
	jwt.RegisteredClaims
}

// IntermediateClaims bridges first-factor success and second-factor
// submission. It is never accepted where a session token is required.
type IntermediateClaims struct {
	UserID            string `json:"userId"`
	Email             string `json:"email"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	Scope             string `json:"scope"`
	jwt.RegisteredClaims
}

func NewJWTService(secret string, sessionTTL, intermediateTTL time.Duration) *JWTService {
	return &JWTService{
		secret:          []byte(secret),
		sessionTTL:      sessionTTL,
		intermediateTTL: intermediateTTL,
	}
}

func (s *JWTService) GenerateSessionToken(user *models.User, twoFactorVerified bool) (string, time.Time, error) {
	expiry := time.Now().Add(s.sessionTTL)
	claims := SessionClaims{
		UserID:            user.ID,
		Email:             user.Email,
		TwoFactorEnabled:  user.TwoFactorEnabled,
		TwoFactorVerified: twoFactorVerified,
		Scope:             scopeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}

	return signed, expiry, nil
}

func (s *JWTService) ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	var claims SessionClaims
	if err := s.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.Scope != scopeSession {
		return nil, fmt.Errorf("token is not a session token")
	}
	return &claims, nil
}

func (s *JWTService) GenerateIntermediateToken(user *models.User) (string, error) {
	claims := IntermediateClaims{
		UserID:            user.ID,
		Email:             user.Email,
		RequiresTwoFactor: true,
		Scope:             scopeStepUp,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.intermediateTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing intermediate token: %w", err)
	}

	return signed, nil
}

func (s *JWTService) ValidateIntermediateToken(tokenString string) (*IntermediateClaims, error) {
	var claims IntermediateClaims
	if err := s.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.Scope != scopeStepUp {
		return nil, fmt.Errorf("token is not an intermediate token")
	}
	return &claims, nil
}

// DecodeExpiry reads the subject and expiry without verifying the signature.
// Logout uses it so a presented token can be denylisted with an expiry
// mirroring its own; possession implies prior validity.
func (s *JWTService) DecodeExpiry(tokenString string) (string, time.Time, error) {
	var claims SessionClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return "", time.Time{}, fmt.Errorf("token has no expiry")
	}
	return claims.UserID, claims.ExpiresAt.Time, nil
}

func (s *JWTService) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token claims")
	}
	return nil
}
