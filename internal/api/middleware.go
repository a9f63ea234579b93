package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"hearth/internal/auth"
	"hearth/internal/db"
	"hearth/internal/models"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SessionContext is what RequireAuth resolves a bearer token into.
// TwoFactorVerified is the effective status for this request only: token
// claims, the live user flag, and a possible just-in-time trusted-device
// upgrade all folded together.
type SessionContext struct {
	User              *models.User
	Claims            *auth.SessionClaims
	RawToken          string
	TwoFactorVerified bool
}

type AuthMiddleware struct {
	jwtService *auth.JWTService
	users      *db.UserRepository
	revoked    *db.RevokedTokenRepository
	devices    *db.TrustedDeviceRepository
}

func NewAuthMiddleware(
	jwtService *auth.JWTService,
	users *db.UserRepository,
	revoked *db.RevokedTokenRepository,
	devices *db.TrustedDeviceRepository,
) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		users:      users,
		revoked:    revoked,
		devices:    devices,
	}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			unauthorized(w, "Invalid authorization header format")
			return
		}
		token := parts[1]

		// Revocation wins over everything else, including an otherwise
		// valid signature.
		revoked, err := m.revoked.IsRevoked(auth.HashToken(token))
		if err != nil {
			slog.Error("error checking token revocation", "error", err)
			internalError(w)
			return
		}
		if revoked {
			unauthorized(w, "Token has been revoked")
			return
		}

		claims, err := m.jwtService.ValidateSessionToken(token)
		if err != nil {
			unauthorized(w, "Invalid or expired token")
			return
		}

		user, err := m.users.FindByID(claims.UserID)
		if errors.Is(err, db.ErrNotFound) {
			unauthorized(w, "Invalid or expired token")
			return
		}
		if err != nil {
			slog.Error("error loading user", "error", err, "user_id", claims.UserID)
			internalError(w)
			return
		}

		verified := claims.TwoFactorVerified && user.TwoFactorVerified
		if user.TwoFactorEnabled && !verified {
			if deviceToken := deviceTokenFromRequest(r); deviceToken != "" {
				if _, err := m.devices.FindValid(user.ID, auth.HashToken(deviceToken)); err == nil {
					verified = true
				} else if !errors.Is(err, db.ErrNotFound) {
					slog.Error("error checking trusted device", "error", err, "user_id", user.ID)
				}
			}
		}

		sc := &SessionContext{
			User:              user,
			Claims:            claims,
			RawToken:          token,
			TwoFactorVerified: verified,
		}
		ctx := context.WithValue(r.Context(), sessionContextKey, sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTwoFactorVerified gates routes that need a fully stepped-up
// session. Users without second factor pass trivially.
func (m *AuthMiddleware) RequireTwoFactorVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := GetSession(r)
		if sc == nil {
			unauthorized(w, "Authentication required")
			return
		}
		if sc.User.TwoFactorEnabled && !sc.TwoFactorVerified {
			forbidden(w, "Two-factor verification required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetSession(r *http.Request) *SessionContext {
	if v := r.Context().Value(sessionContextKey); v != nil {
		if sc, ok := v.(*SessionContext); ok {
			return sc
		}
	}
	return nil
}
