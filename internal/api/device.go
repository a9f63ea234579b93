package api

import (
	"log/slog"
	"net/http"
	"time"

	"hearth/internal/auth"
	"hearth/internal/constants"
	"hearth/internal/db"
)

// deviceGrants is the single place a trusted-device bypass is minted. Every
// step-up success path that honors trustDevice goes through Grant, so the
// record, the cookie and the log line never drift apart.
type deviceGrants struct {
	devices *db.TrustedDeviceRepository
	ttl     time.Duration
}

func newDeviceGrants(devices *db.TrustedDeviceRepository, ttl time.Duration) *deviceGrants {
	return &deviceGrants{devices: devices, ttl: ttl}
}

func (g *deviceGrants) Grant(w http.ResponseWriter, r *http.Request, userID string) {
	token, err := auth.GenerateOpaqueToken(32)
	if err != nil {
		slog.Error("error generating device token", "error", err, "user_id", userID)
		return
	}

	expiresAt := time.Now().Add(g.ttl)
	if _, err := g.devices.Create(userID, auth.HashToken(token), r.UserAgent(), expiresAt); err != nil {
		slog.Error("error storing trusted device", "error", err, "user_id", userID)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     constants.DeviceCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(g.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("trusted device granted", "user_id", userID, "expires_at", expiresAt.UTC())
}

// ClearCookie drops the bypass cookie, used when second factor is disabled.
func (g *deviceGrants) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     constants.DeviceCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func deviceTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(constants.DeviceCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
