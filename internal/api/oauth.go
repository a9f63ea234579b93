package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"hearth/internal/auth"
	"hearth/internal/constants"
	"hearth/internal/db"
)

const oauthStateTTL = 10 * time.Minute

// GoogleLogin is the slice of the provider exchange the federation handler
// depends on.
type GoogleLogin interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleIdentity, error)
}

// OAuthHandler is the federation entry point. It resolves a Google identity
// onto a local account and then converges on the exact same step-up machine
// as the first-party paths.
type OAuthHandler struct {
	google      GoogleLogin
	users       *db.UserRepository
	stepUp      *auth.StepUp
	frontendURL string
}

func NewOAuthHandler(google GoogleLogin, users *db.UserRepository, stepUp *auth.StepUp, frontendURL string) *OAuthHandler {
	return &OAuthHandler{
		google:      google,
		users:       users,
		stepUp:      stepUp,
		frontendURL: frontendURL,
	}
}

// GET /auth/google
func (h *OAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusServiceUnavailable, "Google login is not configured")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     constants.OAuthStateCookieName,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthCodeURL(state), http.StatusFound)
}

// GET /auth/google/callback
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, http.StatusServiceUnavailable, "Google login is not configured")
		return
	}

	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		h.fail(w, r, http.StatusBadRequest, "Google sign-in was cancelled")
		return
	}

	stateCookie, err := r.Cookie(constants.OAuthStateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		h.fail(w, r, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:   constants.OAuthStateCookieName,
		Value:  "",
		Path:   "/auth/google",
		MaxAge: -1,
	})

	identity, err := h.google.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		slog.Error("error exchanging Google code", "error", err)
		h.fail(w, r, http.StatusUnauthorized, "Google sign-in failed")
		return
	}

	email := strings.ToLower(identity.Email)
	user, err := h.users.FindByEmail(email)
	if errors.Is(err, db.ErrNotFound) {
		user, err = h.users.Create(email, identity.Name)
	}
	if err != nil {
		slog.Error("error resolving federated user", "error", err)
		h.fail(w, r, http.StatusInternalServerError, "An internal error occurred")
		return
	}

	if identity.EmailVerified {
		if err := h.users.MarkEmailVerified(user.ID); err != nil {
			slog.Error("error marking email verified", "error", err, "user_id", user.ID)
			h.fail(w, r, http.StatusInternalServerError, "An internal error occurred")
			return
		}
	}

	// The shared step-up entry point performs the trusted-device check
	// before it would generate any challenge, so already-trusted browsers
	// never trigger a code dispatch here.
	result, err := h.stepUp.Begin(r.Context(), user, deviceTokenFromRequest(r))
	if err != nil {
		slog.Error("error entering step-up", "error", err, "user_id", user.ID)
		h.fail(w, r, http.StatusInternalServerError, "An internal error occurred")
		return
	}

	if wantsJSON(r) {
		if result.State == auth.StateChallengeIssued {
			writeStepUp(w, result)
			return
		}
		writeSession(w, user, result.SessionToken, result.SessionExpiresAt)
		return
	}

	values := url.Values{}
	if result.State == auth.StateChallengeIssued {
		values.Set("requiresTwoFactor", "true")
		values.Set("tempToken", result.TempToken)
		values.Set("twoFAMethod", string(result.Method))
	} else {
		values.Set("token", result.SessionToken)
	}
	http.Redirect(w, r, h.frontendURL+"/auth/callback?"+values.Encode(), http.StatusFound)
}

func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	if wantsJSON(r) {
		writeError(w, status, message)
		return
	}

	values := url.Values{}
	values.Set("error", message)
	http.Redirect(w, r, h.frontendURL+"/auth/callback?"+values.Encode(), http.StatusFound)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
