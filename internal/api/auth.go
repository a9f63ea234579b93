package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hearth/internal/auth"
	"hearth/internal/db"
	"hearth/internal/models"
)

type AuthHandler struct {
	users      *db.UserRepository
	linkTokens *db.LinkTokenRepository
	revoked    *db.RevokedTokenRepository
	jwtService *auth.JWTService
	verifier   *auth.Verifier
	stepUp     *auth.StepUp
}

func NewAuthHandler(
	users *db.UserRepository,
	linkTokens *db.LinkTokenRepository,
	revoked *db.RevokedTokenRepository,
	jwtService *auth.JWTService,
	verifier *auth.Verifier,
	stepUp *auth.StepUp,
) *AuthHandler {
	return &AuthHandler{
		users:      users,
		linkTokens: linkTokens,
		revoked:    revoked,
		jwtService: jwtService,
		verifier:   verifier,
		stepUp:     stepUp,
	}
}

type LoginCodeRequest struct {
	Email string `json:"email" validate:"required,max=254"`
	Name  string `json:"name" validate:"omitempty,min=1,max=100"`
}

type LoginCodeResponse struct {
	Success        bool `json:"success"`
	IsRegistration bool `json:"isRegistration,omitempty"`
}

// POST /auth/login-code
func (h *AuthHandler) RequestLoginCode(w http.ResponseWriter, r *http.Request) {
	var req LoginCodeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	req.Email = normalizeEmail(req.Email)
	if err := requestValidator.Var(req.Email, "email,max=254"); err != nil {
		badRequest(w, "invalid email format")
		return
	}

	isRegistration := false
	user, err := h.users.FindByEmail(req.Email)
	if errors.Is(err, db.ErrNotFound) {
		if strings.TrimSpace(req.Name) == "" {
			// Unknown identity without a registration name: answer exactly
			// as if the code were sent.
			writeJSON(w, http.StatusOK, LoginCodeResponse{Success: true})
			return
		}

		user, err = h.users.Create(req.Email, strings.TrimSpace(req.Name))
		if errors.Is(err, db.ErrDuplicate) {
			// Raced another registration; treat it as a login.
			user, err = h.users.FindByEmail(req.Email)
		} else {
			isRegistration = err == nil
		}
		if err != nil {
			slog.Error("error creating user", "error", err)
			internalError(w)
			return
		}
	} else if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	if err := h.verifier.IssueCode(r.Context(), user, models.PurposeLogin); err != nil {
		slog.Error("error issuing login code", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, LoginCodeResponse{Success: true, IsRegistration: isRegistration})
}

type VerifyLoginCodeRequest struct {
	Email       string `json:"email" validate:"required,max=254"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	TrustDevice bool   `json:"trustDevice"`
}

// POST /auth/verify-login-code
func (h *AuthHandler) VerifyLoginCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyLoginCodeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	req.Email = normalizeEmail(req.Email)

	user, err := h.users.FindByEmail(req.Email)
	if errors.Is(err, db.ErrNotFound) {
		// Indistinguishable from a wrong code.
		badRequest(w, "Invalid code")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	result, err := h.verifier.VerifyCode(user, models.PurposeLogin, req.Code)
	if err != nil {
		slog.Error("error verifying login code", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}
	if result.Outcome != auth.OutcomeVerified {
		writeVerifyFailure(w, result)
		return
	}

	if err := h.users.MarkEmailVerified(user.ID); err != nil {
		slog.Error("error marking email verified", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	h.finishFirstFactor(w, r, user)
}

// finishFirstFactor hands a first-factor success to the step-up machine and
// writes whichever outcome it reaches. Shared by the code, link and
// federation paths.
func (h *AuthHandler) finishFirstFactor(w http.ResponseWriter, r *http.Request, user *models.User) {
	result, err := h.stepUp.Begin(r.Context(), user, deviceTokenFromRequest(r))
	if err != nil {
		slog.Error("error entering step-up", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	if result.State == auth.StateChallengeIssued {
		writeStepUp(w, result)
		return
	}

	writeSession(w, user, result.SessionToken, result.SessionExpiresAt)
}

type ResendLoginCodeRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

// POST /auth/resend-login-code
func (h *AuthHandler) ResendLoginCode(w http.ResponseWriter, r *http.Request) {
	var req ResendLoginCodeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.users.FindByEmail(normalizeEmail(req.Email))
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusOK, LoginCodeResponse{Success: true})
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	if err := h.verifier.IssueCode(r.Context(), user, models.PurposeLogin); err != nil {
		slog.Error("error reissuing login code", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, LoginCodeResponse{Success: true})
}

// POST /auth/invalidate-login-code
func (h *AuthHandler) InvalidateLoginCode(w http.ResponseWriter, r *http.Request) {
	var req ResendLoginCodeRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.users.FindByEmail(normalizeEmail(req.Email))
	if err == nil {
		if err := h.verifier.Invalidate(user, models.PurposeLogin); err != nil {
			slog.Error("error invalidating login code", "error", err, "user_id", user.ID)
			internalError(w)
			return
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, LoginCodeResponse{Success: true})
}

type VerifyLinkTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /auth/verify-link-token redeems the legacy single-use login link.
// Consumption happens on first read whatever the outcome, so a second
// redemption can never succeed.
func (h *AuthHandler) VerifyLinkToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyLinkTokenRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	link, err := h.linkTokens.Consume(auth.HashToken(strings.TrimSpace(req.Token)))
	if errors.Is(err, db.ErrNotFound) {
		badRequest(w, "Invalid or expired link")
		return
	}
	if err != nil {
		slog.Error("error consuming link token", "error", err)
		internalError(w)
		return
	}

	if time.Now().After(link.ExpiresAt) {
		badRequest(w, "Link has expired")
		return
	}

	user, err := h.users.FindByEmail(link.Email)
	if errors.Is(err, db.ErrNotFound) {
		user, err = h.users.Create(link.Email, link.DisplayName)
	}
	if err != nil {
		slog.Error("error resolving link user", "error", err)
		internalError(w)
		return
	}

	if err := h.users.MarkEmailVerified(user.ID); err != nil {
		slog.Error("error marking email verified", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	h.finishFirstFactor(w, r, user)
}

// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r)
	if sc == nil {
		unauthorized(w, "Authentication required")
		return
	}

	userID, expiresAt, err := h.jwtService.DecodeExpiry(sc.RawToken)
	if err != nil {
		slog.Error("error decoding token expiry", "error", err)
		internalError(w)
		return
	}

	if err := h.revoked.Revoke(auth.HashToken(sc.RawToken), userID, expiresAt); err != nil {
		slog.Error("error revoking token", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	if err := h.users.SetTwoFactorVerified(userID, false); err != nil && !errors.Is(err, db.ErrNotFound) {
		slog.Error("error clearing verified flag", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type MeResponse struct {
	User              *models.User `json:"user"`
	TwoFactorVerified bool         `json:"twoFactorVerified"`
}

// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r)
	if sc == nil {
		unauthorized(w, "Authentication required")
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		User:              sc.User,
		TwoFactorVerified: sc.TwoFactorVerified || !sc.User.TwoFactorEnabled,
	})
}
