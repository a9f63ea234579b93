package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"hearth/internal/auth"
	"hearth/internal/db"
	"hearth/internal/models"
)

type TwoFactorHandler struct {
	users      *db.UserRepository
	devices    *db.TrustedDeviceRepository
	jwtService *auth.JWTService
	verifier   *auth.Verifier
	stepUp     *auth.StepUp
	grants     *deviceGrants
}

func NewTwoFactorHandler(
	users *db.UserRepository,
	devices *db.TrustedDeviceRepository,
	jwtService *auth.JWTService,
	verifier *auth.Verifier,
	stepUp *auth.StepUp,
	grants *deviceGrants,
) *TwoFactorHandler {
	return &TwoFactorHandler{
		users:      users,
		devices:    devices,
		jwtService: jwtService,
		verifier:   verifier,
		stepUp:     stepUp,
		grants:     grants,
	}
}

type VerifyLoginTwoFactorRequest struct {
	Code        string `json:"code" validate:"required,len=6,numeric"`
	TempToken   string `json:"tempToken" validate:"required"`
	TrustDevice bool   `json:"trustDevice"`
}

// POST /auth/verify-login-2fa completes a login-time step-up. The
// intermediate token is checked before the code so a forged or stale token
// never burns an attempt.
func (h *TwoFactorHandler) VerifyLoginTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifyLoginTwoFactorRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	claims, err := h.jwtService.ValidateIntermediateToken(req.TempToken)
	if err != nil {
		unauthorized(w, "Invalid or expired token")
		return
	}

	user, err := h.users.FindByID(claims.UserID)
	if errors.Is(err, db.ErrNotFound) {
		unauthorized(w, "Invalid or expired token")
		return
	}
	if err != nil {
		slog.Error("error loading user", "error", err, "user_id", claims.UserID)
		internalError(w)
		return
	}

	result, err := h.verifier.VerifyCode(user, models.PurposeChallenge, req.Code)
	if err != nil {
		slog.Error("error verifying challenge code", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}
	if result.Outcome != auth.OutcomeVerified {
		writeVerifyFailure(w, result)
		return
	}

	token, expiresAt, err := h.stepUp.FinishChallenge(user)
	if err != nil {
		slog.Error("error finishing challenge", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	if req.TrustDevice {
		h.grants.Grant(w, r, user.ID)
	}

	writeSession(w, user, token, expiresAt)
}

type VerifyTwoFactorRequest struct {
	Code        string `json:"code" validate:"required,len=6,numeric"`
	TrustDevice bool   `json:"trustDevice"`
}

// POST /auth/verify-2fa completes enrollment: the setup code proves the
// chosen channel works before the enabled flag flips.
func (h *TwoFactorHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r)
	if sc == nil {
		unauthorized(w, "Authentication required")
		return
	}

	var req VerifyTwoFactorRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := h.verifier.VerifyCode(sc.User, models.PurposeSetup, req.Code)
	if err != nil {
		slog.Error("error verifying setup code", "error", err, "user_id", sc.User.ID)
		internalError(w)
		return
	}
	if result.Outcome != auth.OutcomeVerified {
		writeVerifyFailure(w, result)
		return
	}

	token, expiresAt, err := h.stepUp.FinishSetup(sc.User)
	if err != nil {
		slog.Error("error finishing setup", "error", err, "user_id", sc.User.ID)
		internalError(w)
		return
	}

	if req.TrustDevice {
		h.grants.Grant(w, r, sc.User.ID)
	}

	writeSession(w, sc.User, token, expiresAt)
}

type ConfigureTwoFactorRequest struct {
	Enabled     bool   `json:"enabled"`
	Method      string `json:"method" validate:"omitempty,oneof=email sms"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,e164"`
}

type ConfigureTwoFactorResponse struct {
	Success      bool `json:"success"`
	CodeSent     bool `json:"codeSent,omitempty"`
	SetupPending bool `json:"setupPending,omitempty"`
}

// POST /auth/2fa/configure stages enrollment or tears it down. Enabling only
// takes effect after the setup code round-trips; disabling is immediate and
// revokes every trusted device.
func (h *TwoFactorHandler) ConfigureTwoFactor(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r)
	if sc == nil {
		unauthorized(w, "Authentication required")
		return
	}

	var req ConfigureTwoFactorRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if !req.Enabled {
		if err := h.users.DisableTwoFactor(sc.User.ID); err != nil {
			slog.Error("error disabling two-factor", "error", err, "user_id", sc.User.ID)
			internalError(w)
			return
		}
		for _, purpose := range []models.CredentialPurpose{models.PurposeChallenge, models.PurposeSetup} {
			if err := h.verifier.Invalidate(sc.User, purpose); err != nil {
				slog.Error("error clearing pending credential", "error", err, "user_id", sc.User.ID)
				internalError(w)
				return
			}
		}
		if err := h.devices.DeleteAllForUser(sc.User.ID); err != nil {
			slog.Error("error revoking trusted devices", "error", err, "user_id", sc.User.ID)
			internalError(w)
			return
		}
		h.grants.ClearCookie(w)

		writeJSON(w, http.StatusOK, ConfigureTwoFactorResponse{Success: true})
		return
	}

	method := models.TwoFactorMethod(req.Method)
	if method == "" {
		method = models.TwoFactorEmail
	}
	if method == models.TwoFactorSMS && strings.TrimSpace(req.PhoneNumber) == "" {
		badRequest(w, "phoneNumber is required for sms")
		return
	}

	if err := h.users.StageTwoFactor(sc.User.ID, method, strings.TrimSpace(req.PhoneNumber)); err != nil {
		slog.Error("error staging two-factor", "error", err, "user_id", sc.User.ID)
		internalError(w)
		return
	}

	// Refresh the local copy so the setup code goes out over the channel
	// that was just chosen.
	sc.User.TwoFactorMethod = method
	sc.User.PhoneNumber = strings.TrimSpace(req.PhoneNumber)

	if err := h.verifier.IssueCode(r.Context(), sc.User, models.PurposeSetup); err != nil {
		slog.Error("error issuing setup code", "error", err, "user_id", sc.User.ID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, ConfigureTwoFactorResponse{
		Success:      true,
		CodeSent:     true,
		SetupPending: true,
	})
}

// POST /auth/2fa/resend-code reissues whichever second-factor code is
// pending: setup first, then a login-time challenge.
func (h *TwoFactorHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r)
	if sc == nil {
		unauthorized(w, "Authentication required")
		return
	}

	purpose := models.PurposeSetup
	_, err := h.verifier.Pending(sc.User, models.PurposeSetup)
	if errors.Is(err, db.ErrNotFound) {
		purpose = models.PurposeChallenge
		_, err = h.verifier.Pending(sc.User, models.PurposeChallenge)
		if errors.Is(err, db.ErrNotFound) {
			badRequest(w, "No pending code to resend")
			return
		}
	}
	if err != nil {
		slog.Error("error checking pending credential", "error", err, "user_id", sc.User.ID)
		internalError(w)
		return
	}

	if err := h.verifier.IssueCode(r.Context(), sc.User, purpose); err != nil {
		slog.Error("error reissuing code", "error", err, "user_id", sc.User.ID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// POST /auth/2fa/cancel-setup abandons an in-flight enrollment. Existing
// enrollment is untouched; only the staged method and pending code go away.
func (h *TwoFactorHandler) CancelSetup(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r)
	if sc == nil {
		unauthorized(w, "Authentication required")
		return
	}

	if err := h.verifier.Invalidate(sc.User, models.PurposeSetup); err != nil {
		slog.Error("error clearing setup code", "error", err, "user_id", sc.User.ID)
		internalError(w)
		return
	}

	if !sc.User.TwoFactorEnabled {
		if err := h.users.DisableTwoFactor(sc.User.ID); err != nil {
			slog.Error("error clearing staged method", "error", err, "user_id", sc.User.ID)
			internalError(w)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
