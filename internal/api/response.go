package api

import (
	"encoding/json"
	"net/http"
	"time"

	"hearth/internal/auth"
	"hearth/internal/models"
)

// ErrorResponse is the flat error shape every endpoint uses. The attempt
// fields only appear on code verification failures.
type ErrorResponse struct {
	Error              string `json:"error"`
	AttemptsRemaining  *int   `json:"attemptsRemaining,omitempty"`
	MaxAttemptsReached bool   `json:"maxAttemptsReached,omitempty"`
}

// SessionResponse is the terminal success of any credential path.
type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// StepUpResponse tells the caller a second factor is outstanding.
type StepUpResponse struct {
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	TempToken         string `json:"tempToken"`
	TwoFAMethod       string `json:"twoFAMethod"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, message)
}

func forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "An internal error occurred")
}

// writeVerifyFailure maps a non-verified code check onto the wire. Lockout is
// 403 with the maxAttemptsReached flag; everything else is 400. A missing
// credential reads the same as a wrong code so nothing is disclosed.
func writeVerifyFailure(w http.ResponseWriter, result *auth.VerifyResult) {
	switch result.Outcome {
	case auth.OutcomeLockedOut:
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error:              "Too many attempts, request a new code",
			MaxAttemptsReached: true,
		})
	case auth.OutcomeExpired:
		badRequest(w, "Code has expired")
	case auth.OutcomeMismatch:
		remaining := result.AttemptsRemaining
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:             "Invalid code",
			AttemptsRemaining: &remaining,
		})
	default:
		badRequest(w, "Invalid code")
	}
}

func writeSession(w http.ResponseWriter, user *models.User, token string, expiresAt time.Time) {
	writeJSON(w, http.StatusOK, SessionResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		User:      user,
	})
}

func writeStepUp(w http.ResponseWriter, result *auth.StepUpResult) {
	writeJSON(w, http.StatusOK, StepUpResponse{
		RequiresTwoFactor: true,
		TempToken:         result.TempToken,
		TwoFAMethod:       string(result.Method),
	})
}
