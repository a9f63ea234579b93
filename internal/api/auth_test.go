package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hearth/internal/auth"
	"hearth/internal/constants"
	"hearth/internal/db"
	"hearth/internal/models"
	"hearth/internal/notify"
)

// recordingNotifier captures dispatched codes instead of delivering them.
type recordingNotifier struct {
	mu    sync.Mutex
	codes []string
}

func (n *recordingNotifier) SendCode(_ context.Context, _ *models.User, code string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
	return nil
}

func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		t.Fatal("no code was dispatched")
	}
	return n.codes[len(n.codes)-1]
}

func (n *recordingNotifier) sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.codes)
}

type testEnv struct {
	db          *db.DB
	users       *db.UserRepository
	linkTokens  *db.LinkTokenRepository
	devices     *db.TrustedDeviceRepository
	revoked     *db.RevokedTokenRepository
	jwtService  *auth.JWTService
	verifier    *auth.Verifier
	stepUp      *auth.StepUp
	notifier    *recordingNotifier
	authHandler *AuthHandler
	twoFactor   *TwoFactorHandler
	middleware  *AuthMiddleware
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	users := db.NewUserRepository(database)
	credentials := db.NewPendingCredentialRepository(database)
	linkTokens := db.NewLinkTokenRepository(database)
	devices := db.NewTrustedDeviceRepository(database)
	revoked := db.NewRevokedTokenRepository(database)

	notifier := &recordingNotifier{}
	dispatcher := notify.NewDispatcher(notifier, nil)

	jwtService := auth.NewJWTService(strings.Repeat("s", 32), time.Hour, 5*time.Minute)
	verifier := auth.NewVerifier(credentials, dispatcher, 15*time.Minute)
	stepUp := auth.NewStepUp(users, devices, verifier, jwtService)
	grants := newDeviceGrants(devices, 30*24*time.Hour)

	return &testEnv{
		db:          database,
		users:       users,
		linkTokens:  linkTokens,
		devices:     devices,
		revoked:     revoked,
		jwtService:  jwtService,
		verifier:    verifier,
		stepUp:      stepUp,
		notifier:    notifier,
		authHandler: NewAuthHandler(users, linkTokens, revoked, jwtService, verifier, stepUp),
		twoFactor:   NewTwoFactorHandler(users, devices, jwtService, verifier, stepUp, grants),
		middleware:  NewAuthMiddleware(jwtService, users, revoked, devices),
	}
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withDeviceCookie(token string) requestOption {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: constants.DeviceCookieName, Value: token})
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

// loginForSession registers the email if needed, runs the full login-code
// flow and returns the session token. The user must not have second factor
// enabled.
func (env *testEnv) loginForSession(t *testing.T, email string) string {
	t.Helper()

	w := postJSON(t, env.authHandler.RequestLoginCode, map[string]string{"email": email, "name": "Test User"})
	if w.Code != http.StatusOK {
		t.Fatalf("RequestLoginCode status = %d, body = %s", w.Code, w.Body)
	}

	w = postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
		"email": email,
		"code":  env.notifier.lastCode(t),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("VerifyLoginCode status = %d, body = %s", w.Code, w.Body)
	}

	return decodeBody[SessionResponse](t, w).Token
}

func TestRequestLoginCodeRegistration(t *testing.T) {
	env := newTestEnv(t)

	w := postJSON(t, env.authHandler.RequestLoginCode, map[string]string{
		"email": "Alice@Example.com",
		"name":  "Alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	resp := decodeBody[LoginCodeResponse](t, w)
	if !resp.Success || !resp.IsRegistration {
		t.Fatalf("response = %+v, want success and isRegistration", resp)
	}

	// Email was normalized before the account was created.
	user, err := env.users.FindByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if user.DisplayName != "Alice" {
		t.Fatalf("display name = %q, want %q", user.DisplayName, "Alice")
	}
	if env.notifier.sent() != 1 {
		t.Fatalf("codes dispatched = %d, want 1", env.notifier.sent())
	}
}

func TestRequestLoginCodeUnknownEmailNoDisclosure(t *testing.T) {
	env := newTestEnv(t)

	// No registration name: the response must be indistinguishable from a
	// send, and nothing must actually go out.
	w := postJSON(t, env.authHandler.RequestLoginCode, map[string]string{"email": "ghost@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if !decodeBody[LoginCodeResponse](t, w).Success {
		t.Fatal("expected success response for unknown email")
	}
	if env.notifier.sent() != 0 {
		t.Fatalf("codes dispatched = %d, want 0", env.notifier.sent())
	}

	// Verification against the unknown email reads like a wrong code.
	w = postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
		"email": "ghost@example.com",
		"code":  "123456",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decodeBody[ErrorResponse](t, w).Error; got != "Invalid code" {
		t.Fatalf("error = %q, want %q", got, "Invalid code")
	}
}

func TestVerifyLoginCodeWrongThenRight(t *testing.T) {
	env := newTestEnv(t)

	postJSON(t, env.authHandler.RequestLoginCode, map[string]string{"email": "alice@example.com", "name": "Alice"})
	code := env.notifier.lastCode(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i, wantRemaining := range []int{2, 1} {
		w := postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
			"email": "alice@example.com",
			"code":  wrong,
		})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("attempt %d status = %d, want 400", i+1, w.Code)
		}
		resp := decodeBody[ErrorResponse](t, w)
		if resp.AttemptsRemaining == nil || *resp.AttemptsRemaining != wantRemaining {
			t.Fatalf("attempt %d attemptsRemaining = %v, want %d", i+1, resp.AttemptsRemaining, wantRemaining)
		}
	}

	// The correct code still fits in the budget.
	w := postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
		"email": "alice@example.com",
		"code":  code,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	session := decodeBody[SessionResponse](t, w)
	if session.Token == "" {
		t.Fatal("no session token issued")
	}
	if session.User.EmailVerifiedAt == nil {
		t.Fatal("login did not mark the email verified")
	}

	// The code was consumed on success.
	w = postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
		"email": "alice@example.com",
		"code":  code,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replayed code status = %d, want 400", w.Code)
	}
}

func TestVerifyLoginCodeLockout(t *testing.T) {
	env := newTestEnv(t)

	postJSON(t, env.authHandler.RequestLoginCode, map[string]string{"email": "alice@example.com", "name": "Alice"})
	code := env.notifier.lastCode(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
			"email": "alice@example.com",
			"code":  wrong,
		})
	}
	if last.Code != http.StatusForbidden {
		t.Fatalf("third attempt status = %d, want 403", last.Code)
	}
	if !decodeBody[ErrorResponse](t, last).MaxAttemptsReached {
		t.Fatal("third attempt missing maxAttemptsReached")
	}

	// Lockout is terminal: even the correct code fails now.
	w := postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
		"email": "alice@example.com",
		"code":  code,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("post-lockout status = %d, want 403", w.Code)
	}
	if !decodeBody[ErrorResponse](t, w).MaxAttemptsReached {
		t.Fatal("post-lockout response missing maxAttemptsReached")
	}

	// A fresh code clears the lockout.
	postJSON(t, env.authHandler.RequestLoginCode, map[string]string{"email": "alice@example.com"})
	w = postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
		"email": "alice@example.com",
		"code":  env.notifier.lastCode(t),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status after reissue = %d, body = %s", w.Code, w.Body)
	}
}

func TestVerifyLoginCodeExpired(t *testing.T) {
	env := newTestEnv(t)

	postJSON(t, env.authHandler.RequestLoginCode, map[string]string{"email": "alice@example.com", "name": "Alice"})
	code := env.notifier.lastCode(t)

	user, err := env.users.FindByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if _, err := env.db.Exec(
		`UPDATE pending_credentials SET expires_at = ? WHERE user_id = ?`,
		time.Now().Add(-time.Minute).UTC(), user.ID,
	); err != nil {
		t.Fatalf("backdating credential: %v", err)
	}

	w := postJSON(t, env.authHandler.VerifyLoginCode, map[string]string{
		"email": "alice@example.com",
		"code":  code,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decodeBody[ErrorResponse](t, w).Error; got != "Code has expired" {
		t.Fatalf("error = %q, want %q", got, "Code has expired")
	}
}

func TestVerifyLinkToken(t *testing.T) {
	env := newTestEnv(t)

	token, err := auth.GenerateOpaqueToken(32)
	if err != nil {
		t.Fatalf("GenerateOpaqueToken() error = %v", err)
	}
	if _, err := env.linkTokens.Create("carol@example.com", auth.HashToken(token), "Carol", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	w := postJSON(t, env.authHandler.VerifyLinkToken, map[string]string{"token": token})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	session := decodeBody[SessionResponse](t, w)
	if session.User.Email != "carol@example.com" {
		t.Fatalf("email = %q, want %q", session.User.Email, "carol@example.com")
	}
	if session.User.EmailVerifiedAt == nil {
		t.Fatal("link redemption did not verify the email")
	}

	// Second redemption fails: the token was consumed.
	w = postJSON(t, env.authHandler.VerifyLinkToken, map[string]string{"token": token})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", w.Code)
	}
}

func TestVerifyLinkTokenExpiredIsConsumed(t *testing.T) {
	env := newTestEnv(t)

	token, err := auth.GenerateOpaqueToken(32)
	if err != nil {
		t.Fatalf("GenerateOpaqueToken() error = %v", err)
	}
	if _, err := env.linkTokens.Create("carol@example.com", auth.HashToken(token), "", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	w := postJSON(t, env.authHandler.VerifyLinkToken, map[string]string{"token": token})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decodeBody[ErrorResponse](t, w).Error; got != "Link has expired" {
		t.Fatalf("error = %q, want %q", got, "Link has expired")
	}

	// The failed redemption still burned the token.
	if _, err := env.linkTokens.Consume(auth.HashToken(token)); err == nil {
		t.Fatal("expired token survived its redemption attempt")
	}
}

func TestLogoutRevokesSessionToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginForSession(t, "alice@example.com")

	me := env.middleware.RequireAuth(http.HandlerFunc(env.authHandler.Me))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	withBearer(token)(req)
	w := httptest.NewRecorder()
	me.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("me before logout status = %d, body = %s", w.Code, w.Body)
	}

	logout := env.middleware.RequireAuth(http.HandlerFunc(env.authHandler.Logout))
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	withBearer(token)(req)
	w = httptest.NewRecorder()
	logout.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body = %s", w.Code, w.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	withBearer(token)(req)
	w = httptest.NewRecorder()
	me.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d, want 401", w.Code)
	}
	if got := decodeBody[ErrorResponse](t, w).Error; got != "Token has been revoked" {
		t.Fatalf("error = %q, want %q", got, "Token has been revoked")
	}
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	handler := env.middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
		})
	}
}
