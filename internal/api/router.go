package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"hearth/internal/auth"
	"hearth/internal/config"
	"hearth/internal/db"
	"hearth/internal/notify"
)

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(
	cfg *config.Config,
	database *db.DB,
	dispatcher *notify.Dispatcher,
	googleService *auth.GoogleService,
) (*Server, error) {
	userRepo := db.NewUserRepository(database)
	credentialRepo := db.NewPendingCredentialRepository(database)
	linkTokenRepo := db.NewLinkTokenRepository(database)
	revokedRepo := db.NewRevokedTokenRepository(database)
	deviceRepo := db.NewTrustedDeviceRepository(database)

	jwtService := auth.NewJWTService(
		cfg.Auth.JWTSecret,
		cfg.Auth.SessionTokenTTL,
		cfg.Auth.IntermediateTokenTTL,
	)
	verifier := auth.NewVerifier(credentialRepo, dispatcher, cfg.Auth.LoginCodeTTL)
	stepUp := auth.NewStepUp(userRepo, deviceRepo, verifier, jwtService)
	grants := newDeviceGrants(deviceRepo, cfg.Auth.TrustedDeviceTTL)

	authHandler := NewAuthHandler(userRepo, linkTokenRepo, revokedRepo, jwtService, verifier, stepUp)
	twoFactorHandler := NewTwoFactorHandler(userRepo, deviceRepo, jwtService, verifier, stepUp, grants)
	// A nil *GoogleService must stay a nil interface so the handler's
	// configured check works.
	var googleLogin GoogleLogin
	if googleService != nil {
		googleLogin = googleService
	}
	oauthHandler := NewOAuthHandler(googleLogin, userRepo, stepUp, cfg.Server.FrontendURL)
	healthHandler := NewHealthHandler(database)

	authMiddleware := NewAuthMiddleware(jwtService, userRepo, revokedRepo, deviceRepo)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)

	r.Route("/auth", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB

		// Guess-sensitive endpoints get a tight per-IP budget on top of
		// the in-store attempt counters.
		codeLimit := httprate.LimitByIP(5, time.Minute)
		verifyLimit := httprate.LimitByIP(10, time.Minute)

		r.With(codeLimit).Post("/login-code", authHandler.RequestLoginCode)
		r.With(codeLimit).Post("/resend-login-code", authHandler.ResendLoginCode)
		r.With(verifyLimit).Post("/verify-login-code", authHandler.VerifyLoginCode)
		r.With(verifyLimit).Post("/invalidate-login-code", authHandler.InvalidateLoginCode)
		r.With(verifyLimit).Post("/verify-link-token", authHandler.VerifyLinkToken)
		r.With(verifyLimit).Post("/verify-login-2fa", twoFactorHandler.VerifyLoginTwoFactor)

		r.Get("/google", oauthHandler.Start)
		r.Get("/google/callback", oauthHandler.Callback)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.With(verifyLimit).Post("/verify-2fa", twoFactorHandler.VerifyTwoFactor)
			r.Post("/2fa/configure", twoFactorHandler.ConfigureTwoFactor)
			r.With(codeLimit).Post("/2fa/resend-code", twoFactorHandler.ResendCode)
			r.Post("/2fa/cancel-setup", twoFactorHandler.CancelSetup)
			r.Post("/logout", authHandler.Logout)

			r.With(authMiddleware.RequireTwoFactorVerified).Get("/me", authHandler.Me)
		})
	})

	return &Server{
		router: r,
		config: cfg,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
