package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hearth/internal/api"
	"hearth/internal/auth"
	"hearth/internal/config"
	"hearth/internal/db"
	"hearth/internal/notify"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting server", "name", cfg.Server.Name)

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	emailNotifier := notify.NewSMTPNotifier(
		cfg.Email.SMTP.Host,
		cfg.Email.SMTP.Port,
		cfg.Email.SMTP.Username,
		cfg.Email.SMTP.Password,
		cfg.Email.SMTP.From,
	)
	var smsNotifier notify.Notifier
	if cfg.SMS.GatewayURL != "" {
		smsNotifier = notify.NewSMSNotifier(cfg.SMS.GatewayURL, cfg.SMS.APIKey, cfg.SMS.From)
	}
	dispatcher := notify.NewDispatcher(emailNotifier, smsNotifier)
	slog.Info("notifiers configured", "smtp_host", cfg.Email.SMTP.Host, "sms_enabled", smsNotifier != nil)

	var googleService *auth.GoogleService
	if cfg.Google.ClientID != "" {
		googleService, err = auth.NewGoogleService(
			context.Background(),
			cfg.Google.ClientID,
			cfg.Google.ClientSecret,
			cfg.Google.RedirectURL,
		)
		if err != nil {
			slog.Error("failed to initialize Google login", "error", err)
			os.Exit(1)
		}
		slog.Info("google login configured")
	}

	cleanupService := db.NewCleanupService(
		db.NewPendingCredentialRepository(database),
		db.NewLinkTokenRepository(database),
		db.NewRevokedTokenRepository(database),
		db.NewTrustedDeviceRepository(database),
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go cleanupService.Start(cleanupCtx)

	server, err := api.NewServer(cfg, database, dispatcher, googleService)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	cleanupCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
