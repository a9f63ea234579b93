// Command mklink mints a single-use login link token against the configured
// database and prints the raw token. Only the hash is stored; the printed
// value is the one and only copy.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"hearth/internal/auth"
	"hearth/internal/config"
	"hearth/internal/db"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	configPath := flag.String("config", "config.yaml", "path to config file")
	email := flag.String("email", "", "email address the link signs in")
	name := flag.String("name", "", "display name if the account does not exist yet")
	flag.Parse()

	if strings.TrimSpace(*email) == "" {
		fmt.Fprintln(os.Stderr, "usage: mklink -email user@example.com [-name \"Display Name\"]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	token, err := auth.GenerateOpaqueToken(32)
	if err != nil {
		slog.Error("failed to generate token", "error", err)
		os.Exit(1)
	}

	expiresAt := time.Now().Add(cfg.Auth.LinkTokenTTL)
	normalized := strings.ToLower(strings.TrimSpace(*email))
	if _, err := db.NewLinkTokenRepository(database).Create(normalized, auth.HashToken(token), strings.TrimSpace(*name), expiresAt); err != nil {
		slog.Error("failed to store link token", "error", err)
		os.Exit(1)
	}

	fmt.Println(token)
	slog.Info("link token created", "email", normalized, "expires_at", expiresAt.UTC().Format(time.RFC3339))
}
