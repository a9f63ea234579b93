package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 1 * time.Hour
)

type CleanupService struct {
	pendingCredentials *PendingCredentialRepository
	linkTokens         *LinkTokenRepository
	revokedTokens      *RevokedTokenRepository
	trustedDevices     *TrustedDeviceRepository
	interval           time.Duration
}

func NewCleanupService(
	pendingCredentials *PendingCredentialRepository,
	linkTokens *LinkTokenRepository,
	revokedTokens *RevokedTokenRepository,
	trustedDevices *TrustedDeviceRepository,
) *CleanupService {
	return &CleanupService{
		pendingCredentials: pendingCredentials,
		linkTokens:         linkTokens,
		revokedTokens:      revokedTokens,
		trustedDevices:     trustedDevices,
		interval:           DefaultCleanupInterval,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting token cleanup service", "component", "cleanup", "interval", s.interval)

	s.runCleanup()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping token cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *CleanupService) runCleanup() {
	targets := []struct {
		name string
		run  func() (int64, error)
	}{
		{"pending credentials", s.pendingCredentials.DeleteExpired},
		{"link tokens", s.linkTokens.DeleteExpired},
		{"revoked tokens", s.revokedTokens.DeleteExpired},
		{"trusted devices", s.trustedDevices.DeleteExpired},
	}

	for _, target := range targets {
		deleted, err := target.run()
		if err != nil {
			slog.Error("error deleting expired rows", "component", "cleanup", "target", target.name, "error", err)
			continue
		}
		if deleted > 0 {
			slog.Info("deleted expired rows", "component", "cleanup", "target", target.name, "count", deleted)
		}
	}
}
