package db

import (
	"testing"
	"time"
)

func TestRevokedTokens(t *testing.T) {
	database := openTestDB(t)
	repo := NewRevokedTokenRepository(database)
	user := createTestUser(t, database, "alice@example.com")

	revoked, err := repo.IsRevoked("hash")
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if revoked {
		t.Fatal("unknown token reported as revoked")
	}

	if err := repo.Revoke("hash", user.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	revoked, err = repo.IsRevoked("hash")
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if !revoked {
		t.Fatal("revoked token not reported as revoked")
	}

	// Revoking the same token again is a no-op, not an error.
	if err := repo.Revoke("hash", user.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("second Revoke() error = %v", err)
	}
}

func TestRevokedTokenDeleteExpired(t *testing.T) {
	database := openTestDB(t)
	repo := NewRevokedTokenRepository(database)
	user := createTestUser(t, database, "alice@example.com")

	if err := repo.Revoke("stale", user.ID, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := repo.Revoke("live", user.ID, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	deleted, err := repo.DeleteExpired()
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	revoked, err := repo.IsRevoked("live")
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if !revoked {
		t.Fatal("live revocation was removed")
	}
}
