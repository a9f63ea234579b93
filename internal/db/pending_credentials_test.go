package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"hearth/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

func createTestUser(t *testing.T, database *DB, email string) *models.User {
	t.Helper()

	user, err := NewUserRepository(database).Create(email, "Test User")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return user
}

func TestIssueOverwriteResetsAttempts(t *testing.T) {
	database := openTestDB(t)
	repo := NewPendingCredentialRepository(database)
	user := createTestUser(t, database, "alice@example.com")

	if _, err := repo.Issue(user.ID, models.PurposeLogin, "hash1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, _, err := repo.IncrementAttempts(user.ID, models.PurposeLogin, 3); err != nil {
		t.Fatalf("IncrementAttempts() error = %v", err)
	}

	if _, err := repo.Issue(user.ID, models.PurposeLogin, "hash2", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue() overwrite error = %v", err)
	}

	cred, err := repo.Get(user.ID, models.PurposeLogin)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cred.Attempts != 0 {
		t.Fatalf("attempts after reissue = %d, want 0", cred.Attempts)
	}
	if cred.CodeHash != "hash2" {
		t.Fatalf("code hash after reissue = %q, want %q", cred.CodeHash, "hash2")
	}
}

func TestIncrementAttemptsStopsAtMax(t *testing.T) {
	database := openTestDB(t)
	repo := NewPendingCredentialRepository(database)
	user := createTestUser(t, database, "alice@example.com")

	if _, err := repo.Issue(user.ID, models.PurposeLogin, "hash", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, _, err := repo.IncrementAttempts(user.ID, models.PurposeLogin, 3)
		if err != nil {
			t.Fatalf("IncrementAttempts() error = %v", err)
		}
		if got != want {
			t.Fatalf("attempts = %d, want %d", got, want)
		}
	}

	got, _, err := repo.IncrementAttempts(user.ID, models.PurposeLogin, 3)
	if err != nil {
		t.Fatalf("IncrementAttempts() error = %v", err)
	}
	if got != -1 {
		t.Fatalf("attempts past max = %d, want -1", got)
	}
}

func TestIncrementAttemptsReturnsCurrentHash(t *testing.T) {
	database := openTestDB(t)
	repo := NewPendingCredentialRepository(database)
	user := createTestUser(t, database, "alice@example.com")

	if _, err := repo.Issue(user.ID, models.PurposeLogin, "hash1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, hash, err := repo.IncrementAttempts(user.ID, models.PurposeLogin, 3)
	if err != nil {
		t.Fatalf("IncrementAttempts() error = %v", err)
	}
	if hash != "hash1" {
		t.Fatalf("hash = %q, want %q", hash, "hash1")
	}

	// A reissue between a stale read and the increment must not leave the
	// caller comparing against the old secret: the hash travels with the
	// increment itself.
	if _, err := repo.Issue(user.ID, models.PurposeLogin, "hash2", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue() reissue error = %v", err)
	}

	attempts, hash, err := repo.IncrementAttempts(user.ID, models.PurposeLogin, 3)
	if err != nil {
		t.Fatalf("IncrementAttempts() error = %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts after reissue = %d, want 1", attempts)
	}
	if hash != "hash2" {
		t.Fatalf("hash after reissue = %q, want %q", hash, "hash2")
	}
}

func TestLockDestroysSecretButKeepsRow(t *testing.T) {
	database := openTestDB(t)
	repo := NewPendingCredentialRepository(database)
	user := createTestUser(t, database, "alice@example.com")

	if _, err := repo.Issue(user.ID, models.PurposeChallenge, "hash", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if err := repo.Lock(user.ID, models.PurposeChallenge); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	cred, err := repo.Get(user.ID, models.PurposeChallenge)
	if err != nil {
		t.Fatalf("Get() after lock error = %v", err)
	}
	if !cred.Locked() {
		t.Fatal("credential not locked after Lock()")
	}

	// A locked credential accepts no further attempts.
	got, _, err := repo.IncrementAttempts(user.ID, models.PurposeChallenge, 3)
	if err != nil {
		t.Fatalf("IncrementAttempts() error = %v", err)
	}
	if got != -1 {
		t.Fatalf("attempts on locked credential = %d, want -1", got)
	}
}

func TestPurposesAreIndependent(t *testing.T) {
	database := openTestDB(t)
	repo := NewPendingCredentialRepository(database)
	user := createTestUser(t, database, "alice@example.com")

	if _, err := repo.Issue(user.ID, models.PurposeLogin, "login-hash", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue(login) error = %v", err)
	}
	if _, err := repo.Issue(user.ID, models.PurposeSetup, "setup-hash", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue(setup) error = %v", err)
	}

	if err := repo.Delete(user.ID, models.PurposeLogin); err != nil {
		t.Fatalf("Delete(login) error = %v", err)
	}

	if _, err := repo.Get(user.ID, models.PurposeLogin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(login) error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Get(user.ID, models.PurposeSetup); err != nil {
		t.Fatalf("Get(setup) error = %v", err)
	}
}

func TestDeleteExpiredPendingCredentials(t *testing.T) {
	database := openTestDB(t)
	repo := NewPendingCredentialRepository(database)
	alice := createTestUser(t, database, "alice@example.com")
	bob := createTestUser(t, database, "bob@example.com")

	if _, err := repo.Issue(alice.ID, models.PurposeLogin, "hash", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := repo.Issue(bob.ID, models.PurposeLogin, "hash", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	deleted, err := repo.DeleteExpired()
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.Get(bob.ID, models.PurposeLogin); err != nil {
		t.Fatalf("Get() for live credential error = %v", err)
	}
}
