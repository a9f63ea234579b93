package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// MaxAttempts is the guess budget for any one-time code. Exhausting it
// destroys the code; the only remediation is requesting a new one.
const MaxAttempts = 3

// GenerateCode creates a 6-digit zero-padded numeric code using crypto/rand
func GenerateCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generating random code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// GenerateOpaqueToken returns length random bytes hex-encoded.
func GenerateOpaqueToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashCode derives the at-rest form of a one-time code. The subject (user id
// or email) is mixed in so identical codes issued to different users never
// collide in storage.
func HashCode(subject, code string) string {
	h := sha256.Sum256([]byte(subject + ":" + code))
	return hex.EncodeToString(h[:])
}

// HashToken derives the at-rest form of an opaque token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// HashEquals compares two hash strings in constant time.
func HashEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
