package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// ResetTokenBytes is the amount of randomness in a reset token (256 bits)
const ResetTokenBytes = 32

// GenerateResetToken returns a URL-safe, unpadded base64 token
func GenerateResetToken() (string, error) {
	b := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken creates a SHA-256 hash of a token for secure storage.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// LooksLikeResetToken is a cheap shape check run before any store lookup
func LooksLikeResetToken(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(ResetTokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}
