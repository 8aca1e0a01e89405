package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/text/cases"
)

// Argon2Params holds Argon2id parameters for security answer digests
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the production Argon2id parameters (64 MB, 3 passes, 4 lanes)
func DefaultParams() *Argon2Params {
	return &Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// NewParams creates custom Argon2id parameters
func NewParams(memory, iterations uint32, parallelism uint8) *Argon2Params {
	return &Argon2Params{
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: parallelism,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// NormalizeAnswer canonicalizes a security answer before hashing: surrounding
// whitespace is trimmed, inner runs of whitespace collapse to one space and the
// result is Unicode case-folded.
func NormalizeAnswer(answer string) string {
	return cases.Fold().String(strings.Join(strings.Fields(answer), " "))
}

// HashSecurityAnswer creates a salted Argon2id digest of the normalized answer
func HashSecurityAnswer(answer string, params *Argon2Params) (string, error) {
	normalized := NormalizeAnswer(answer)
	if normalized == "" {
		return "", fmt.Errorf("security answer is empty")
	}
	if params == nil {
		params = DefaultParams()
	}

	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(normalized), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash), nil
}

// VerifySecurityAnswer reports whether submitted matches any of the stored digests.
// Every digest is hashed and compared so the running time does not depend on
// which digest matched. Malformed digests never match.
func VerifySecurityAnswer(submitted string, digests []string) bool {
	normalized := NormalizeAnswer(submitted)
	if normalized == "" {
		return false
	}

	matched := 0
	for _, encoded := range digests {
		params, salt, hash, err := decodeHash(encoded)
		if err != nil {
			continue
		}
		other := argon2.IDKey([]byte(normalized), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
		matched |= subtle.ConstantTimeCompare(hash, other)
	}
	return matched == 1
}

// decodeHash extracts the parameters, salt, and hash from an encoded Argon2id hash string
func decodeHash(encodedHash string) (*Argon2Params, []byte, []byte, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return nil, nil, nil, fmt.Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, nil, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, nil, fmt.Errorf("unsupported version: %d", version)
	}

	var params Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to decode salt: %w", err)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to decode hash: %w", err)
	}
	if len(hash) == 0 {
		return nil, nil, nil, fmt.Errorf("empty hash")
	}
	params.KeyLength = uint32(len(hash))
	params.SaltLength = uint32(len(salt))

	return &params, salt, hash, nil
}
