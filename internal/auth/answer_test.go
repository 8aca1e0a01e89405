package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastParams() *Argon2Params {
	return NewParams(1024, 1, 1)
}

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Fluffy  ", "fluffy"},
		{"New\tYork   City", "new york city"},
		{"STRASSE", "strasse"},
		{"", ""},
		{"   ", ""},
		{"Mr.  Whiskers\n", "mr. whiskers"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAnswer(tt.in), "input %q", tt.in)
	}
}

func TestHashSecurityAnswerFormat(t *testing.T) {
	digest, err := HashSecurityAnswer("Fluffy", fastParams())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=1024,t=1,p=1$"))
	assert.NotContains(t, strings.ToLower(digest), "fluffy")

	other, err := HashSecurityAnswer("Fluffy", fastParams())
	require.NoError(t, err)
	assert.NotEqual(t, digest, other, "salts must differ")
}

func TestHashSecurityAnswerRejectsBlank(t *testing.T) {
	_, err := HashSecurityAnswer("   ", fastParams())
	assert.Error(t, err)
}

func TestVerifySecurityAnswer(t *testing.T) {
	digest, err := HashSecurityAnswer("Fluffy the Cat", fastParams())
	require.NoError(t, err)

	assert.True(t, VerifySecurityAnswer("fluffy the cat", []string{digest}))
	assert.True(t, VerifySecurityAnswer("  FLUFFY   the   CAT ", []string{digest}))
	assert.False(t, VerifySecurityAnswer("fluffy", []string{digest}))
	assert.False(t, VerifySecurityAnswer("", []string{digest}))
	assert.False(t, VerifySecurityAnswer("fluffy the cat", nil))
}

func TestVerifySecurityAnswerAnyDigest(t *testing.T) {
	first, err := HashSecurityAnswer("Paris", fastParams())
	require.NoError(t, err)
	second, err := HashSecurityAnswer("Lyon", fastParams())
	require.NoError(t, err)

	digests := []string{"not-a-digest", first, second}
	assert.True(t, VerifySecurityAnswer("lyon", digests))
	assert.True(t, VerifySecurityAnswer("paris", digests))
	assert.False(t, VerifySecurityAnswer("marseille", digests))
}

func TestDecodeHashRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$garbage$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	}
	for _, encoded := range bad {
		_, _, _, err := decodeHash(encoded)
		assert.Error(t, err, "input %q", encoded)
	}
}
