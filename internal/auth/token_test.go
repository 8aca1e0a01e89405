package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateResetToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := GenerateResetToken()
		require.NoError(t, err)
		assert.Len(t, token, 43)
		assert.True(t, LooksLikeResetToken(token))
		assert.False(t, seen[token], "duplicate token")
		seen[token] = true
	}
}

func TestHashToken(t *testing.T) {
	token, err := GenerateResetToken()
	require.NoError(t, err)

	hash := HashToken(token)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashToken(token))
	assert.NotEqual(t, hash, HashToken(token+"x"))
	assert.NotContains(t, hash, token)
}

func TestLooksLikeResetToken(t *testing.T) {
	assert.False(t, LooksLikeResetToken(""))
	assert.False(t, LooksLikeResetToken("short"))
	assert.False(t, LooksLikeResetToken("0123456789012345678901234567890123456789012345"))
	// right length, but '+' and '/' are not in the URL alphabet
	assert.False(t, LooksLikeResetToken("+++++++++++++++++++++++++++++++++++++++++++"))
}
