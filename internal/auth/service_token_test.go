package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hostedid/devicereset/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServiceAuthConfig() config.ServiceAuthConfig {
	return config.ServiceAuthConfig{
		Secret:   "0123456789abcdef0123456789abcdef",
		Issuer:   "account-service",
		Audience: "devicereset",
		TokenTTL: time.Minute,
	}
}

func TestServiceTokenRoundTrip(t *testing.T) {
	svc := NewServiceTokenService(testServiceAuthConfig())

	token, err := svc.Issue("support-console", ServiceScopeResetDevice)
	require.NoError(t, err)

	claims, err := svc.Validate(token, ServiceScopeResetDevice)
	require.NoError(t, err)
	assert.Equal(t, "support-console", claims.Subject)
	assert.Equal(t, ServiceScopeResetDevice, claims.Scope)
}

func TestServiceTokenWrongScope(t *testing.T) {
	svc := NewServiceTokenService(testServiceAuthConfig())

	token, err := svc.Issue("support-console", "reports:read")
	require.NoError(t, err)

	_, err = svc.Validate(token, ServiceScopeResetDevice)
	assert.Error(t, err)
}

func TestServiceTokenWrongSecret(t *testing.T) {
	token, err := NewServiceTokenService(testServiceAuthConfig()).Issue("svc", ServiceScopeResetDevice)
	require.NoError(t, err)

	cfg := testServiceAuthConfig()
	cfg.Secret = "another-secret-another-secret-00"
	_, err = NewServiceTokenService(cfg).Validate(token, ServiceScopeResetDevice)
	assert.Error(t, err)
}

func TestServiceTokenWrongAudience(t *testing.T) {
	token, err := NewServiceTokenService(testServiceAuthConfig()).Issue("svc", ServiceScopeResetDevice)
	require.NoError(t, err)

	cfg := testServiceAuthConfig()
	cfg.Audience = "billing"
	_, err = NewServiceTokenService(cfg).Validate(token, ServiceScopeResetDevice)
	assert.Error(t, err)
}

func TestServiceTokenExpired(t *testing.T) {
	cfg := testServiceAuthConfig()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   "svc",
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-30 * time.Minute)),
		},
		Scope: ServiceScopeResetDevice,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)

	_, err = NewServiceTokenService(cfg).Validate(token, ServiceScopeResetDevice)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestServiceTokenDisabled(t *testing.T) {
	svc := NewServiceTokenService(config.ServiceAuthConfig{})

	_, err := svc.Issue("svc", ServiceScopeResetDevice)
	assert.ErrorIs(t, err, ErrServiceAuthDisabled)

	_, err = svc.Validate("anything", ServiceScopeResetDevice)
	assert.ErrorIs(t, err, ErrServiceAuthDisabled)
}
