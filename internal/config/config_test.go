package config

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorePostgres, cfg.Reset.Store)
	assert.Equal(t, 24*time.Hour, cfg.Reset.TokenTTL)
	assert.Equal(t, 3, cfg.Reset.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Security.RateLimiting.Window)
	assert.True(t, cfg.Security.RateLimiting.Enabled)
	assert.Equal(t, uint32(65536), cfg.Security.Answer.Argon2Memory)
	assert.Equal(t, "log", cfg.Email.Provider)
	assert.Equal(t, "HostedID", cfg.Email.AppName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEVICERESET_RESET_STORE", "redis")
	t.Setenv("DEVICERESET_RESET_MAX_ATTEMPTS", "5")
	t.Setenv("DEVICERESET_RESET_TOKEN_TTL", "10m")
	t.Setenv("DEVICERESET_SECURITY_SERVICE_AUTH_SECRET", "s3cret")
	t.Setenv("DEVICERESET_AUDIT_STREAM_CHANNEL", "audit:reset_device")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Reset.Store)
	assert.Equal(t, 5, cfg.Reset.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Reset.TokenTTL)
	assert.Equal(t, "s3cret", cfg.Security.ServiceAuth.Secret)
	assert.Equal(t, "audit:reset_device", cfg.Audit.StreamChannel)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("DEVICERESET_RESET_STORE", "memcached")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{Reset: ResetConfig{Store: StoreRedis, TokenTTL: time.Hour, MaxAttempts: 3}}
	require.NoError(t, valid.Validate())

	noTTL := valid
	noTTL.Reset.TokenTTL = 0
	assert.Error(t, noTTL.Validate())

	noAttempts := valid
	noAttempts.Reset.MaxAttempts = 0
	assert.Error(t, noAttempts.Validate())

	badProxy := valid
	badProxy.Server.TrustedProxies = []string{"10.0.0.0/33"}
	assert.Error(t, badProxy.Validate())
}

func TestTrustedProxyNets(t *testing.T) {
	server := ServerConfig{TrustedProxies: []string{"10.0.0.0/8", " 192.0.2.7 ", "", "2001:db8::1"}}
	nets, err := server.TrustedProxyNets()
	require.NoError(t, err)
	require.Len(t, nets, 3)

	assert.True(t, nets[0].Contains(net.ParseIP("10.20.30.40")))
	assert.True(t, nets[1].Contains(net.ParseIP("192.0.2.7")))
	assert.False(t, nets[1].Contains(net.ParseIP("192.0.2.8")))
	assert.True(t, nets[2].Contains(net.ParseIP("2001:db8::1")))

	_, err = ServerConfig{TrustedProxies: []string{"not-an-ip"}}.TrustedProxyNets()
	assert.Error(t, err)
}

func TestLoadTrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("DEVICERESET_SERVER_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.7")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, cfg.Server.TrustedProxies)
}

func TestDSNAndAddr(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", db.DSN())

	assert.Equal(t, "cache:6379", RedisConfig{Host: "cache", Port: 6379}.Addr())
}
