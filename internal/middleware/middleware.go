// Package middleware holds the HTTP middleware of the device reset API.
// The chain applied by the router is Recover, RequestID, ClientAddress, Timing, Logger.
package middleware

import (
	"net"

	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/logger"
)

// Middleware holds all HTTP middleware. rdb may be nil, in which case rate
// limiting is skipped.
type Middleware struct {
	rdb     *database.Redis
	log     *logger.Logger
	limits  config.RateLimitingConfig
	proxies []*net.IPNet
}

// New creates a new Middleware instance
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Middleware {
	m := &Middleware{
		rdb:    rdb,
		log:    log.WithComponent("http"),
		limits: cfg.Security.RateLimiting,
	}
	proxies, err := cfg.Server.TrustedProxyNets()
	if err != nil {
		m.log.Warn().Err(err).Msg("ignoring trusted proxies, forwarding headers will not be honoured")
	}
	m.proxies = proxies
	return m
}
