package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hostedid/devicereset/internal/config"
)

// ErrServiceAuthDisabled is returned when no shared secret is configured
var ErrServiceAuthDisabled = errors.New("service authentication is not configured")

// ServiceClaims are the claims carried by tokens of internal callers
// (account service, support tooling) that trigger reset requests.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// ServiceScopeResetDevice is the scope required to open and grant reset requests
const ServiceScopeResetDevice = "reset_device:write"

// ServiceTokenService signs and validates HS256 service tokens.
type ServiceTokenService struct {
	cfg    config.ServiceAuthConfig
	secret []byte
}

// NewServiceTokenService creates a new ServiceTokenService
func NewServiceTokenService(cfg config.ServiceAuthConfig) *ServiceTokenService {
	return &ServiceTokenService{cfg: cfg, secret: []byte(cfg.Secret)}
}

// Issue signs a service token for subject (the calling service's name)
func (s *ServiceTokenService) Issue(subject, scope string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrServiceAuthDisabled
	}

	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()

	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		Scope: scope,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses tokenString and checks signature, issuer, audience, expiry and scope.
func (s *ServiceTokenService) Validate(tokenString, requiredScope string) (*ServiceClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrServiceAuthDisabled
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if requiredScope != "" && claims.Scope != requiredScope {
		return nil, fmt.Errorf("missing scope %q", requiredScope)
	}

	return claims, nil
}
