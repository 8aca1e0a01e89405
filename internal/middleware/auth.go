package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hostedid/devicereset/internal/auth"
)

// ServiceSubjectKey holds the name of the calling service
const ServiceSubjectKey contextKey = "service_subject"

// ServiceAuth only lets through internal callers presenting a bearer service
// token that carries scope.
func (m *Middleware) ServiceAuth(tokens *auth.ServiceTokenService, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenString string
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
					tokenString = strings.TrimSpace(parts[1])
				}
			}

			if tokenString == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			claims, err := tokens.Validate(tokenString, scope)
			if err != nil {
				m.log.Debug().Err(err).Msg("service token validation failed")
				writeJSONError(w, http.StatusUnauthorized, "invalid_token", "The service token is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), ServiceSubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetServiceSubject returns the authenticated calling service, if any
func GetServiceSubject(ctx context.Context) string {
	if s, ok := ctx.Value(ServiceSubjectKey).(string); ok {
		return s
	}
	return ""
}
