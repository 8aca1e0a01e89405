package router

import (
	"net/http"

	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/handler"
	"github.com/hostedid/devicereset/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config, serviceTokens *auth.ServiceTokenService) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Device reset API v1","version":"0.1.0"}`))
	})

	// Internal trigger routes (service token)
	serviceAuth := mw.ServiceAuth(serviceTokens, auth.ServiceScopeResetDevice)
	mux.Handle("POST /api/v1/internal/reset-device/requests", serviceAuth(http.HandlerFunc(h.OpenResetRequest)))
	mux.Handle("POST /api/v1/internal/reset-device/grants", serviceAuth(http.HandlerFunc(h.GrantResetRequest)))

	// Token holder routes (public, rate limited per client IP)
	limits := cfg.Security.RateLimiting
	challengeRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "reset_challenge",
		Limit:  limits.ChallengeRate,
		Window: limits.Window,
		KeyFn:  middleware.IPKey,
	})
	answerRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "reset_answer",
		Limit:  limits.AnswerRate,
		Window: limits.Window,
		KeyFn:  middleware.IPKey,
	})

	mux.Handle("GET /api/v1/reset-device/challenge", challengeRateLimit(http.HandlerFunc(h.GetChallenge)))
	mux.Handle("POST /api/v1/reset-device/answer", answerRateLimit(http.HandlerFunc(h.SubmitAnswer)))
	mux.Handle("POST /api/v1/reset-device/cancel", challengeRateLimit(http.HandlerFunc(h.CancelResetRequest)))

	// Apply middleware stack
	var handler http.Handler = mux

	// Request logging
	handler = mw.Logger(handler)

	// Timing
	handler = mw.Timing(handler)

	// Client address, before anything that logs or rate limits it
	handler = mw.ClientAddress(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
