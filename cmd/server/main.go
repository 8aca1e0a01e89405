package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hostedid/devicereset/internal/app"
	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/handler"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/middleware"
	"github.com/hostedid/devicereset/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting device reset server")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer a.Close()

	serviceTokens := auth.NewServiceTokenService(cfg.Security.ServiceAuth)
	if cfg.Security.ServiceAuth.Secret == "" {
		log.Warn().Msg("security.service_auth.secret is empty, internal reset routes will reject every call")
	}

	// Expire stale grants in the background
	go a.Resets.RunExpirySweeper(ctx, cfg.Reset.SweepInterval)

	h := handler.New(a.DB, a.Redis, log, cfg, a.Resets, a.KBA)
	if d := a.AuditDispatcher(); d != nil {
		h.SetAuditStats(d)
	}
	mw := middleware.New(a.Redis, log, cfg)
	r := router.New(h, mw, cfg, serviceTokens)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
