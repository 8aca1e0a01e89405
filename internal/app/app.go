// Package app wires the reset-device components from configuration. It is
// shared by the HTTP server and the admin CLI.
package app

import (
	"context"
	"fmt"

	"github.com/hostedid/devicereset/internal/audit"
	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/email"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/notify"
	"github.com/hostedid/devicereset/internal/repository"
	"github.com/hostedid/devicereset/internal/service"
)

// App holds the connected dependencies and services
type App struct {
	DB         *database.Postgres
	Redis      *database.Redis
	Users      *repository.UserRepository
	Devices    *repository.DeviceRepository
	AuditLogs  *repository.AuditRepository
	Store      service.ResetTokenStore
	Resets     *service.ResetDeviceService
	KBA        *service.KBAService
	Answers    *auth.Argon2Params
	dispatcher *audit.Dispatcher
}

// New connects to PostgreSQL and Redis and builds the services
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Msg("connected to PostgreSQL")

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Msg("connected to Redis")

	a := &App{
		DB:        db,
		Redis:     rdb,
		Users:     repository.NewUserRepository(db),
		Devices:   repository.NewDeviceRepository(db),
		AuditLogs: repository.NewAuditRepository(db),
		Answers: auth.NewParams(
			cfg.Security.Answer.Argon2Memory,
			cfg.Security.Answer.Argon2Iterations,
			cfg.Security.Answer.Argon2Parallelism,
		),
	}

	switch cfg.Reset.Store {
	case config.StoreRedis:
		a.Store = repository.NewRedisResetDeviceStore(rdb, cfg.Reset.RecordRetention)
	default:
		a.Store = repository.NewResetDeviceRepository(db)
	}
	log.Info().Str("store", cfg.Reset.Store).Msg("reset request store selected")

	sink := a.auditSink(cfg, log)

	sender, err := email.NewSender(ctx, cfg.Email, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize email sender: %w", err)
	}
	notifier := notify.New(a.Users, a.Devices, sender, cfg.Email.AppName, log)

	a.Resets = service.NewResetDeviceService(a.Store, a.Users, notifier, notifier, sink, cfg.Reset, log)
	a.Resets.SetLinkSender(notifier)
	a.KBA = service.NewKBAService(a.Resets, a.Users, log)

	return a, nil
}

func (a *App) auditSink(cfg *config.Config, log *logger.Logger) service.AuditSink {
	sinks := audit.Multi{a.AuditLogs, audit.NewLogSink(log)}
	if cfg.Audit.StreamChannel != "" {
		sinks = append(sinks, audit.NewStreamSink(a.Redis, cfg.Audit.StreamChannel))
	}
	if !cfg.Audit.Async {
		return sinks
	}

	a.dispatcher = audit.NewDispatcher(audit.DispatcherConfig{
		BufferSize: cfg.Audit.BufferSize,
	}, sinks, log)
	return a.dispatcher
}

// AuditDispatcher returns the async audit dispatcher, nil when audit writes are synchronous
func (a *App) AuditDispatcher() *audit.Dispatcher {
	return a.dispatcher
}

// Close drains pending audit entries and closes the connections
func (a *App) Close() {
	a.dispatcher.Close()
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
