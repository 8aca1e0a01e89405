package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/middleware"
	"github.com/hostedid/devicereset/internal/service"
)

// HealthChecker is a dependency checked by /health and /ready
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	db       HealthChecker
	rdb      HealthChecker
	log      *logger.Logger
	cfg      *config.Config
	resetSvc *service.ResetDeviceService
	kbaSvc   *service.KBAService

	auditStats AuditStats
}

// New creates a new Handler instance. db or rdb may be nil when the
// deployment does not use them.
func New(db, rdb HealthChecker, log *logger.Logger, cfg *config.Config, resetSvc *service.ResetDeviceService, kbaSvc *service.KBAService) *Handler {
	return &Handler{
		db:       db,
		rdb:      rdb,
		log:      log.WithComponent("handler"),
		cfg:      cfg,
		resetSvc: resetSvc,
		kbaSvc:   kbaSvc,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// withClient tags the request context with the caller details recorded on audit entries
func withClient(r *http.Request) context.Context {
	return service.WithClientInfo(r.Context(), middleware.ClientIP(r), r.UserAgent())
}
