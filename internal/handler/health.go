package handler

import (
	"context"
	"net/http"
	"time"
)

// Version is reported by /health; overridden at build time with -ldflags.
var Version = "dev"

const checkTimeout = 2 * time.Second

// AuditStats exposes delivery counters of the async audit dispatcher
type AuditStats interface {
	Dropped() uint64
	Failed() uint64
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Store    string            `json:"store,omitempty"`
	Services map[string]string `json:"services"`
	Audit    *auditHealth      `json:"audit,omitempty"`
}

type auditHealth struct {
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// SetAuditStats adds the dispatcher counters to /health
func (h *Handler) SetAuditStats(stats AuditStats) {
	h.auditStats = stats
}

// checkDependencies runs every configured dependency check and returns the failures by name
func (h *Handler) checkDependencies(ctx context.Context) (map[string]string, []string) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	services := make(map[string]string, 2)
	var failed []string
	for name, c := range map[string]HealthChecker{"postgres": h.db, "redis": h.rdb} {
		if c == nil {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("service", name).Msg("health check failed")
			services[name] = "unhealthy"
			failed = append(failed, name)
			continue
		}
		services[name] = "healthy"
	}
	return services, failed
}

// Health reports dependency status and audit delivery counters
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	services, failed := h.checkDependencies(r.Context())

	resp := HealthResponse{Status: "healthy", Version: Version, Services: services}
	if h.cfg != nil {
		resp.Store = h.cfg.Reset.Store
	}
	if h.auditStats != nil {
		resp.Audit = &auditHealth{Dropped: h.auditStats.Dropped(), Failed: h.auditStats.Failed()}
	}

	code := http.StatusOK
	if len(failed) > 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// Ready returns 200 once every dependency answers
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, failed := h.checkDependencies(r.Context()); len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false, "failing": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}
