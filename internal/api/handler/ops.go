// Package handler provides the HTTP handlers of serve mode.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/geowatch/geowatch/internal/api/models"
	"github.com/geowatch/geowatch/internal/api/response"
	"github.com/geowatch/geowatch/internal/provider/resilience"
)

// Pinger checks a dependency is reachable. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsHandler serves the operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	analyses  []string
	database  Pinger
	now       func() time.Time
}

// OpsConfig holds configuration for an OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Registry reports backend circuit state. Optional.
	Registry *resilience.Registry

	// Analyses lists the kinds being served.
	Analyses []string

	// Database is checked by the readiness endpoint. Optional.
	Database Pinger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		analyses:  cfg.Analyses,
		database:  cfg.Database,
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health. The status is the worst backend
// state; 503 is returned only when a backend circuit is open.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(h.now()),
		Version:   h.version,
		BuildTime: h.buildTime,
		Backends:  []models.BackendStatus{},
	}

	if h.registry != nil {
		for _, b := range h.registry.Snapshot() {
			status := backendStatus(b)
			health.Backends = append(health.Backends, status)
			health.Status = worse(health.Status, status.Status)
		}
	}

	code := http.StatusOK
	if health.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, health)
}

// ReadinessCheck handles GET /v1/ops/ready.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if len(h.analyses) == 0 {
		response.ServiceUnavailable(w, r, "no analyses configured")
		return
	}
	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.database.Ping(ctx); err != nil {
			response.ServiceUnavailable(w, r, "database unreachable")
			return
		}
	}

	response.JSON(w, r, http.StatusOK, models.Readiness{Ready: true, Analyses: h.analyses})
}

func backendStatus(b *resilience.Health) models.BackendStatus {
	status := models.BackendStatus{
		Name:                b.Name,
		Status:              models.HealthStatusOK,
		CircuitState:        b.CircuitState.String(),
		ConsecutiveFailures: b.Counts.ConsecutiveFailures,
		LastError:           b.LastError,
	}
	switch b.CircuitState {
	case gobreaker.StateHalfOpen:
		status.Status = models.HealthStatusDegraded
	case gobreaker.StateOpen:
		status.Status = models.HealthStatusFail
	}
	if b.LastSuccessAt != nil {
		ts := models.Timestamp(*b.LastSuccessAt)
		status.LastSuccessAt = &ts
	}
	if b.LastFailureAt != nil {
		ts := models.Timestamp(*b.LastFailureAt)
		status.LastFailureAt = &ts
	}
	return status
}

var severity = map[models.HealthStatus]int{
	models.HealthStatusOK:       0,
	models.HealthStatusDegraded: 1,
	models.HealthStatusFail:     2,
}

func worse(a, b models.HealthStatus) models.HealthStatus {
	if severity[b] > severity[a] {
		return b
	}
	return a
}
