// Package health provides health, readiness, and liveness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServiceStatus represents the status of a single dependency
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the structured health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version,omitempty"`
}

// ReadinessResponse is the readiness probe response
type ReadinessResponse struct {
	Ready     bool   `json:"ready"`
	Timestamp string `json:"timestamp"`
}

// LivenessResponse is the liveness probe response
type LivenessResponse struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
}

// ProviderCheck probes connectivity to the mail provider
type ProviderCheck func(ctx context.Context) error

// Handler handles health check requests
type Handler struct {
	dbPool        *pgxpool.Pool
	providerCheck ProviderCheck
	version       string
	timeout       time.Duration
	ready         bool
	mu            sync.RWMutex
}

// Config holds health handler configuration
type Config struct {
	DBPool *pgxpool.Pool
	// ProviderCheck is optional; when set the health endpoint also
	// reports mail provider connectivity
	ProviderCheck ProviderCheck
	Version       string
	Timeout       time.Duration
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Handler{
		dbPool:        cfg.DBPool,
		providerCheck: cfg.ProviderCheck,
		version:       cfg.Version,
		timeout:       timeout,
		ready:         true,
	}
}

// SetReady sets the readiness state, flipped off during shutdown
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := make(map[string]ServiceStatus)
	overallStatus := "healthy"

	dbStatus := h.checkDatabase(ctx)
	services["database"] = dbStatus
	if dbStatus.Status != "up" {
		overallStatus = "degraded"
	}

	if h.providerCheck != nil {
		providerStatus := h.checkProvider(ctx)
		services["mail_provider"] = providerStatus
		if providerStatus.Status != "up" {
			overallStatus = "degraded"
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Version:   h.version,
	}

	status := http.StatusOK
	if overallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// Ready handles GET /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ReadinessResponse{
		Ready:     ready,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Live handles GET /live
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Alive:     true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.dbPool == nil {
		return ServiceStatus{Status: "down", Error: "database pool not configured"}
	}

	start := time.Now()
	if err := h.dbPool.Ping(ctx); err != nil {
		return ServiceStatus{
			Status:  "down",
			Latency: time.Since(start).String(),
			Error:   err.Error(),
		}
	}
	return ServiceStatus{
		Status:  "up",
		Latency: time.Since(start).String(),
	}
}

func (h *Handler) checkProvider(ctx context.Context) ServiceStatus {
	start := time.Now()
	if err := h.providerCheck(ctx); err != nil {
		return ServiceStatus{
			Status:  "down",
			Latency: time.Since(start).String(),
			Error:   err.Error(),
		}
	}
	return ServiceStatus{
		Status:  "up",
		Latency: time.Since(start).String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
