package handler

import (
	"context"
	"net/http"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
	Job      string            `json:"job"`
}

type checker interface {
	HealthCheck(ctx context.Context) error
}

func (h *Handler) dependencies() map[string]checker {
	deps := make(map[string]checker)
	if h.db != nil {
		deps["postgres"] = h.db
	}
	if h.rdb != nil {
		deps["redis"] = h.rdb
	}
	return deps
}

// Health returns the health status of the service
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	services := make(map[string]string)
	status := "healthy"
	for name, dep := range h.dependencies() {
		if err := dep.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy"
			status = "degraded"
		} else {
			services[name] = "healthy"
		}
	}

	resp := HealthResponse{
		Status:   status,
		Version:  Version,
		Services: services,
		Job:      string(h.jobs.Status().Phase),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// Ready returns whether the service is ready to accept requests
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for name, dep := range h.dependencies() {
		if err := dep.HealthCheck(ctx); err != nil {
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
