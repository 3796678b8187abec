package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// HealthHandler serves the liveness probe.
type HealthHandler struct {
	version   string
	startTime time.Time
}

// NewHealthHandler builds a HealthHandler reporting version in its body.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now()}
}

// Register registers GET /v1/healthz with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealthz",
		Method:      "GET",
		Path:        "/v1/healthz",
		Summary:     "Liveness check",
		Description: "Reports that the service process is up and accepting requests",
		Tags:        []string{"System"},
	}, h.GetHealthz)
}

// HealthzInput is empty; the endpoint takes no parameters.
type HealthzInput struct{}

// HealthzOutput wraps the liveness response body.
type HealthzOutput struct {
	Body HealthzResponse
}

// HealthzResponse is the liveness probe's JSON body.
type HealthzResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// GetHealthz answers the liveness probe.
func (h *HealthHandler) GetHealthz(ctx context.Context, input *HealthzInput) (*HealthzOutput, error) {
	return &HealthzOutput{
		Body: HealthzResponse{
			Status:        "ok",
			Version:       h.version,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		},
	}, nil
}
