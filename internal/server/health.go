package server

import (
	"context"
	"time"

	"github.com/morezero/jsonrpc2/pkg/lanes"
)

// pinger is the slice of the failure journal the health check needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecks reports each optional dependency. A nil entry means the dependency is not configured.
type HealthChecks struct {
	Database *bool `json:"database,omitempty"`
	Comms    *bool `json:"comms,omitempty"`
}

// HealthOutput is the /health response body.
type HealthOutput struct {
	Status    string            `json:"status"`
	Checks    HealthChecks      `json:"checks"`
	Methods   int               `json:"methods"`
	Pools     []lanes.PoolStats `json:"pools"`
	Timestamp string            `json:"timestamp"`
}

// Health checks the configured dependencies. Lanes have no failure state of their own.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	healthy := true
	var checks HealthChecks

	if s.journal != nil {
		dbOk := s.journal.Ping(ctx) == nil
		checks.Database = &dbOk
		healthy = healthy && dbOk
	}
	if s.nc != nil {
		commsOk := s.nc.IsConnected()
		checks.Comms = &commsOk
		healthy = healthy && commsOk
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return &HealthOutput{
		Status:    status,
		Checks:    checks,
		Methods:   s.disp.Registry().Len(),
		Pools:     s.disp.PoolStats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
