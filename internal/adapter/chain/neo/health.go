package neo

import (
	"context"
	"fmt"
)

// HealthCheck implements ports.HealthChecker for the RPC node.
type HealthCheck struct {
	gateway *Gateway
}

func NewHealthCheck(g *Gateway) *HealthCheck {
	return &HealthCheck{gateway: g}
}

// Ping asks the node for its block height.
func (h *HealthCheck) Ping(ctx context.Context) error {
	if err := h.gateway.wait(ctx); err != nil {
		return err
	}
	if _, err := h.gateway.client.GetBlockCount(); err != nil {
		return fmt.Errorf("neo rpc block count: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "neo-rpc"
}
