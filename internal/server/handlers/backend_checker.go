package handlers

import (
	"context"
	"encoding/json"
)

// BackendPinger is the part of the backend client used for health.
type BackendPinger interface {
	Health(ctx context.Context) (json.RawMessage, error)
}

// BackendChecker reports the batch backend healthy when its /health
// endpoint answers 2xx.
type BackendChecker struct {
	Backend BackendPinger
}

// CheckHealth implements HealthChecker.
func (c BackendChecker) CheckHealth(ctx context.Context) error {
	_, err := c.Backend.Health(ctx)
	return err
}
