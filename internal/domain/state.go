package domain

import (
	"context"
	"time"
)

// Status is the lifecycle state of a managed service.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusCrashed  Status = "crashed"
)

// ServiceSnapshot is a read-only view of one service's runtime state,
// assembled by the supervisor for the proxy router and the dashboard.
type ServiceSnapshot struct {
	Name               string    `json:"name"`
	Status             Status    `json:"status"`
	AssignedPort       int       `json:"assigned_port"`
	PID                int       `json:"pid,omitempty"`
	StartTime          time.Time `json:"start_time,omitzero"`
	RestartCount       int       `json:"restart_count"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	Critical           bool      `json:"critical"`
}

// Registry is the read side of the supervisor's service table.
// The router only ever reads service state; it never mutates it.
type Registry interface {
	// Snapshot returns the state of one service, or ErrServiceUnknown.
	Snapshot(name string) (ServiceSnapshot, error)
	// SnapshotAll returns the state of every registered service.
	SnapshotAll() []ServiceSnapshot
}

// Controller is the control side of the supervisor, exposed over the
// control surface.
type Controller interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Deregister(ctx context.Context, name string) error
}
