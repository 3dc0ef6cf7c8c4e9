// Package store defines the persistence contract for port assignments,
// the only state that must survive an orchestrator restart.
package store

import "context"

// Assignments persists the service-name to port mapping so that a
// restarted orchestrator reuses prior assignments when still free.
// Implementations must be safe for concurrent use.
type Assignments interface {
	// Load returns the full name -> port mapping.
	Load(ctx context.Context) (map[string]int, error)
	// Save persists one assignment, replacing any previous one.
	Save(ctx context.Context, name string, port int) error
	// Delete removes the assignment for name. Deleting a missing
	// assignment is not an error.
	Delete(ctx context.Context, name string) error
}
