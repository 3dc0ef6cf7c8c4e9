// Package redis persists port assignments in a Redis hash, for setups
// where the orchestrator's filesystem is not durable.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Store handles Redis operations for port assignments.
type Store struct {
	client *redis.Client
}

// NewStore creates a new Redis-backed assignment store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Load returns the full name -> port mapping.
func (s *Store) Load(ctx context.Context) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, KeyAssignments).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}

	m := make(map[string]int, len(raw))
	for name, val := range raw {
		port, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("corrupt assignment for %s: %w", name, err)
		}
		m[name] = port
	}
	return m, nil
}

// Save persists one assignment, replacing any previous one.
func (s *Store) Save(ctx context.Context, name string, port int) error {
	if err := s.client.HSet(ctx, KeyAssignments, name, port).Err(); err != nil {
		return fmt.Errorf("failed to save assignment for %s: %w", name, err)
	}
	return nil
}

// Delete removes the assignment for name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.HDel(ctx, KeyAssignments, name).Err(); err != nil {
		return fmt.Errorf("failed to delete assignment for %s: %w", name, err)
	}
	return nil
}
