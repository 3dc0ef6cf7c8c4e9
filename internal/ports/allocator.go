package ports

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/logger"
	"github.com/MrSnakeDoc/moor/internal/store"
)

// DefaultSearchRadius bounds how far from the desired port the
// allocator searches before giving up.
const DefaultSearchRadius = 50

// defaultReserved lists well-known ports the allocator never hands out
// even when they probe free, to avoid shadowing local infrastructure.
var defaultReserved = map[int]struct{}{
	3306: {}, // mysql
	5432: {}, // postgres
	6379: {}, // redis
	8443: {}, // common tls sidecars
	9090: {}, // prometheus
}

// Allocator hands out non-conflicting localhost ports for named services
// and persists the mapping so a restarted orchestrator reuses it.
type Allocator struct {
	store  store.Assignments
	prober Prober
	logger logger.Logger
	radius int

	mu       sync.Mutex
	assigned map[string]int // name -> persisted port
	inUse    map[int]string // port -> owning name, current reservations
	reserved map[int]struct{}
}

// NewAllocator loads prior assignments from st and returns an allocator
// searching within radius ports of the desired one.
func NewAllocator(ctx context.Context, st store.Assignments, prober Prober, log logger.Logger, radius int) (*Allocator, error) {
	if radius <= 0 {
		radius = DefaultSearchRadius
	}

	persisted, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load port assignments: %w", err)
	}

	inUse := make(map[int]string, len(persisted))
	for name, port := range persisted {
		inUse[port] = name
	}

	return &Allocator{
		store:    st,
		prober:   prober,
		logger:   log,
		radius:   radius,
		assigned: persisted,
		inUse:    inUse,
		reserved: defaultReserved,
	}, nil
}

// Allocate finds a free port for name, preferring its persisted
// assignment, then the desired port, then the nearest free neighbor
// (desired±1, ±2, ...). The result is persisted before being returned.
// Returns domain.ErrAllocationExhausted when the radius is exhausted.
//
// A candidate port is claimed in the reservation map before it is
// probed, so two concurrent Allocate calls can never both observe the
// same port free. A claim whose probe fails is rolled back.
func (a *Allocator) Allocate(ctx context.Context, name string, desired int) (int, error) {
	// Prior assignment wins when still free, so restarts are stable.
	if prior, ok := a.assignment(name); ok {
		if ok, fresh := a.claim(name, prior); ok {
			if !a.prober.Listening(ctx, prior) {
				return prior, nil
			}
			if fresh {
				a.unclaim(name, prior)
			}
		}
		a.logger.Warn("persisted port no longer free, reallocating",
			logger.String("service", name),
			logger.Int("port", prior))
	}

	for offset := 0; offset <= a.radius; offset++ {
		for _, port := range []int{desired + offset, desired - offset} {
			if port < 1024 {
				continue
			}
			if a.isReserved(port) {
				continue
			}
			ok, fresh := a.claim(name, port)
			if !ok {
				continue
			}
			if a.prober.Listening(ctx, port) {
				if fresh {
					a.unclaim(name, port)
				}
				continue
			}

			a.commit(name, port)
			if err := a.store.Save(ctx, name, port); err != nil {
				a.unreserve(name, port)
				return 0, fmt.Errorf("failed to persist assignment %s=%d: %w", name, port, err)
			}
			if port != desired {
				a.logger.Info("desired port taken, assigned neighbor",
					logger.String("service", name),
					logger.Int("desired", desired),
					logger.Int("assigned", port))
			}
			return port, nil
		}
	}

	return 0, fmt.Errorf("no free port within %d of %d for %s: %w",
		a.radius, desired, name, domain.ErrAllocationExhausted)
}

// Release drops the persisted assignment for name without touching any
// running process.
func (a *Allocator) Release(ctx context.Context, name string) error {
	a.mu.Lock()
	if port, ok := a.assigned[name]; ok {
		delete(a.assigned, name)
		if a.inUse[port] == name {
			delete(a.inUse, port)
		}
	}
	a.mu.Unlock()

	if err := a.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to release assignment for %s: %w", name, err)
	}
	return nil
}

// Assigned returns the currently persisted port for name.
func (a *Allocator) Assigned(name string) (int, bool) {
	return a.assignment(name)
}

func (a *Allocator) assignment(name string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	port, ok := a.assigned[name]
	return port, ok
}

// claim reserves port for name unless another service already holds it.
// The check and the insert share one critical section. fresh reports
// whether the claim was newly inserted, so a failed probe knows whether
// to roll it back.
func (a *Allocator) claim(name string, port int) (ok, fresh bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if owner, taken := a.inUse[port]; taken {
		return owner == name, false
	}
	a.inUse[port] = name
	return true, true
}

// unclaim rolls back a fresh claim whose probe found the port occupied.
func (a *Allocator) unclaim(name string, port int) {
	a.mu.Lock()
	if a.inUse[port] == name {
		delete(a.inUse, port)
	}
	a.mu.Unlock()
}

// commit records port as name's assignment, dropping any prior
// reservation the service held.
func (a *Allocator) commit(name string, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prior, ok := a.assigned[name]; ok && prior != port && a.inUse[prior] == name {
		delete(a.inUse, prior)
	}
	a.assigned[name] = port
	a.inUse[port] = name
}

func (a *Allocator) unreserve(name string, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inUse[port] == name {
		delete(a.inUse, port)
	}
	delete(a.assigned, name)
}

func (a *Allocator) isReserved(port int) bool {
	_, ok := a.reserved[port]
	return ok
}
