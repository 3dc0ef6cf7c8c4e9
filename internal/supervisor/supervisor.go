package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/ledger"
	"github.com/MrSnakeDoc/moor/internal/logger"
	"github.com/MrSnakeDoc/moor/internal/poll"
	"github.com/MrSnakeDoc/moor/internal/ports"
)

// Options tune process startup, teardown and crash recovery.
type Options struct {
	ProbeInterval time.Duration // wait between liveness probe attempts
	ProbeAttempts int           // probe attempts before declaring a start failed
	StopGrace     time.Duration // SIGTERM to SIGKILL escalation delay

	// Crash-restart backoff for critical services. A service that dies
	// immediately every time backs off exponentially up to the max
	// instead of restarting in a tight loop.
	RestartBackoffInitial time.Duration
	RestartBackoffMax     time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ProbeInterval <= 0 {
		out.ProbeInterval = 250 * time.Millisecond
	}
	if out.ProbeAttempts <= 0 {
		out.ProbeAttempts = 40
	}
	if out.StopGrace <= 0 {
		out.StopGrace = 5 * time.Second
	}
	if out.RestartBackoffInitial <= 0 {
		out.RestartBackoffInitial = time.Second
	}
	if out.RestartBackoffMax <= 0 {
		out.RestartBackoffMax = time.Minute
	}
	return out
}

// serviceState is the mutable runtime record of one service. proc is
// non-nil exactly while the status is Starting or Running.
type serviceState struct {
	status       domain.Status
	port         int
	proc         *process
	startTime    time.Time
	restartCount int

	backoff     backoff.BackOff
	nextRestart time.Time
}

// Supervisor owns the service table: it is the only component that
// starts or stops processes and mutates service status. The proxy
// router reads it through the domain.Registry interface.
type Supervisor struct {
	alloc  *ports.Allocator
	prober ports.Prober
	ledger *ledger.Ledger
	logger logger.Logger
	opts   Options

	mu       sync.Mutex
	descs    map[string]domain.ServiceDescriptor
	table    map[string]*serviceState
	inflight map[string]bool
}

// New registers the configured descriptors, each with a Stopped state
// row, and returns the supervisor.
func New(descs []domain.ServiceDescriptor, alloc *ports.Allocator, prober ports.Prober, led *ledger.Ledger, log logger.Logger, opts Options) *Supervisor {
	s := &Supervisor{
		alloc:    alloc,
		prober:   prober,
		ledger:   led,
		logger:   log,
		opts:     opts.withDefaults(),
		descs:    make(map[string]domain.ServiceDescriptor, len(descs)),
		table:    make(map[string]*serviceState, len(descs)),
		inflight: make(map[string]bool),
	}
	for _, d := range descs {
		s.descs[d.Name] = d
		s.table[d.Name] = &serviceState{status: domain.StatusStopped}
	}
	return s
}

// Start allocates a port, launches the service and waits for it to
// answer its liveness probe. Starting an already Starting/Running
// service is a no-op. The table lock is never held across allocation,
// launch or probing.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	desc, ok := s.descs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("start %s: %w", name, domain.ErrServiceUnknown)
	}
	st := s.table[name]
	if s.inflight[name] || st.status == domain.StatusStarting || st.status == domain.StatusRunning {
		s.mu.Unlock()
		s.logger.Debug("start ignored, service already up",
			logger.String("service", name))
		return nil
	}
	s.inflight[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, name)
		s.mu.Unlock()
	}()

	return s.run(ctx, name, desc)
}

// run performs one launch attempt. Caller must hold the inflight slot
// for name.
func (s *Supervisor) run(ctx context.Context, name string, desc domain.ServiceDescriptor) error {
	port, err := s.alloc.Allocate(ctx, name, desc.DesiredPort)
	if err != nil {
		s.markCrashed(name, nil)
		s.ledger.Append(ledger.ActionProxyError, name, "port allocation failed: "+err.Error())
		return fmt.Errorf("failed to allocate port for %s: %w", name, err)
	}

	proc, err := launch(desc, port)
	if err != nil {
		s.markCrashed(name, nil)
		s.ledger.Append(ledger.ActionProxyError, name, "launch failed: "+err.Error())
		return err
	}

	s.mu.Lock()
	st := s.table[name]
	st.status = domain.StatusStarting
	st.proc = proc
	st.port = port
	st.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("service starting",
		logger.String("service", name),
		logger.Int("port", port),
		logger.Int("pid", proc.pid()))

	live := poll.Until(ctx, s.opts.ProbeInterval, s.opts.ProbeAttempts, func(ctx context.Context) bool {
		return proc.alive() && s.prober.Listening(ctx, port)
	})
	if !live {
		proc.stop(s.opts.StopGrace)
		// A Stop that raced the liveness poll already took ownership and
		// parked the service; only the owner records the failure.
		if s.markCrashed(name, proc) {
			s.ledger.Append(ledger.ActionProxyError, name,
				fmt.Sprintf("never became reachable on port %d", port))
		}
		return fmt.Errorf("service %s on port %d: %w", name, port, domain.ErrLivenessTimeout)
	}

	s.mu.Lock()
	won := st.proc == proc
	if won {
		st.status = domain.StatusRunning
		if st.backoff != nil {
			st.backoff.Reset()
		}
		st.nextRestart = time.Time{}
	}
	s.mu.Unlock()

	if won {
		s.ledger.Append(ledger.ActionStart, name, fmt.Sprintf("listening on port %d", port))
		s.logger.Info("service running",
			logger.String("service", name),
			logger.Int("port", port))
	}
	return nil
}

// Stop terminates the service's process group, escalating to SIGKILL
// after the grace period. Stopping an already stopped service is a
// no-op: no error, no duplicate ledger entry.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	st, ok := s.table[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("stop %s: %w", name, domain.ErrServiceUnknown)
	}
	if st.proc == nil {
		// Stopped or Crashed: nothing to kill. An explicit stop of a
		// crashed service parks it to keep the monitor from restarting.
		st.status = domain.StatusStopped
		st.nextRestart = time.Time{}
		s.mu.Unlock()
		return nil
	}
	proc := st.proc
	s.mu.Unlock()

	proc.stop(s.opts.StopGrace)

	s.mu.Lock()
	won := st.proc == proc
	if won {
		st.proc = nil
		st.status = domain.StatusStopped
		st.nextRestart = time.Time{}
	}
	s.mu.Unlock()

	if won {
		s.ledger.Append(ledger.ActionStop, name, "")
		s.logger.Info("service stopped", logger.String("service", name))
	}
	return nil
}

// Deregister stops the service if needed, removes its state row and
// releases its persisted port assignment.
func (s *Supervisor) Deregister(ctx context.Context, name string) error {
	if err := s.Stop(ctx, name); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.table, name)
	delete(s.descs, name)
	s.mu.Unlock()

	return s.alloc.Release(ctx, name)
}

// StopAll gracefully stops every running service, used at shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	for _, snap := range s.SnapshotAll() {
		if snap.Status == domain.StatusStarting || snap.Status == domain.StatusRunning {
			if err := s.Stop(ctx, snap.Name); err != nil {
				s.logger.Warn("failed to stop service at shutdown",
					logger.String("service", snap.Name),
					logger.Error(err))
			}
		}
	}
}

// CheckOnce is one monitoring pass: detect dead processes, mark them
// Crashed, and restart critical services whose backoff has elapsed.
// Called by the monitor loop; exported so tests can tick by hand.
func (s *Supervisor) CheckOnce(ctx context.Context) {
	now := time.Now()

	type crash struct {
		name string
		err  error
	}
	var crashes []crash
	var due []string

	s.mu.Lock()
	for name, st := range s.table {
		desc := s.descs[name]
		switch st.status {
		case domain.StatusStarting, domain.StatusRunning:
			if st.proc == nil || st.proc.alive() {
				continue
			}
			crashes = append(crashes, crash{name: name, err: st.proc.exitError()})
			st.proc = nil
			st.status = domain.StatusCrashed
			if desc.Critical {
				if st.backoff == nil {
					st.backoff = s.newBackoff()
				}
				st.nextRestart = now.Add(st.backoff.NextBackOff())
			}
		case domain.StatusCrashed:
			if !desc.Critical || st.nextRestart.IsZero() || now.Before(st.nextRestart) || s.inflight[name] {
				continue
			}
			st.restartCount++
			st.nextRestart = time.Time{}
			s.inflight[name] = true
			due = append(due, name)
		}
	}
	s.mu.Unlock()

	for _, c := range crashes {
		detail := "process exited"
		if c.err != nil {
			detail = c.err.Error()
		}
		s.ledger.Append(ledger.ActionCrash, c.name, detail)
		s.logger.Warn("service crashed",
			logger.String("service", c.name),
			logger.String("detail", detail))
	}

	for _, name := range due {
		s.restart(ctx, name)
	}
}

// restart performs one backoff-gated restart attempt for a critical
// service. Caller holds the inflight slot.
func (s *Supervisor) restart(ctx context.Context, name string) {
	s.mu.Lock()
	desc, ok := s.descs[name]
	row := s.table[name]
	if !ok || row == nil {
		// Deregistered between the monitor queuing the restart and the
		// restart running. Release the slot and walk away.
		delete(s.inflight, name)
		s.mu.Unlock()
		return
	}
	count := row.restartCount
	s.mu.Unlock()

	s.ledger.Append(ledger.ActionRestart, name, fmt.Sprintf("restart #%d", count))
	s.logger.Info("restarting crashed critical service",
		logger.String("service", name),
		logger.Int("restart_count", count))

	err := s.run(ctx, name, desc)

	s.mu.Lock()
	delete(s.inflight, name)
	st := s.table[name]
	if err != nil && st != nil && st.status == domain.StatusCrashed {
		if st.backoff == nil {
			st.backoff = s.newBackoff()
		}
		st.nextRestart = time.Now().Add(st.backoff.NextBackOff())
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("restart attempt failed",
			logger.String("service", name),
			logger.Error(err))
	}
}

func (s *Supervisor) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RestartBackoffInitial
	b.MaxInterval = s.opts.RestartBackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// markCrashed moves name to Crashed and reports whether it did. With a
// non-nil expect the transition only applies while expect still owns
// the state row.
func (s *Supervisor) markCrashed(name string, expect *process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.table[name]
	if st == nil {
		return false
	}
	if expect != nil && st.proc != expect {
		return false
	}
	st.proc = nil
	st.status = domain.StatusCrashed
	return true
}

// Snapshot implements domain.Registry for one service.
func (s *Supervisor) Snapshot(name string) (domain.ServiceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.table[name]
	if !ok {
		return domain.ServiceSnapshot{}, fmt.Errorf("snapshot %s: %w", name, domain.ErrServiceUnknown)
	}
	return s.snapshotLocked(name, st), nil
}

// SnapshotAll implements domain.Registry, sorted by service name.
func (s *Supervisor) SnapshotAll() []domain.ServiceSnapshot {
	s.mu.Lock()
	out := make([]domain.ServiceSnapshot, 0, len(s.table))
	for name, st := range s.table {
		out = append(out, s.snapshotLocked(name, st))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) snapshotLocked(name string, st *serviceState) domain.ServiceSnapshot {
	desc := s.descs[name]
	snap := domain.ServiceSnapshot{
		Name:               name,
		Status:             st.status,
		AssignedPort:       st.port,
		StartTime:          st.startTime,
		RestartCount:       st.restartCount,
		RateLimitPerMinute: desc.RateLimitPerMinute,
		Critical:           desc.Critical,
	}
	if st.proc != nil {
		snap.PID = st.proc.pid()
	}
	return snap
}

// Descriptors returns the registered descriptors, sorted by name.
func (s *Supervisor) Descriptors() []domain.ServiceDescriptor {
	s.mu.Lock()
	out := make([]domain.ServiceDescriptor, 0, len(s.descs))
	for _, d := range s.descs {
		out = append(out, d)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
