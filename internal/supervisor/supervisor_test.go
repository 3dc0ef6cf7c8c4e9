package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/ledger"
	"github.com/MrSnakeDoc/moor/internal/logger"
	"github.com/MrSnakeDoc/moor/internal/ports"
	filestore "github.com/MrSnakeDoc/moor/internal/store/file"
)

// stubProber reports fixed liveness, regardless of port.
type stubProber struct {
	mu   sync.Mutex
	live bool
}

func (p *stubProber) Listening(context.Context, int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *stubProber) set(live bool) {
	p.mu.Lock()
	p.live = live
	p.mu.Unlock()
}

func testOptions() Options {
	return Options{
		ProbeInterval:         5 * time.Millisecond,
		ProbeAttempts:         4,
		StopGrace:             200 * time.Millisecond,
		RestartBackoffInitial: time.Millisecond,
		RestartBackoffMax:     5 * time.Millisecond,
	}
}

// newTestSupervisor wires a supervisor whose allocator sees all ports
// free and whose liveness prober is controlled by the returned stub.
func newTestSupervisor(t *testing.T, descs ...domain.ServiceDescriptor) (*Supervisor, *ledger.Ledger, *stubProber) {
	t.Helper()

	log := logger.New("error", false)
	st := filestore.NewStore(filepath.Join(t.TempDir(), "ports.json"))

	alloc, err := ports.NewAllocator(context.Background(), st, &stubProber{}, log, 10)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}

	led := ledger.New(100)
	prober := &stubProber{live: true}
	sup := New(descs, alloc, prober, led, log, testOptions())

	t.Cleanup(func() { sup.StopAll(context.Background()) })
	return sup, led, prober
}

func sleeperDesc(name string, critical bool) domain.ServiceDescriptor {
	return domain.ServiceDescriptor{
		Name:        name,
		DesiredPort: 28080,
		Command:     []string{"sleep", "60"},
		Critical:    critical,
	}
}

// waitStatus polls until the service reaches want, ticking the monitor
// pass by hand.
func waitStatus(t *testing.T, sup *Supervisor, name string, want domain.Status) domain.ServiceSnapshot {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sup.CheckOnce(context.Background())
		snap, err := sup.Snapshot(name)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, _ := sup.Snapshot(name)
	t.Fatalf("service %s stuck in %s, want %s", name, snap.Status, want)
	return domain.ServiceSnapshot{}
}

func TestSupervisor_StartToRunning(t *testing.T) {
	sup, led, _ := newTestSupervisor(t, sleeperDesc("web", false))

	if err := sup.Start(context.Background(), "web"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap, err := sup.Snapshot("web")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != domain.StatusRunning {
		t.Errorf("status = %s, want running", snap.Status)
	}
	if snap.AssignedPort != 28080 {
		t.Errorf("port = %d, want desired 28080", snap.AssignedPort)
	}
	if snap.PID == 0 {
		t.Error("snapshot has no pid for a running service")
	}
	if entries := led.Filter("web", 0); len(entries) != 1 || entries[0].Action != ledger.ActionStart {
		t.Errorf("ledger = %+v, want exactly one start entry", entries)
	}

	// Starting again is a no-op.
	if err := sup.Start(context.Background(), "web"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if entries := led.Filter("web", 0); len(entries) != 1 {
		t.Errorf("second start appended entries: %+v", entries)
	}
}

func TestSupervisor_StartUnknownService(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)

	err := sup.Start(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrServiceUnknown) {
		t.Fatalf("err = %v, want ErrServiceUnknown", err)
	}
}

func TestSupervisor_LivenessTimeout(t *testing.T) {
	sup, led, prober := newTestSupervisor(t, sleeperDesc("deaf", false))
	prober.set(false) // never answers its probe

	err := sup.Start(context.Background(), "deaf")
	if !errors.Is(err, domain.ErrLivenessTimeout) {
		t.Fatalf("err = %v, want ErrLivenessTimeout", err)
	}

	snap, _ := sup.Snapshot("deaf")
	if snap.Status != domain.StatusCrashed {
		t.Errorf("status = %s, want crashed", snap.Status)
	}
	if snap.PID != 0 {
		t.Error("crashed service still reports a pid")
	}

	entries := led.Filter("deaf", 0)
	if len(entries) != 1 || entries[0].Action != ledger.ActionProxyError {
		t.Errorf("ledger = %+v, want one proxy_error entry", entries)
	}
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	sup, led, _ := newTestSupervisor(t, sleeperDesc("web", false))

	if err := sup.Start(context.Background(), "web"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Stop(context.Background(), "web"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	snap, _ := sup.Snapshot("web")
	if snap.Status != domain.StatusStopped {
		t.Errorf("status = %s, want stopped", snap.Status)
	}

	stops := 0
	for _, e := range led.Filter("web", 0) {
		if e.Action == ledger.ActionStop {
			stops++
		}
	}
	if stops != 1 {
		t.Fatalf("stop entries = %d, want 1", stops)
	}

	// Stopping again: no error, no duplicate entry.
	if err := sup.Stop(context.Background(), "web"); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	stops = 0
	for _, e := range led.Filter("web", 0) {
		if e.Action == ledger.ActionStop {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("stop entries after second Stop = %d, want 1", stops)
	}
}

func TestSupervisor_CrashDetectionAndRestart(t *testing.T) {
	sup, led, _ := newTestSupervisor(t, sleeperDesc("critical", true))

	if err := sup.Start(context.Background(), "critical"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, _ := sup.Snapshot("critical")
	firstPID := snap.PID

	// Kill the process out-of-band, as a crash would.
	if err := syscall.Kill(firstPID, syscall.SIGKILL); err != nil {
		t.Fatalf("kill: %v", err)
	}

	// The monitor pass detects the death and, after backoff, restarts.
	snap = waitStatus(t, sup, "critical", domain.StatusRunning)
	if snap.RestartCount != 1 {
		t.Errorf("restart_count = %d, want 1", snap.RestartCount)
	}
	if snap.PID == firstPID || snap.PID == 0 {
		t.Errorf("pid = %d, want a fresh process (old %d)", snap.PID, firstPID)
	}

	var crashes, restarts int
	for _, e := range led.Filter("critical", 0) {
		switch e.Action {
		case ledger.ActionCrash:
			crashes++
		case ledger.ActionRestart:
			restarts++
		}
	}
	if crashes != 1 || restarts != 1 {
		t.Errorf("crash entries = %d, restart entries = %d, want 1 and 1", crashes, restarts)
	}
}

func TestSupervisor_NonCriticalStaysCrashed(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, sleeperDesc("fragile", false))

	if err := sup.Start(context.Background(), "fragile"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, _ := sup.Snapshot("fragile")
	if err := syscall.Kill(snap.PID, syscall.SIGKILL); err != nil {
		t.Fatalf("kill: %v", err)
	}

	snap = waitStatus(t, sup, "fragile", domain.StatusCrashed)

	// Further passes never restart a non-critical service.
	for i := 0; i < 5; i++ {
		sup.CheckOnce(context.Background())
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ = sup.Snapshot("fragile")
	if snap.Status != domain.StatusCrashed || snap.RestartCount != 0 {
		t.Errorf("status = %s restart_count = %d, want crashed and 0", snap.Status, snap.RestartCount)
	}
}

func TestSupervisor_Deregister(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, sleeperDesc("temp", false))

	if err := sup.Start(context.Background(), "temp"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Deregister(context.Background(), "temp"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	if _, err := sup.Snapshot("temp"); !errors.Is(err, domain.ErrServiceUnknown) {
		t.Fatalf("Snapshot after deregister: err = %v, want ErrServiceUnknown", err)
	}
	if len(sup.SnapshotAll()) != 0 {
		t.Error("SnapshotAll still lists the deregistered service")
	}
}

func TestSupervisor_RestartAfterDeregisterIsNoop(t *testing.T) {
	sup, led, _ := newTestSupervisor(t, sleeperDesc("flaky", true))

	// The monitor queues a restart, then the service is deregistered
	// before the restart attempt runs.
	sup.mu.Lock()
	sup.inflight["flaky"] = true
	sup.mu.Unlock()
	if err := sup.Deregister(context.Background(), "flaky"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	// Must not panic on the missing state row.
	sup.restart(context.Background(), "flaky")

	sup.mu.Lock()
	inflight := sup.inflight["flaky"]
	sup.mu.Unlock()
	if inflight {
		t.Error("inflight slot not released")
	}
	if entries := led.Filter("flaky", 0); len(entries) != 0 {
		t.Errorf("ledger = %+v, want no entries for a deregistered service", entries)
	}
}

// gateProber blocks the first liveness probe until released, then
// reports the port as not listening.
type gateProber struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gateProber) Listening(context.Context, int) bool {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	return false
}

func TestSupervisor_StopDuringStartPoll(t *testing.T) {
	log := logger.New("error", false)
	st := filestore.NewStore(filepath.Join(t.TempDir(), "ports.json"))
	alloc, err := ports.NewAllocator(context.Background(), st, &stubProber{}, log, 10)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	led := ledger.New(100)
	prober := &gateProber{entered: make(chan struct{}), release: make(chan struct{})}
	sup := New([]domain.ServiceDescriptor{sleeperDesc("web", false)}, alloc, prober, led, log, testOptions())
	t.Cleanup(func() { sup.StopAll(context.Background()) })

	startErr := make(chan error, 1)
	go func() { startErr <- sup.Start(context.Background(), "web") }()

	// Stop arrives while Start is mid liveness poll.
	<-prober.entered
	if err := sup.Stop(context.Background(), "web"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(prober.release)
	<-startErr

	snap, _ := sup.Snapshot("web")
	if snap.Status != domain.StatusStopped {
		t.Errorf("status = %s, want stopped", snap.Status)
	}

	// The stop owns the outcome: one stop entry, no spurious
	// proxy_error or start entries from the abandoned launch.
	entries := led.Filter("web", 0)
	if len(entries) != 1 || entries[0].Action != ledger.ActionStop {
		t.Errorf("ledger = %+v, want exactly one stop entry", entries)
	}
}
