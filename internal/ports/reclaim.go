package ports

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/logger"
	"github.com/MrSnakeDoc/moor/internal/poll"
)

// PortOwner is a handle to the OS process currently bound to a port.
type PortOwner interface {
	PID() int
	// Terminate asks the process to exit gracefully and escalates to a
	// forced kill once escalateAfter has elapsed.
	Terminate(ctx context.Context, escalateAfter time.Duration) error
}

// OwnerFinder resolves which process holds a local port. Swappable so
// reclaim logic is testable without killing real processes.
type OwnerFinder interface {
	FindOwner(ctx context.Context, port int) (PortOwner, error)
}

// Reclaimer forcibly frees ports by terminating their owners.
type Reclaimer struct {
	finder OwnerFinder
	prober Prober
	logger logger.Logger

	// Grace is how long the owner gets between SIGTERM and SIGKILL.
	Grace time.Duration
	// ConfirmInterval and ConfirmAttempts bound the re-probe loop that
	// verifies the port actually became free.
	ConfirmInterval time.Duration
	ConfirmAttempts int
}

// NewReclaimer creates a reclaimer with sane probe/grace defaults.
func NewReclaimer(finder OwnerFinder, prober Prober, log logger.Logger) *Reclaimer {
	return &Reclaimer{
		finder:          finder,
		prober:          prober,
		logger:          log,
		Grace:           3 * time.Second,
		ConfirmInterval: 200 * time.Millisecond,
		ConfirmAttempts: 15,
	}
}

// Reclaim terminates whatever holds port and confirms the port is free.
// Returns domain.ErrReclaimFailed when the port stays bound.
func (r *Reclaimer) Reclaim(ctx context.Context, port int) error {
	if !r.prober.Listening(ctx, port) {
		return nil
	}

	owner, err := r.finder.FindOwner(ctx, port)
	if err != nil {
		return fmt.Errorf("failed to find owner of port %d: %w", port, err)
	}

	r.logger.Warn("reclaiming port",
		logger.Int("port", port),
		logger.Int("pid", owner.PID()))

	if err := owner.Terminate(ctx, r.Grace); err != nil {
		return fmt.Errorf("failed to terminate pid %d on port %d: %w", owner.PID(), port, err)
	}

	freed := poll.Until(ctx, r.ConfirmInterval, r.ConfirmAttempts, func(ctx context.Context) bool {
		return !r.prober.Listening(ctx, port)
	})
	if !freed {
		return fmt.Errorf("port %d still bound after terminating pid %d: %w",
			port, owner.PID(), domain.ErrReclaimFailed)
	}
	return nil
}

// LsofFinder resolves port owners with lsof, the lowest common
// denominator available on the hosts we deploy to.
type LsofFinder struct{}

// FindOwner returns a handle to the process listening on port.
func (LsofFinder) FindOwner(ctx context.Context, port int) (PortOwner, error) {
	out, err := exec.CommandContext(ctx, "lsof", "-t", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN").Output()
	if err != nil {
		return nil, fmt.Errorf("lsof failed for port %d: %w", port, err)
	}

	line, _, _ := bytes.Cut(bytes.TrimSpace(out), []byte("\n"))
	pid, err := strconv.Atoi(strings.TrimSpace(string(line)))
	if err != nil {
		return nil, fmt.Errorf("unexpected lsof output %q for port %d: %w", out, port, err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to pid %d: %w", pid, err)
	}
	return &osOwner{proc: proc}, nil
}

type osOwner struct {
	proc *os.Process
}

func (o *osOwner) PID() int { return o.proc.Pid }

func (o *osOwner) Terminate(ctx context.Context, escalateAfter time.Duration) error {
	if err := o.proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone counts as terminated.
		if err == os.ErrProcessDone {
			return nil
		}
		return fmt.Errorf("sigterm failed: %w", err)
	}

	interval := 100 * time.Millisecond
	attempts := int(escalateAfter/interval) + 1
	gone := poll.Until(ctx, interval, attempts, func(context.Context) bool {
		// Signal 0 probes existence without affecting the process.
		return o.proc.Signal(syscall.Signal(0)) != nil
	})
	if gone {
		return nil
	}

	if err := o.proc.Kill(); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("sigkill failed: %w", err)
	}
	return nil
}
