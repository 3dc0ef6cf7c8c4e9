package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MrSnakeDoc/moor/internal/domain"
)

// process wraps one launched child and tracks its exit. The child runs
// in its own process group so Stop can take down grandchildren too.
type process struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

// launch starts the descriptor's command with port substituted into the
// argv ("{port}") and exported as PORT.
func launch(desc domain.ServiceDescriptor, port int) (*process, error) {
	if len(desc.Command) == 0 {
		return nil, fmt.Errorf("service %s has an empty command", desc.Name)
	}

	portStr := strconv.Itoa(port)
	argv := make([]string, len(desc.Command))
	for i, arg := range desc.Command {
		argv[i] = strings.ReplaceAll(arg, "{port}", portStr)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "PORT="+portStr)
	// Child output goes to our stderr; stdout stays ours.
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Stdin = nil
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", desc.Name, err)
	}

	p := &process{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// pid returns the child's process id.
func (p *process) pid() int { return p.cmd.Process.Pid }

// alive reports whether the child has not exited yet.
func (p *process) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// exitError returns the error cmd.Wait reported, once the child exited.
func (p *process) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// stop signals the process group with SIGTERM, waits up to grace, and
// force-kills the group if the child is still alive.
func (p *process) stop(grace time.Duration) {
	if !p.alive() {
		return
	}

	// Negative pid targets the whole process group.
	_ = syscall.Kill(-p.pid(), syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	_ = syscall.Kill(-p.pid(), syscall.SIGKILL)
	<-p.done
}
