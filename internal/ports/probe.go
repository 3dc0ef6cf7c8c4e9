package ports

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds one TCP connect attempt.
const DefaultProbeTimeout = 250 * time.Millisecond

// Prober answers whether something is listening on a local port. The
// allocator treats a listening port as taken; the supervisor treats it
// as the service being live.
type Prober interface {
	Listening(ctx context.Context, port int) bool
}

// TCPProber probes by attempting a short-timeout TCP connect to
// 127.0.0.1:port. A refused connection means the port is free.
type TCPProber struct {
	Timeout time.Duration
}

// NewTCPProber creates a prober with the given per-attempt timeout.
func NewTCPProber(timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &TCPProber{Timeout: timeout}
}

// Listening reports whether a connect to 127.0.0.1:port succeeds.
func (p *TCPProber) Listening(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
