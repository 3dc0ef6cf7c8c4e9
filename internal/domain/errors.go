package domain

import "errors"

// Error taxonomy of the orchestrator. Callers match these with errors.Is;
// wrapping with fmt.Errorf("...: %w", err) preserves the sentinel.
var (
	// ErrAllocationExhausted means no free port was found within the
	// allocator's search radius around the desired port.
	ErrAllocationExhausted = errors.New("port allocation exhausted")

	// ErrReclaimFailed means the process holding a port survived both the
	// graceful signal and the forced kill within the grace period.
	ErrReclaimFailed = errors.New("port reclaim failed")

	// ErrLivenessTimeout means a started process never answered its
	// liveness probe within the allotted attempts.
	ErrLivenessTimeout = errors.New("liveness probe timed out")

	// ErrProcessCrash means a supervised process terminated unexpectedly.
	ErrProcessCrash = errors.New("process crashed")

	// ErrRateLimited means the service's sliding window is full.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUpstreamTimeout means a forwarded request exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timed out")

	// ErrServiceUnknown means the request referenced an unregistered name.
	ErrServiceUnknown = errors.New("unknown service")
)
