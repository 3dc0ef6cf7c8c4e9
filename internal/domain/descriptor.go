package domain

// ServiceDescriptor is the static configuration of one managed service.
// Descriptors are loaded once at startup from the services file and are
// immutable afterwards; a reconfiguration replaces the whole descriptor.
type ServiceDescriptor struct {
	// Name uniquely identifies the service. It is also the first path
	// segment used to route proxy traffic to it.
	Name string `json:"name"`

	// DesiredPort is the port the service prefers to bind. The allocator
	// may assign a nearby port when it is taken.
	DesiredPort int `json:"desired_port"`

	// Command is the argv used to launch the service. Occurrences of
	// "{port}" in any element are replaced with the assigned port, and
	// the PORT environment variable is set as well.
	Command []string `json:"command"`

	// RateLimitPerMinute caps admitted proxy requests over a sliding
	// 60s window. 0 means unlimited.
	RateLimitPerMinute int `json:"rate_limit_per_minute"`

	// Critical services are restarted automatically when their process
	// dies. Non-critical services stay Crashed until an operator acts.
	Critical bool `json:"critical"`

	// Autostart services are started when the orchestrator boots.
	Autostart bool `json:"autostart"`
}
