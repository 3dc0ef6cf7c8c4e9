package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr      string        // ex: ":7000"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	ServicesFile    string // path to the services.yaml descriptor file
	AssignmentsFile string // path to the persisted name->port JSON file
	LedgerCapacity  int    // ring buffer size for the event ledger
	StatusRecent    int    // ledger entries per service on the dashboard

	ProxyTimeout  time.Duration // upstream forward deadline (default: 10s)
	ProbeTimeout  time.Duration // one TCP probe attempt (default: 250ms)
	ProbeInterval time.Duration // wait between liveness probes
	ProbeAttempts int           // liveness probes before a start fails
	StopGrace     time.Duration // SIGTERM to SIGKILL escalation delay

	MonitorInterval       time.Duration // crash-detection pass cadence
	PortSearchRadius      int           // how far from the desired port to search
	RestartBackoffInitial time.Duration // first crash-restart delay
	RestartBackoffMax     time.Duration // backoff ceiling for flapping services

	AdminCIDRs []string // restrict the control surface to these IPs/CIDRs
	TrustProxy bool     // true => trust X-Forwarded-For headers

	// Redis: optional durable backend for port assignments. Empty addr
	// means the JSON file store is used instead.
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDialTimeout    time.Duration
	RedisReadTimeout    time.Duration
	RedisWriteTimeout   time.Duration
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting
	RedisRetryInterval  time.Duration // initial wait between retries
	RedisMaxWait        time.Duration // max wait between retries
	RedisPingTimeout    time.Duration // timeout for each ping attempt
	RedisWarnThreshold  int           // warn after this many attempts
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenAddr:      getenv("MOOR_LISTEN_ADDR", ":7000"),
		ShutdownTimeout: mustDuration("MOOR_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("MOOR_LOG_LEVEL", "info"),
		PrettyLog: mustBool("MOOR_PRETTY_LOG", true),

		// Orchestration
		ServicesFile:    getenv("MOOR_SERVICES_FILE", "services.yaml"),
		AssignmentsFile: getenv("MOOR_ASSIGNMENTS_FILE", "moor-ports.json"),
		LedgerCapacity:  getenvInt("MOOR_LEDGER_CAPACITY", 1000),
		StatusRecent:    getenvInt("MOOR_STATUS_RECENT", 5),

		ProxyTimeout:  mustDuration("MOOR_PROXY_TIMEOUT", 10*time.Second),
		ProbeTimeout:  mustDuration("MOOR_PROBE_TIMEOUT", 250*time.Millisecond),
		ProbeInterval: mustDuration("MOOR_PROBE_INTERVAL", 250*time.Millisecond),
		ProbeAttempts: getenvInt("MOOR_PROBE_ATTEMPTS", 40),
		StopGrace:     mustDuration("MOOR_STOP_GRACE", 5*time.Second),

		MonitorInterval:       mustDuration("MOOR_MONITOR_INTERVAL", 2*time.Second),
		PortSearchRadius:      getenvInt("MOOR_PORT_SEARCH_RADIUS", 50),
		RestartBackoffInitial: mustDuration("MOOR_RESTART_BACKOFF_INITIAL", time.Second),
		RestartBackoffMax:     mustDuration("MOOR_RESTART_BACKOFF_MAX", time.Minute),

		// Access restrictions
		AdminCIDRs: splitAndTrim(getenv("MOOR_ADMIN_CIDRS", "")),
		TrustProxy: mustBool("MOOR_TRUST_PROXY", false),

		// Redis settings (optional)
		RedisAddr:           getenv("MOOR_REDIS_ADDR", ""),
		RedisUser:           getenv("MOOR_REDIS_USERNAME", "default"),
		RedisPassword:       getenv("MOOR_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("MOOR_REDIS_DB", 0),
		RedisDialTimeout:    mustDuration("MOOR_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisReadTimeout:    mustDuration("MOOR_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWriteTimeout:   mustDuration("MOOR_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisPoolSize:       getenvInt("MOOR_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("MOOR_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("MOOR_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisMaxWait:        mustDuration("MOOR_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("MOOR_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisWarnThreshold:  getenvInt("MOOR_REDIS_WARN_THRESHOLD", 3),
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfg.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
