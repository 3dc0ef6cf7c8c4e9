package deps

import (
	"time"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/ledger"
	"github.com/MrSnakeDoc/moor/internal/logger"
	"github.com/MrSnakeDoc/moor/internal/ports"
	"github.com/MrSnakeDoc/moor/internal/rate"
)

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string

	Registry  domain.Registry   // read side of the supervisor's table
	Control   domain.Controller // start/stop/deregister operations
	Limiter   *rate.Limiter     // per-service sliding windows, owned by the router
	Ledger    *ledger.Ledger    // lifecycle and traffic event log
	Reclaimer *ports.Reclaimer  // forcibly frees occupied ports

	ProxyTimeout time.Duration // upstream forward deadline
	StatusRecent int           // ledger entries per service on the dashboard
	AdminCIDRs   []string      // IPs/CIDRs allowed on the control surface
	TrustProxy   bool          // resolve client IP from proxy headers
}
