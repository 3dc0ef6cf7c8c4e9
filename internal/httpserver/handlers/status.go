package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/ledger"
)

type serviceStatus struct {
	Name               string         `json:"name"`
	Status             string         `json:"status"`
	AssignedPort       int            `json:"assigned_port"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute"`
	CurrentRateUsage   int            `json:"current_rate_usage"`
	RestartCount       int            `json:"restart_count"`
	Critical           bool           `json:"critical"`
	RecentEvents       []ledger.Entry `json:"recent_events"`
}

type statusResponse struct {
	Services []serviceStatus `json:"services"`
}

// Status returns the dashboard view: best-known state for every service,
// assembled without any live probing so it never fails on a dead backend.
func Status(d deps.Deps) http.HandlerFunc {
	recent := d.StatusRecent
	if recent <= 0 {
		recent = 5
	}

	return func(w http.ResponseWriter, r *http.Request) {
		snaps := d.Registry.SnapshotAll()

		services := make([]serviceStatus, 0, len(snaps))
		for _, s := range snaps {
			services = append(services, serviceStatus{
				Name:               s.Name,
				Status:             string(s.Status),
				AssignedPort:       s.AssignedPort,
				RateLimitPerMinute: s.RateLimitPerMinute,
				CurrentRateUsage:   d.Limiter.Usage(s.Name),
				RestartCount:       s.RestartCount,
				Critical:           s.Critical,
				RecentEvents:       d.Ledger.Filter(s.Name, recent),
			})
		}

		writeJSON(w, http.StatusOK, statusResponse{Services: services})
	}
}
