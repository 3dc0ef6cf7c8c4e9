package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready    bool `json:"ready"`
	Services int  `json:"services"`
}

func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, readyzResponse{
			Ready:    true,
			Services: len(d.Registry.SnapshotAll()),
		})
	}
}
