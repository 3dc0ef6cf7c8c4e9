package handlers

import (
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/ledger"
)

type ledgerResponse struct {
	Entries []ledger.Entry `json:"entries"`
}

// Ledger exposes the event log: ?service= filters to one service,
// ?n= caps the number of entries returned.
func Ledger(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if raw := r.URL.Query().Get("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "invalid n: "+raw)
				return
			}
			n = parsed
		}

		var entries []ledger.Entry
		if service := r.URL.Query().Get("service"); service != "" {
			entries = d.Ledger.Filter(service, n)
		} else {
			entries = d.Ledger.Recent(n)
		}

		writeJSON(w, http.StatusOK, ledgerResponse{Entries: entries})
	}
}
