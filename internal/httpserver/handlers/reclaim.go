package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/logger"
)

type reclaimResponse struct {
	Port   int    `json:"port"`
	Result string `json:"result"`
}

// ReclaimPort terminates whatever process holds the given port. An
// operator escape hatch for ports squatted by processes moor does not
// manage.
func ReclaimPort(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		port, err := strconv.Atoi(chi.URLParam(r, "port"))
		if err != nil || port < 1024 || port > 65535 {
			writeError(w, http.StatusBadRequest, "invalid port")
			return
		}

		if err := d.Reclaimer.Reclaim(r.Context(), port); err != nil {
			d.Logger.Warn("reclaim failed",
				logger.Int("port", port),
				logger.Error(err))
			if errors.Is(err, domain.ErrReclaimFailed) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, reclaimResponse{Port: port, Result: "reclaimed"})
	}
}
