package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/logger"
)

type controlResponse struct {
	Service string `json:"service"`
	Result  string `json:"result"`
}

// StartService launches a registered service.
func StartService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "service")

		if err := d.Control.Start(r.Context(), name); err != nil {
			controlError(w, d, "start", name, err)
			return
		}
		writeJSON(w, http.StatusOK, controlResponse{Service: name, Result: "started"})
	}
}

// StopService terminates a running service.
func StopService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "service")

		if err := d.Control.Stop(r.Context(), name); err != nil {
			controlError(w, d, "stop", name, err)
			return
		}
		writeJSON(w, http.StatusOK, controlResponse{Service: name, Result: "stopped"})
	}
}

// DeregisterService removes a service and releases its port assignment.
func DeregisterService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "service")

		if err := d.Control.Deregister(r.Context(), name); err != nil {
			controlError(w, d, "deregister", name, err)
			return
		}
		writeJSON(w, http.StatusOK, controlResponse{Service: name, Result: "deregistered"})
	}
}

func controlError(w http.ResponseWriter, d deps.Deps, op, name string, err error) {
	d.Logger.Warn("control operation failed",
		logger.String("op", op),
		logger.String("service", name),
		logger.Error(err))

	switch {
	case errors.Is(err, domain.ErrServiceUnknown):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAllocationExhausted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
