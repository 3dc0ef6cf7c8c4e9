package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/moor/internal/httpserver/mw"
)

func init() { Register(registerControl) }

func registerControl(r chi.Router, d deps.Deps) {
	admin := mw.AllowOnlyCIDRS(d.AdminCIDRs, d.TrustProxy, d.Logger)
	r.With(admin).Post("/api/services/{service}/start", handlers.StartService(d))
	r.With(admin).Post("/api/services/{service}/stop", handlers.StopService(d))
	r.With(admin).Delete("/api/services/{service}", handlers.DeregisterService(d))
	r.With(admin).Post("/api/ports/{port}/reclaim", handlers.ReclaimPort(d))
}
