package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/httpserver/handlers"
)

func init() { Register(registerProxy) }

// Proxy traffic lives at the root: the first path segment names the
// service. chi routes static prefixes (/api, /healthz) ahead of the
// parameter, so the control surface is never shadowed.
func registerProxy(r chi.Router, d deps.Deps) {
	h := handlers.Proxy(d)
	r.HandleFunc("/{service}", h)
	r.HandleFunc("/{service}/*", h)
}
