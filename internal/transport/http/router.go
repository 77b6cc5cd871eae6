// Package httptransport assembles the HTTP surface: authenticated
// component routes, the unauthenticated consumer verification endpoint,
// and the operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	batchhandler "pharmatrace/internal/batch/handler"
	oversighthandler "pharmatrace/internal/oversight/handler"
	"pharmatrace/internal/platform/clock"
	"pharmatrace/internal/platform/middleware"
	roleshandler "pharmatrace/internal/roles/handler"
	transferhandler "pharmatrace/internal/transfer/handler"
)

// Deps carries everything the router mounts.
type Deps struct {
	Roles     *roleshandler.Handler
	Batches   *batchhandler.Handler
	Transfers *transferhandler.Handler
	Oversight *oversighthandler.Handler
	Validator middleware.TokenValidator
	Clock     *clock.Logical
	Logger    *slog.Logger
}

// NewRouter wires middleware and routes. Every request gets a request
// id, a span, and a logical clock tick; the component routes
// additionally require a bearer token.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Trace)
	r.Use(middleware.ClockTick(deps.Clock))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	deps.Oversight.RegisterPublic(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		deps.Roles.Register(r)
		deps.Batches.Register(r)
		deps.Transfers.Register(r)
		deps.Oversight.Register(r)
	})

	return r
}
