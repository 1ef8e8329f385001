package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/nautlabs/skiff/internal/api/v1"
	"github.com/nautlabs/skiff/internal/api/ws"
	"github.com/nautlabs/skiff/internal/convo"
	"github.com/nautlabs/skiff/internal/dispatch"
	"github.com/nautlabs/skiff/internal/runner"
	"github.com/nautlabs/skiff/internal/store/sqlite"
)

func registerAPIRoutes(api huma.API, store *sqlite.Store, run *runner.Runner, sync *convo.Synchronizer, dispatcher *dispatch.Dispatcher) {
	v1.RegisterSessionRoutes(api, store, run, sync, dispatcher)
	v1.RegisterRunRoutes(api, store, run, sync)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/events", hub.ServeEvents)
	r.Get("/sessions/{sessionID}", hub.ServeSession)
}
