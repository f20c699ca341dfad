/*
Package api serves the node's local HTTP endpoints.

Two servers live here:

	┌──────────── HealthServer (APP_PORT) ────────────┐
	│  /health   liveness + cached engine state        │
	│  /ready    engine, supervisor and api healthy    │
	│  /live     process liveness                      │
	│  /metrics  Prometheus exposition                 │
	└──────────────────────────────────────────────────┘

	┌──────── InternalServer (127.0.0.1:61001) ───────┐
	│  GET /internal/get-config                        │
	│      last configuration accepted by the state    │
	│      store, or {} before the first start         │
	└──────────────────────────────────────────────────┘

The engine process is launched by supervisord with ConfigURL as its
configuration source, so every restart makes it fetch the configuration
that the orchestrator has just accepted. InternalServer refuses any peer
that is not a loopback address.

# Usage

	hs := api.NewHealthServer(orchestrator)
	go func() {
		if err := hs.Start(":3000"); err != nil {
			log.Logger.Error().Err(err).Msg("Health server failed")
		}
	}()

	is := api.NewInternalServer(store)
	go is.Start("127.0.0.1:61001")

	defer hs.Shutdown(ctx)
	defer is.Shutdown(ctx)

Readiness is read from the component registry in pkg/metrics; the
engine and supervisor components are maintained by pkg/engine and the
api component by HealthServer itself.
*/
package api
