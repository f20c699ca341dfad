/*
Package engine keeps the proxy engine process in line with the
configuration pushed by the control plane.

The Orchestrator is the single entry point for starting, stopping and
inspecting the engine. A start request carries the full engine
configuration and a change descriptor. When the engine is online, the
probe answers and the state store reports no differences, the request
succeeds without touching the process. Otherwise the configuration is
accepted into the store, the supervisor restarts the engine and the
admin API is probed until it answers or the attempt budget runs out.

# State machine

	offline ──start──▶ starting ──probe ok──▶ online
	   ▲                  │
	   └──── failed ◀─────┘ spawn error or probe budget exhausted

# Concurrency

Only one start runs at a time. A start that arrives while another is in
flight fails immediately with ErrInProgress; nothing is queued. Once
admitted, a start runs to completion even if the caller's context is
canceled.

# Errors

Operations report failures inside their result structs:

  - ErrProtocolVersion: missing or malformed change descriptor
  - ErrInProgress: another start is running
  - *SpawnError: the supervisor could not start the engine; Known marks
    the supervisor's spawn error fault, which matches
    contract.ErrEngineFailedToStart
  - *HealthCheckError: the admin API never answered
  - contract.ErrInternal: anything unexpected, including panics
*/
package engine
