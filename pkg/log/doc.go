/*
Package log provides structured logging for xnode using zerolog.

A single package-level Logger is configured once by Init and every
component derives a child logger from it:

	logger := log.WithComponent("engine")
	logger.Info().Str("state", "online").Msg("Engine started")

Child loggers carry a component field. Engine start attempts add an
attempt_id field and per-inbound work adds inbound_tag, so one
reconciliation can be followed across the orchestrator, the supervisor
client and the state store.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

JSONOutput selects machine-readable output; otherwise a console writer
with RFC3339 timestamps is used. Output defaults to stdout.

Until Init runs, Logger discards everything, which keeps tests quiet.

# Levels

  - debug: per-item dispatch and RPC results
  - info: lifecycle transitions and restart verdicts
  - warn: auto-created inbound tracking, partial mutation failures, failed starts
  - error: unexpected internal errors
*/
package log
