/*
Package metrics defines the node's Prometheus metrics and its component
health registry.

All metrics are registered on the default Prometheus registry at init
and exposed through Handler.

# Metrics

	xnode_engine_state{state}                 1 for the current engine state
	xnode_engine_starts_total{outcome}        started, skipped, failed, rejected
	xnode_engine_start_duration_seconds       restarts only
	xnode_health_probe_attempts               probes needed after a restart
	xnode_user_mutations_total{op,outcome}    succeeded, partial, failed
	xnode_tracked_inbounds                    inbounds in the state store
	xnode_tracked_users{inbound}              users per inbound

The two tracked_* gauges are sampled by Collector from the state store;
the rest are updated inline by the packages that own the operation.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EngineStartDuration)

# Health registry

Components report themselves with RegisterComponent and UpdateComponent.
GetReadiness requires every name in CriticalComponents to be registered
and healthy; GetHealth reports every registered component.

	metrics.RegisterComponent("engine", false, "engine is offline")
	metrics.UpdateComponent("engine", true, "engine is online")
*/
package metrics
