/*
Package xtls is the node's client for the engine admin API.

The engine exposes gRPC handler and stats services on a loopback listener
that the node injects into every configuration it starts the engine with.
Client wraps the calls the node uses: per-protocol user additions, user
removal, inbound user listing and the runtime stats query that doubles as
the engine liveness probe.

Every call is bounded by the client's per-call timeout.
*/
package xtls
