/*
Package state tracks what the engine is currently running.

The Store holds the last accepted engine configuration, the shape digest
the control plane computed for it, and one hashed user set per inbound.
Comparing those digests against an incoming change descriptor tells the
orchestrator whether a start request can skip the restart.

User mutations that bypass a restart update the sets incrementally, so a
later descriptor reflecting the same changes still compares equal.
*/
package state
