/*
Package handler applies user additions and removals to the running engine
through its admin API, without restarting it.

Every mutation updates the per-inbound user sets held by the state store,
so the digests the control plane computes for its next start request
keep matching and no restart is triggered.

A mutation is dispatched once per inbound. When some dispatches fail the
mutation still succeeds, since the common case adds one user to several
inbounds redundantly; only when every dispatch fails is a *MutationError
returned, carrying the first failure. Mutations never change the engine
lifecycle state.

When the engine cannot apply a change live and a Restarter is set, the
change is written into a copy of the accepted configuration and the
engine is force-restarted with it.

Blocker installs and removes per-address block rules on the engine
router with the same result shape.
*/
package handler
