/*
Package types defines the data model shared by the xnode packages.

# Change descriptor

Every start request carries a ChangeDescriptor: a digest of the
configuration with user data stripped (the shape digest) and, per
inbound, the digest of its user set. The node compares it against its
own tracked state to decide whether a restart is needed.

# Engine state

	offline ──► starting ──► online
	   ▲            │           │
	   │            ▼           │
	   └──────── failed ◄───────┘ (on stop: offline)

Only one reconciliation may hold the engine in starting at a time.
Failed is transient: it is reported and the machine returns to offline.

# Accounts

Account is a closed sum type over the per-protocol credentials. Callers
switch on the concrete type to choose the engine RPC.
*/
package types
