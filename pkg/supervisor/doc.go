// Package supervisor is a minimal supervisord XML-RPC client covering the
// calls the node needs to manage the engine process: process info, start
// and stop. Faults are returned as *Fault so callers can classify them.
package supervisor
