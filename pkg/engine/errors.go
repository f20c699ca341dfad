package engine

import (
	"errors"
	"fmt"

	"github.com/cuemby/xnode/pkg/contract"
	"github.com/cuemby/xnode/pkg/supervisor"
)

var (
	// ErrProtocolVersion is returned when a start request carries no
	// usable change descriptor. The caller runs an incompatible contract.
	ErrProtocolVersion = errors.New("change descriptor missing or malformed, node and panel versions are incompatible")

	// ErrInProgress is returned when another start is already running
	ErrInProgress = errors.New("engine start already in progress")
)

// SpawnError reports that the supervisor could not start the engine
type SpawnError struct {
	// Known is set when the failure matches the supervisor's spawn error
	// signature, which maps to contract.ErrEngineFailedToStart
	Known bool
	Err   error
}

func (e *SpawnError) Error() string {
	if e.Known {
		known := contract.ErrEngineFailedToStart
		return fmt.Sprintf("%s [%s]: %s: %v (see %s)",
			contract.KnownErrorTitle, known.Code, known.Message, e.Err, known.DocumentationURL)
	}
	return fmt.Sprintf("engine failed to spawn: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Is matches contract.ErrEngineFailedToStart for known spawn failures
func (e *SpawnError) Is(target error) bool {
	return e.Known && target == error(contract.ErrEngineFailedToStart)
}

func newSpawnError(err error) *SpawnError {
	return &SpawnError{Known: supervisor.IsSpawnError(err), Err: err}
}

// HealthCheckError reports that the engine never answered the liveness
// probe within the retry budget
type HealthCheckError struct {
	Attempts int
	LastErr  error

	// Process is the supervisor's view after the last attempt, if known
	Process *supervisor.ProcessInfo
}

func (e *HealthCheckError) Error() string {
	msg := fmt.Sprintf("engine did not become healthy after %d attempts: %v", e.Attempts, e.LastErr)
	if e.Process != nil {
		msg += fmt.Sprintf(" (process %s", e.Process.StateName)
		if e.Process.SpawnErr != "" {
			msg += fmt.Sprintf(", spawn error %q", e.Process.SpawnErr)
		}
		msg += fmt.Sprintf(", exit status %d)", e.Process.ExitStatus)
	}
	return msg
}

func (e *HealthCheckError) Unwrap() error {
	return e.LastErr
}
