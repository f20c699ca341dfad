package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeAdminAPI CheckType = "admin-api"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	Err       error
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config bounds a probe run
type Config struct {
	// Attempts is the number of checks made before giving up
	Attempts int

	// Delay is the pause between two checks
	Delay time.Duration
}

// Status tracks the outcome of consecutive checks
type Status struct {
	Attempts             int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// Update records a new check result
func (s *Status) Update(result Result) {
	s.Attempts++
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	s.Healthy = false
}

// Probe runs checker until it reports healthy or cfg.Attempts checks have
// failed. onAttempt, if set, is called after every check. The returned
// Status holds the number of checks made and the last result.
func Probe(ctx context.Context, checker Checker, cfg Config, onAttempt func(Status)) Status {
	var status Status
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		status.Update(checker.Check(ctx))
		if onAttempt != nil {
			onAttempt(status)
		}
		if status.Healthy || attempt == cfg.Attempts {
			break
		}

		select {
		case <-time.After(cfg.Delay):
		case <-ctx.Done():
			status.LastResult.Err = ctx.Err()
			return status
		}
	}
	return status
}
