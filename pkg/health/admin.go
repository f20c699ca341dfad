package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/xnode/pkg/xtls"
)

// StatsSource answers the engine admin API's system stats call
type StatsSource interface {
	GetSysStats(ctx context.Context) (xtls.SysStats, error)
}

// AdminChecker reports the engine healthy when its admin API answers
type AdminChecker struct {
	source StatsSource
}

// NewAdminChecker creates a checker over source
func NewAdminChecker(source StatsSource) *AdminChecker {
	return &AdminChecker{source: source}
}

// Check performs one stats call
func (a *AdminChecker) Check(ctx context.Context) Result {
	start := time.Now()

	stats, err := a.source.GetSysStats(ctx)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("admin API unreachable: %v", err),
			Err:       err,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("admin API up for %ds with %d goroutines", stats.Uptime, stats.NumGoroutine),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (a *AdminChecker) Type() CheckType {
	return CheckTypeAdminAPI
}
