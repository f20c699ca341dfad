/*
Package health probes the engine after a restart.

A Checker performs one check and reports a Result. Probe repeats a check
until it succeeds or the attempt budget is spent, pausing Config.Delay
between checks, and returns the accumulated Status:

	status := health.Probe(ctx, health.NewAdminChecker(admin), health.Config{
		Attempts: 10,
		Delay:    time.Second,
	}, nil)
	if !status.Healthy {
		return status.LastResult.Err
	}

AdminChecker considers the engine healthy as soon as its admin API
answers a system stats call. The engine only opens that listener once
its configuration has been loaded, so an answer means the engine is
serving the new configuration.
*/
package health
