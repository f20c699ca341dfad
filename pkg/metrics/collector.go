package metrics

import (
	"time"
)

// StateSource exposes the tracked user counts per inbound
type StateSource interface {
	UserCounts() map[string]int
}

// Collector periodically samples the state store into gauges
type Collector struct {
	source   StateSource
	interval time.Duration
	stopCh   chan struct{}

	// last holds the inbound labels set on the previous pass so that
	// dropped inbounds can be removed from the vector
	last map[string]struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StateSource) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
		last:     make(map[string]struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := c.source.UserCounts()

	TrackedInbounds.Set(float64(len(counts)))

	current := make(map[string]struct{}, len(counts))
	for tag, n := range counts {
		TrackedUsers.WithLabelValues(tag).Set(float64(n))
		current[tag] = struct{}{}
	}

	for tag := range c.last {
		if _, ok := current[tag]; !ok {
			TrackedUsers.DeleteLabelValues(tag)
		}
	}
	c.last = current
}
