package metrics

import (
	"sync"
	"time"
)

// Collector tracks relay activity counters.
// This implementation uses manual metric tracking without external
// dependencies. For production, consider integrating prometheus/client_golang.
type Collector struct {
	mu sync.RWMutex

	// Tick metrics
	ticksTotal     map[string]int64 // by outcome (completed|error|rejected)
	tickDurTotalMS int64
	ticksInFlight  int64

	// Fragment metrics
	fragmentsTotal     int64
	fragmentBytesTotal int64
	fragmentWriteMS    int64 // total store-write latency

	// Read-side metrics
	watchersActive int64
	watchersTotal  int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		ticksTotal: make(map[string]int64),
		startTime:  time.Now(),
	}
}

// TickStarted marks a tick as in flight.
func (c *Collector) TickStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticksInFlight++
}

// TickFinished records a finished tick with its outcome label.
func (c *Collector) TickFinished(outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticksInFlight > 0 {
		c.ticksInFlight--
	}
	c.ticksTotal[outcome]++
	c.tickDurTotalMS += duration.Milliseconds()
}

// FragmentWritten records one relayed fragment and its store-write latency.
func (c *Collector) FragmentWritten(bytes int, writeLatency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fragmentsTotal++
	c.fragmentBytesTotal += int64(bytes)
	c.fragmentWriteMS += writeLatency.Milliseconds()
}

// WatcherStarted records a new watch subscription.
func (c *Collector) WatcherStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchersActive++
	c.watchersTotal++
}

// WatcherStopped records a watch subscription teardown.
func (c *Collector) WatcherStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchersActive > 0 {
		c.watchersActive--
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds      int64
	TicksTotal         map[string]int64
	TicksInFlight      int64
	TickDurTotalMS     int64
	FragmentsTotal     int64
	FragmentBytesTotal int64
	FragmentWriteMS    int64
	WatchersActive     int64
	WatchersTotal      int64
}

// Snapshot copies the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ticks := make(map[string]int64, len(c.ticksTotal))
	for k, v := range c.ticksTotal {
		ticks[k] = v
	}
	return Snapshot{
		UptimeSeconds:      int64(time.Since(c.startTime).Seconds()),
		TicksTotal:         ticks,
		TicksInFlight:      c.ticksInFlight,
		TickDurTotalMS:     c.tickDurTotalMS,
		FragmentsTotal:     c.fragmentsTotal,
		FragmentBytesTotal: c.fragmentBytesTotal,
		FragmentWriteMS:    c.fragmentWriteMS,
		WatchersActive:     c.watchersActive,
		WatchersTotal:      c.watchersTotal,
	}
}
