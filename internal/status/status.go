// Package status implements the in-memory request-statistics collector
// spec §4.6 describes: counters for total/active requests, per-model/
// provider/account usage, a rolling 60s requests-per-minute window, and
// average latency.
//
// Grounded on the teacher's internal/infrastructure/llm.Router's
// providerStats map (mutex-guarded per-key counters updated from the same
// call sites that perform the work), generalized from per-provider-only
// counters to the three usage dimensions spec §4.6 names plus the
// rolling timestamp window.
package status

import (
	"sync"
	"time"
)

// Statistics is the snapshot getStatistics() returns (spec §4.6).
type Statistics struct {
	TotalRequests     int64
	ActiveConnections int64
	RequestsPerMinute int
	AvgLatency        time.Duration
	ByModel           map[string]int64
	ByProvider        map[string]int64
	ByAccount         map[string]int64
}

// Collector is the status collector. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	totalRequests     int64
	activeConnections int64
	latencySum        time.Duration

	byModel    map[string]int64
	byProvider map[string]int64
	byAccount  map[string]int64

	timestamps []time.Time
}

// New builds an empty Collector.
func New() *Collector {
	c := &Collector{}
	c.resetLocked()
	return c
}

// RecordRequestStart increments totalRequests/activeConnections and the
// per-dimension usage maps, and appends now to the rolling timestamp list
// (spec §4.6). providerID/accountID may be empty when not yet known.
func (c *Collector) RecordRequestStart(model, providerID, accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	c.activeConnections++
	if model != "" {
		c.byModel[model]++
	}
	if providerID != "" {
		c.byProvider[providerID]++
	}
	if accountID != "" {
		c.byAccount[accountID]++
	}
	c.timestamps = append(c.timestamps, time.Now())
}

// RecordRequestSuccess decrements activeConnections (floor 0) and adds
// latency to the running sum GetStatistics divides by totalRequests
// (spec §4.6).
func (c *Collector) RecordRequestSuccess(latency time.Duration) {
	c.recordRequestEnd(latency)
}

// RecordRequestFailure has identical bookkeeping to RecordRequestSuccess —
// spec §4.6 only distinguishes them by name, not by discipline.
func (c *Collector) RecordRequestFailure(latency time.Duration) {
	c.recordRequestEnd(latency)
}

func (c *Collector) recordRequestEnd(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeConnections--
	if c.activeConnections < 0 {
		c.activeConnections = 0
	}
	c.latencySum += latency
}

// GetStatistics returns the current snapshot, lazily pruning timestamps
// older than 60s to compute RequestsPerMinute (spec §4.6, invariant I8).
func (c *Collector) GetStatistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-60 * time.Second)
	pruned := c.timestamps[:0]
	for _, ts := range c.timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	c.timestamps = pruned

	// Per spec §4.6, the denominator is totalRequests (every started
	// request), not the count of completed ones.
	var avg time.Duration
	if c.totalRequests > 0 {
		avg = c.latencySum / time.Duration(c.totalRequests)
	}

	return Statistics{
		TotalRequests:     c.totalRequests,
		ActiveConnections: c.activeConnections,
		RequestsPerMinute: len(c.timestamps),
		AvgLatency:        avg,
		ByModel:           copyMap(c.byModel),
		ByProvider:        copyMap(c.byProvider),
		ByAccount:         copyMap(c.byAccount),
	}
}

// ResetStatistics restores the zero state (spec §4.6).
func (c *Collector) ResetStatistics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Collector) resetLocked() {
	c.totalRequests = 0
	c.activeConnections = 0
	c.latencySum = 0
	c.byModel = make(map[string]int64)
	c.byProvider = make(map[string]int64)
	c.byAccount = make(map[string]int64)
	c.timestamps = nil
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
