package metrics

import (
	"sync"
	"time"
)

// successThreshold is the first HTTP status counted as a failure.
const successThreshold = 400

// Snapshot is a point-in-time copy of the request counters.
type Snapshot struct {
	Total           int64         `json:"total_requests"`
	Successful      int64         `json:"successful_requests"`
	Failed          int64         `json:"failed_requests"`
	AvgResponseTime time.Duration `json:"average_response_time"`
	BandwidthBytes  int64         `json:"bandwidth_used"`
}

// SuccessRate returns the percentage of successful requests. It is 0 when no
// request was recorded.
func (s Snapshot) SuccessRate() float64 {
	total := s.Total
	if total < 1 {
		total = 1
	}
	return float64(s.Successful) / float64(total) * 100
}

// Collector accumulates request metrics. The zero value is ready to use.
type Collector struct {
	mu   sync.Mutex
	snap Snapshot
}

// New returns an empty collector.
func New() *Collector {
	return &Collector{}
}

// Record accounts one completed HTTP request.
func (c *Collector) Record(statusCode int, elapsed time.Duration, bytesReceived int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observe(elapsed)
	if statusCode > 0 && statusCode < successThreshold {
		c.snap.Successful++
	} else {
		c.snap.Failed++
	}
	if bytesReceived > 0 {
		c.snap.BandwidthBytes += bytesReceived
	}
}

// RecordFailure accounts a request that never produced a response.
func (c *Collector) RecordFailure(elapsed time.Duration) {
	c.Record(0, elapsed, 0)
}

// observe updates the running mean. Callers hold c.mu.
func (c *Collector) observe(elapsed time.Duration) {
	c.snap.Total++
	n := c.snap.Total
	c.snap.AvgResponseTime = (c.snap.AvgResponseTime*time.Duration(n-1) + elapsed) / time.Duration(n)
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Reset clears all counters.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.snap = Snapshot{}
	c.mu.Unlock()
}
