package stats

import (
	"sync/atomic"
	"time"
)

// Counters holds the success/failure totals and the collection start time.
// The zero value is not ready; use NewCounters.
type Counters struct {
	success atomic.Uint64
	failure atomic.Uint64
	start   atomic.Int64 // unix nanos
}

// CounterSnapshot is a point-in-time copy of Counters. The two counts may
// come from slightly different instants.
type CounterSnapshot struct {
	SuccessCount        uint64
	FailureCount        uint64
	CollectionStartDate time.Time
}

func NewCounters(now time.Time) *Counters {
	c := &Counters{}
	c.start.Store(now.UnixNano())
	return c
}

func (c *Counters) IncSuccess() { c.success.Add(1) }
func (c *Counters) IncFailure() { c.failure.Add(1) }

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		SuccessCount:        c.success.Load(),
		FailureCount:        c.failure.Load(),
		CollectionStartDate: time.Unix(0, c.start.Load()),
	}
}

// Reset zeroes both counters and moves the start time to now. The start time
// never moves backwards, even if the wall clock does. Increments racing with
// Reset may land on either side of it.
func (c *Counters) Reset(now time.Time) {
	c.success.Store(0)
	c.failure.Store(0)
	n := now.UnixNano()
	for {
		prev := c.start.Load()
		if n <= prev {
			return
		}
		if c.start.CompareAndSwap(prev, n) {
			return
		}
	}
}
