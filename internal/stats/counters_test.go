package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCounters(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCounters(start)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.IncSuccess()
				if j%4 == 0 {
					c.IncFailure()
				}
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.SuccessCount != 8000 || s.FailureCount != 2000 {
		t.Fatalf("snapshot = %+v", s)
	}
	if !s.CollectionStartDate.Equal(start) {
		t.Fatalf("start = %v", s.CollectionStartDate)
	}

	later := start.Add(time.Minute)
	c.Reset(later)
	s = c.Snapshot()
	if s.SuccessCount != 0 || s.FailureCount != 0 || !s.CollectionStartDate.Equal(later) {
		t.Fatalf("after reset = %+v", s)
	}

	c.Reset(start)
	if got := c.Snapshot().CollectionStartDate; !got.Equal(later) {
		t.Fatalf("start moved backwards to %v", got)
	}
}
