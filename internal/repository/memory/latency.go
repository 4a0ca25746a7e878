package memory

import (
	"context"
	"math/rand"
	"time"

	"github.com/juju/clock"
)

// LatencyRange bounds a simulated delay. Max below Min is treated as Min.
type LatencyRange struct {
	Min time.Duration
	Max time.Duration
}

// Latency holds the delay range for each operation class.
type Latency struct {
	Create LatencyRange
	Update LatencyRange
	Read   LatencyRange
}

// DefaultLatency mimics a remote database: slow inserts, medium updates,
// quick reads and deletes.
func DefaultLatency() Latency {
	return Latency{
		Create: LatencyRange{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
		Update: LatencyRange{Min: 200 * time.Millisecond, Max: 700 * time.Millisecond},
		Read:   LatencyRange{Min: 100 * time.Millisecond, Max: 400 * time.Millisecond},
	}
}

// NoLatency disables every delay.
func NoLatency() Latency {
	return Latency{}
}

func (r LatencyRange) sample() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int63n(int64(r.Max-r.Min)+1))
}

// pause waits for a sampled delay on clk, giving up early only if ctx ends.
func pause(ctx context.Context, clk clock.Clock, r LatencyRange) error {
	d := r.sample()
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
