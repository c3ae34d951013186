package flowcontrol

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throughput is a token bucket of bytes. Tokens are only consumed for items
// actually sent, so items admitted here but cut by a later controller cost
// nothing.
type Throughput struct {
	limiter  *rate.Limiter
	burst    int
	period   time.Duration
	disabled atomic.Bool
}

// NewThroughput admits bytesPerPeriod bytes every period, with a burst of one
// period's worth.
func NewThroughput(bytesPerPeriod int, period time.Duration) *Throughput {
	if bytesPerPeriod < 1 {
		bytesPerPeriod = 1
	}
	if period <= 0 {
		period = time.Second
	}
	limit := rate.Limit(float64(bytesPerPeriod) / period.Seconds())
	return &Throughput{
		limiter: rate.NewLimiter(limit, bytesPerPeriod),
		burst:   bytesPerPeriod,
		period:  period,
	}
}

func (c *Throughput) Name() string {
	return fmt.Sprintf("throughput(%dB/%s)", c.burst, c.period)
}

// Apply admits the longest prefix that fits in the available tokens. It stops
// at the first item that does not fit so order is preserved.
func (c *Throughput) Apply(items []Item) []Item {
	if c.disabled.Load() {
		return items[:0]
	}
	budget := c.limiter.TokensAt(time.Now())
	for i, it := range items {
		need := float64(c.cost(it))
		if need > budget {
			return items[:i]
		}
		budget -= need
	}
	return items
}

func (c *Throughput) NotifySent(it Item) {
	c.limiter.ReserveN(time.Now(), c.cost(it))
}

func (c *Throughput) NextAvailable(now time.Time) time.Time {
	if c.limiter.TokensAt(now) >= 1 {
		return now
	}
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return now.Add(c.period)
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return now.Add(d)
}

func (c *Throughput) Disable() { c.disabled.Store(true) }

// cost clamps item size to the burst so one large item can always pass once
// the bucket is full.
func (c *Throughput) cost(it Item) int {
	n := int(it.Size)
	if n < 1 {
		n = 1
	}
	if n > c.burst {
		n = c.burst
	}
	return n
}
