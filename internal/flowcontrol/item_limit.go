package flowcontrol

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ItemLimit admits at most a fixed number of items per round.
type ItemLimit struct {
	max      int
	disabled atomic.Bool
}

// NewItemLimit returns a controller admitting max items per round.
func NewItemLimit(max int) *ItemLimit {
	if max < 1 {
		max = 1
	}
	return &ItemLimit{max: max}
}

func (c *ItemLimit) Name() string { return fmt.Sprintf("item-limit(%d)", c.max) }

func (c *ItemLimit) Apply(items []Item) []Item {
	if c.disabled.Load() {
		return items[:0]
	}
	if len(items) > c.max {
		return items[:c.max]
	}
	return items
}

func (c *ItemLimit) NotifySent(Item) {}

func (c *ItemLimit) NextAvailable(now time.Time) time.Time { return now }

func (c *ItemLimit) Disable() { c.disabled.Store(true) }
