package flowcontrol

import (
	"time"

	"github.com/rzbill/rtps/internal/cache"
)

// Item is one unit of pending work: a whole change (Fragment == 0) or one
// fragment of it.
type Item struct {
	Change   *cache.Change
	Fragment uint32
	Size     uint32
}

// Controller admits a subset of candidate items.
type Controller interface {
	// Name identifies the controller in logs and stats.
	Name() string
	// Apply returns the items admitted this round, in send order.
	Apply(items []Item) []Item
	// NotifySent is called for every admitted item the transport accepted.
	NotifySent(it Item)
	// NextAvailable reports when the controller may admit again.
	NextAvailable(now time.Time) time.Time
	// Disable makes the controller admit nothing from now on.
	Disable()
}

// Chain applies controllers in order. limited reports whether any of them
// admitted fewer items than offered.
func Chain(items []Item, controllers ...[]Controller) (out []Item, limited bool) {
	out = items
	for _, group := range controllers {
		for _, c := range group {
			n := len(out)
			out = c.Apply(out)
			if len(out) < n {
				limited = true
			}
			if len(out) == 0 {
				return out, limited
			}
		}
	}
	return out, limited
}

// EarliestAvailable returns the soonest time any of the controllers can admit
// again, or now when none is throttled.
func EarliestAvailable(now time.Time, controllers ...[]Controller) time.Time {
	var earliest time.Time
	for _, group := range controllers {
		for _, c := range group {
			t := c.NextAvailable(now)
			if t.After(now) && (earliest.IsZero() || t.Before(earliest)) {
				earliest = t
			}
		}
	}
	if earliest.IsZero() {
		return now
	}
	return earliest
}
