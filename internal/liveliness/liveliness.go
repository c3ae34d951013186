// Package liveliness tracks writer liveliness assertions against their
// leases.
package liveliness

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/rtps/pkg/guid"
	"github.com/rzbill/rtps/pkg/log"
)

// Kind is the liveliness QoS kind.
type Kind int

const (
	Automatic Kind = iota
	ManualByParticipant
	ManualByTopic
)

func (k Kind) String() string {
	switch k {
	case ManualByParticipant:
		return "manual-by-participant"
	case ManualByTopic:
		return "manual-by-topic"
	default:
		return "automatic"
	}
}

// ParseKind accepts the names produced by String.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "", "automatic":
		return Automatic, true
	case "manual-by-participant":
		return ManualByParticipant, true
	case "manual-by-topic":
		return ManualByTopic, true
	}
	return Automatic, false
}

// Infinite is the lease of a writer that never expires.
const Infinite time.Duration = 0

type entry struct {
	kind  Kind
	lease time.Duration
	last  time.Time
	alive bool
}

// Tracker records assertions. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[guid.GUID]*entry
	now     func() time.Time
	logger  log.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(t *Tracker) { t.logger = l } }

// New returns an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{entries: make(map[guid.GUID]*entry), now: time.Now, logger: log.NewNopLogger()}
	for _, o := range opts {
		o(t)
	}
	t.logger = t.logger.WithComponent("liveliness")
	return t
}

// Assert records that writer is alive now. It never blocks on anything but
// the tracker's own mutex and always succeeds.
func (t *Tracker) Assert(writer guid.GUID, kind Kind, lease time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[writer]
	if !ok {
		e = &entry{}
		t.entries[writer] = e
	}
	if !e.alive && ok {
		t.logger.Info("liveliness recovered", log.Stringer(log.WriterKey, writer))
	}
	e.kind, e.lease, e.last, e.alive = kind, lease, t.now(), true
	return true
}

// AssertParticipant refreshes every automatic and manual-by-participant
// writer of the participant.
func (t *Tracker) AssertParticipant(prefix guid.Prefix) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for g, e := range t.entries {
		if g.Prefix == prefix && e.kind != ManualByTopic {
			e.last, e.alive = now, true
			n++
		}
	}
	return n
}

// Remove forgets a writer.
func (t *Tracker) Remove(writer guid.GUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, writer)
}

// Alive reports whether writer asserted within its lease at now.
func (t *Tracker) Alive(writer guid.GUID, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[writer]
	if !ok {
		return false
	}
	return e.lease == Infinite || now.Sub(e.last) <= e.lease
}

// LastAsserted returns the time of the last assertion.
func (t *Tracker) LastAsserted(writer guid.GUID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[writer]
	if !ok {
		return time.Time{}, false
	}
	return e.last, true
}

// Expired lists writers whose lease elapsed at now, sorted.
func (t *Tracker) Expired(now time.Time) []guid.GUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []guid.GUID
	for g, e := range t.entries {
		if e.lease != Infinite && now.Sub(e.last) > e.lease {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Run checks leases every period and calls lost once per writer each time
// it transitions from alive to expired.
func (t *Tracker) Run(ctx context.Context, period time.Duration, lost func(guid.GUID)) {
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			for _, g := range t.markLost(t.now()) {
				t.logger.Warn("liveliness lost", log.Stringer(log.WriterKey, g))
				if lost != nil {
					lost(g)
				}
			}
		}
	}
}

func (t *Tracker) markLost(now time.Time) []guid.GUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []guid.GUID
	for g, e := range t.entries {
		if e.alive && e.lease != Infinite && now.Sub(e.last) > e.lease {
			e.alive = false
			out = append(out, g)
		}
	}
	return out
}
