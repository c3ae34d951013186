package asyncsender

import (
	"time"

	"github.com/rzbill/rtps/pkg/guid"
)

type shard struct {
	// lock is a one-slot semaphore so acquisition can honour a deadline.
	lock   chan struct{}
	signal chan struct{}

	pending []Drainer
	queued  map[guid.GUID]struct{}
	timers  map[guid.GUID]*time.Timer
	timerAt map[guid.GUID]time.Time

	running guid.GUID
	// closed and replaced after every drain
	drained chan struct{}
}

func newShard() *shard {
	return &shard{
		lock:    make(chan struct{}, 1),
		signal:  make(chan struct{}, 1),
		queued:  make(map[guid.GUID]struct{}),
		timers:  make(map[guid.GUID]*time.Timer),
		timerAt: make(map[guid.GUID]time.Time),
		drained: make(chan struct{}),
	}
}

func (sh *shard) acquire(deadline time.Time) bool {
	if deadline.IsZero() {
		sh.lock <- struct{}{}
		return true
	}
	select {
	case sh.lock <- struct{}{}:
		return true
	default:
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		return false
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case sh.lock <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (sh *shard) release() { <-sh.lock }

func (sh *shard) notify() {
	select {
	case sh.signal <- struct{}{}:
	default:
	}
}

// enqueue reports false when d was already pending.
func (sh *shard) enqueue(d Drainer) bool {
	id := d.ID()
	if _, ok := sh.queued[id]; ok {
		return false
	}
	sh.queued[id] = struct{}{}
	sh.pending = append(sh.pending, d)
	return true
}

func (sh *shard) remove(id guid.GUID) {
	if _, ok := sh.queued[id]; !ok {
		return
	}
	delete(sh.queued, id)
	for i, d := range sh.pending {
		if d.ID() == id {
			sh.pending = append(sh.pending[:i], sh.pending[i+1:]...)
			return
		}
	}
}

func (sh *shard) next() Drainer {
	if len(sh.pending) == 0 {
		return nil
	}
	d := sh.pending[0]
	sh.pending[0] = nil
	sh.pending = sh.pending[1:]
	delete(sh.queued, d.ID())
	sh.running = d.ID()
	return d
}

func (sh *shard) finish() {
	sh.running = guid.Unknown
	close(sh.drained)
	sh.drained = make(chan struct{})
}
