package asyncsender

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rzbill/rtps/pkg/guid"
	"github.com/rzbill/rtps/pkg/log"
)

// Drainer is a writer with pending asynchronous work.
type Drainer interface {
	ID() guid.GUID
	Drain()
}

// Options configure a Sender.
type Options struct {
	// Workers is the number of shards; defaults to 1.
	Workers int
	Logger  log.Logger
}

// Stats are cumulative counters.
type Stats struct {
	Wakes     uint64 `json:"wakes"`
	Coalesced uint64 `json:"coalesced"`
	Timeouts  uint64 `json:"timeouts"`
	Drains    uint64 `json:"drains"`
	Scheduled uint64 `json:"scheduled"`
}

// Sender is the shared asynchronous sender.
type Sender struct {
	shards []*shard
	logger log.Logger

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool

	wakes, coalesced, timeouts, drains, scheduled atomic.Uint64
}

// New creates a Sender. Call Start to run its workers.
func New(opts Options) *Sender {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	s := &Sender{logger: opts.Logger.WithComponent("asyncsender")}
	s.shards = make([]*shard, opts.Workers)
	for i := range s.shards {
		s.shards[i] = newShard()
	}
	return s
}

// Start launches one worker per shard. Wakes posted before Start are kept
// and drained once it runs.
func (s *Sender) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		for i, sh := range s.shards {
			s.wg.Add(1)
			go s.run(ctx, i, sh)
		}
		s.logger.Info("async sender started", log.Int("workers", len(s.shards)))
	})
}

// Close stops the workers after their current drain and cancels scheduled
// wakes. Pending wakes are dropped.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		for _, sh := range s.shards {
			sh.acquire(time.Time{})
			for id, t := range sh.timers {
				t.Stop()
				delete(sh.timers, id)
			}
			sh.pending = nil
			sh.queued = make(map[guid.GUID]struct{})
			sh.release()
		}
	})
	return nil
}

// Workers returns the number of shards.
func (s *Sender) Workers() int { return len(s.shards) }

func (s *Sender) shardFor(id guid.GUID) *shard {
	if len(s.shards) == 1 {
		return s.shards[0]
	}
	return s.shards[xxhash.Sum64(id.Bytes())%uint64(len(s.shards))]
}

// Wake marks d as having pending work. The deadline bounds the time spent
// acquiring the shard; a zero deadline waits indefinitely. It returns false
// when the deadline passed first or the sender is closed.
func (s *Sender) Wake(d Drainer, deadline time.Time) bool {
	if s.closed.Load() {
		return false
	}
	s.wakes.Add(1)
	sh := s.shardFor(d.ID())
	if !sh.acquire(deadline) {
		s.timeouts.Add(1)
		return false
	}
	if !sh.enqueue(d) {
		s.coalesced.Add(1)
	}
	sh.release()
	sh.notify()
	return true
}

// WakeAt schedules a wake at t. An earlier pending schedule for the same
// writer is kept; a later one is replaced.
func (s *Sender) WakeAt(d Drainer, at time.Time) {
	delay := time.Until(at)
	if delay <= 0 {
		s.Wake(d, time.Time{})
		return
	}
	if s.closed.Load() {
		return
	}
	id := d.ID()
	sh := s.shardFor(id)
	sh.acquire(time.Time{})
	defer sh.release()
	if t, ok := sh.timers[id]; ok {
		if !sh.timerAt[id].After(at) {
			return
		}
		t.Stop()
	}
	s.scheduled.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		sh.acquire(time.Time{})
		if sh.timers[id] == t {
			delete(sh.timers, id)
			delete(sh.timerAt, id)
		}
		sh.release()
		s.Wake(d, time.Time{})
	})
	sh.timers[id] = t
	sh.timerAt[id] = at
}

// Unregister removes pending and scheduled wakes for d and waits until no
// drain of d is in flight. The caller must stop d from waking itself first.
func (s *Sender) Unregister(d Drainer) {
	id := d.ID()
	sh := s.shardFor(id)
	for {
		sh.acquire(time.Time{})
		sh.remove(id)
		if t, ok := sh.timers[id]; ok {
			t.Stop()
			delete(sh.timers, id)
			delete(sh.timerAt, id)
		}
		if sh.running != id {
			sh.release()
			return
		}
		done := sh.drained
		sh.release()
		<-done
	}
}

// Pending reports whether d is waiting to be drained.
func (s *Sender) Pending(d Drainer) bool {
	sh := s.shardFor(d.ID())
	sh.acquire(time.Time{})
	defer sh.release()
	_, ok := sh.queued[d.ID()]
	return ok
}

// Stats returns a snapshot of the counters.
func (s *Sender) Stats() Stats {
	return Stats{
		Wakes:     s.wakes.Load(),
		Coalesced: s.coalesced.Load(),
		Timeouts:  s.timeouts.Load(),
		Drains:    s.drains.Load(),
		Scheduled: s.scheduled.Load(),
	}
}

func (s *Sender) run(ctx context.Context, idx int, sh *shard) {
	defer s.wg.Done()
	logger := s.logger.With(log.Int("shard", idx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-sh.signal:
		}
		for ctx.Err() == nil {
			sh.acquire(time.Time{})
			d := sh.next()
			sh.release()
			if d == nil {
				break
			}
			s.drain(logger, d)
			sh.acquire(time.Time{})
			sh.finish()
			sh.release()
		}
	}
}

func (s *Sender) drain(logger log.Logger, d Drainer) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("drain panicked", log.Stringer(log.WriterKey, d.ID()), log.Any("panic", r))
		}
	}()
	s.drains.Add(1)
	d.Drain()
}
