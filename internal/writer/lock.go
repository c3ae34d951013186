package writer

import (
	"context"
	"time"
)

// timedMutex is a non-reentrant mutex whose acquisition can be bounded.
type timedMutex struct {
	ch chan struct{}
}

func newTimedMutex() *timedMutex { return &timedMutex{ch: make(chan struct{}, 1)} }

func (m *timedMutex) Lock() { m.ch <- struct{}{} }

// LockUntil reports false when the deadline passed before the lock was
// acquired. A zero deadline waits indefinitely.
func (m *timedMutex) LockUntil(deadline time.Time) bool {
	if deadline.IsZero() {
		m.Lock()
		return true
	}
	select {
	case m.ch <- struct{}{}:
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
	case m.ch <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

// LockContext waits until the lock is acquired or ctx is done.
func (m *timedMutex) LockContext(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *timedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("writer: unlock of unlocked mutex")
	}
}
