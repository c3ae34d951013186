package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/locator"
)

// Loopback delivers messages to handlers registered in this process.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[locator.Locator][]Handler
	closed   bool

	messages atomic.Uint64
	bytes    atomic.Uint64
	dropped  atomic.Uint64
}

// NewLoopback returns a loopback transport with no listeners.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[locator.Locator][]Handler)}
}

// Listen registers h for messages sent to l.
func (t *Loopback) Listen(l locator.Locator, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[l] = append(t.handlers[l], h)
}

// Send copies msg to the handlers of each locator. Locators without a
// listener count as dropped, like datagrams nobody reads.
func (t *Loopback) Send(ctx context.Context, msg []byte, to []locator.Locator) error {
	if err := ctx.Err(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errs.Deadline("loopback: %v", err)
		}
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return errs.ErrClosed
	}
	for _, l := range to {
		hs := t.handlers[l]
		if len(hs) == 0 {
			t.dropped.Add(1)
			continue
		}
		for _, h := range hs {
			h(append([]byte(nil), msg...))
		}
		t.messages.Add(1)
		t.bytes.Add(uint64(len(msg)))
	}
	return nil
}

// Counters returns delivered messages, delivered bytes and dropped sends.
func (t *Loopback) Counters() (messages, bytes, dropped uint64) {
	return t.messages.Load(), t.bytes.Load(), t.dropped.Load()
}

func (t *Loopback) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handlers = make(map[locator.Locator][]Handler)
	return nil
}
