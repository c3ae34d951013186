package transport

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/locator"
)

// Transport sends a message to every locator it supports in to. Locators it
// does not support are skipped. The context deadline bounds the send.
type Transport interface {
	Send(ctx context.Context, msg []byte, to []locator.Locator) error
	Close() error
}

// Handler consumes a received message. The slice is owned by the handler.
type Handler func(msg []byte)

// Multi routes locators to transports by kind.
type Multi struct {
	mu     sync.RWMutex
	routes map[locator.Kind]Transport
}

// NewMulti returns an empty router.
func NewMulti() *Multi {
	return &Multi{routes: make(map[locator.Kind]Transport)}
}

// Route registers t for the given locator kinds.
func (m *Multi) Route(t Transport, kinds ...locator.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range kinds {
		m.routes[k] = t
	}
}

// Send groups locators per transport and sends to each group.
func (m *Multi) Send(ctx context.Context, msg []byte, to []locator.Locator) error {
	m.mu.RLock()
	groups := make(map[Transport][]locator.Locator)
	var order []Transport
	for _, l := range to {
		t, ok := m.routes[l.Kind]
		if !ok {
			continue
		}
		if _, seen := groups[t]; !seen {
			order = append(order, t)
		}
		groups[t] = append(groups[t], l)
	}
	m.mu.RUnlock()
	var err error
	for _, t := range order {
		if e := t.Send(ctx, msg, groups[t]); e != nil {
			err = errors.CombineErrors(err, e)
		}
	}
	return err
}

// Close closes every routed transport once.
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[Transport]bool)
	var err error
	for _, t := range m.routes {
		if seen[t] {
			continue
		}
		seen[t] = true
		err = errors.CombineErrors(err, t.Close())
	}
	return err
}
