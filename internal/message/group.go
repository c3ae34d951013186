package message

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/pkg/guid"
)

// Destination receives complete messages.
type Destination interface {
	Send(ctx context.Context, msg []byte) error
}

// DestinationFunc adapts a function to Destination.
type DestinationFunc func(ctx context.Context, msg []byte) error

func (f DestinationFunc) Send(ctx context.Context, msg []byte) error { return f(ctx, msg) }

// Group builds messages for one destination under one deadline. It is not
// safe for concurrent use.
type Group struct {
	prefix   guid.Prefix
	dest     Destination
	maxSize  int
	deadline time.Time
	reader   guid.EntityID

	buf    []byte
	lastTS time.Time

	messages int
	bytes    int
}

// NewGroup returns a group that flushes at maxSize bytes. A zero deadline
// never expires.
func NewGroup(prefix guid.Prefix, dest Destination, maxSize int, deadline time.Time) *Group {
	if maxSize <= HeaderSize {
		maxSize = DefaultMaxMessageSize
	}
	g := &Group{prefix: prefix, dest: dest, maxSize: maxSize, deadline: deadline}
	g.reset()
	return g
}

// SetReader addresses subsequent submessages to one reader entity. The
// default is the unknown entity, meaning every reader at the destination.
func (g *Group) SetReader(id guid.EntityID) { g.reader = id }

// SetDestination flushes pending data to the current destination and
// switches to dest.
func (g *Group) SetDestination(ctx context.Context, dest Destination) error {
	if err := g.Flush(ctx); err != nil {
		return err
	}
	g.dest = dest
	return nil
}

// Deadline returns the group's deadline.
func (g *Group) Deadline() time.Time { return g.deadline }

// AddData appends a DATA submessage for c.
func (g *Group) AddData(ctx context.Context, c *cache.Change, expectsInlineQos bool) error {
	iq := wantsInlineQos(c, expectsInlineQos)
	return g.add(ctx, c, dataSize(c, iq), func(b []byte) []byte {
		return appendData(b, g.reader, c, iq)
	})
}

// AddDataFrag appends a DATA_FRAG submessage for fragment n (1-based) of c.
func (g *Group) AddDataFrag(ctx context.Context, c *cache.Change, n uint32, expectsInlineQos bool) error {
	if n == 0 || n > c.FragmentCount() {
		return errs.Precondition("message: fragment %d of %d", n, c.FragmentCount())
	}
	iq := wantsInlineQos(c, expectsInlineQos)
	return g.add(ctx, c, dataFragSize(c, n, iq), func(b []byte) []byte {
		return appendDataFrag(b, g.reader, c, n, iq)
	})
}

func (g *Group) add(ctx context.Context, c *cache.Change, size int, write func([]byte) []byte) error {
	if err := g.checkDeadline(); err != nil {
		return err
	}
	if size-SubmessageHeaderSize > maxSubmessageBody || HeaderSize+infoTSSize()+size > g.maxSize {
		return errs.Precondition("message: change %d needs a %d byte submessage, limit %d", c.SequenceNumber, size, g.maxSize)
	}
	ts := !c.SourceTimestamp.IsZero() && !c.SourceTimestamp.Equal(g.lastTS)
	if ts {
		size += infoTSSize()
	}
	if len(g.buf)+size > g.maxSize && len(g.buf) > HeaderSize {
		if err := g.Flush(ctx); err != nil {
			return err
		}
		ts = !c.SourceTimestamp.IsZero()
	}
	if ts {
		g.buf = appendInfoTS(g.buf, c.SourceTimestamp)
		g.lastTS = c.SourceTimestamp
	}
	g.buf = write(g.buf)
	return nil
}

// Pending reports whether unsent submessages are buffered.
func (g *Group) Pending() bool { return len(g.buf) > HeaderSize }

// Flush sends buffered submessages. On failure the buffer is dropped; the
// caller decides whether to retry the affected changes.
func (g *Group) Flush(ctx context.Context) error {
	if !g.Pending() {
		return nil
	}
	defer g.reset()
	if err := g.checkDeadline(); err != nil {
		return err
	}
	if !g.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, g.deadline)
		defer cancel()
	}
	if err := g.dest.Send(ctx, g.buf); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.Deadline("message: send: %v", err)
		}
		return errors.Wrap(err, "message: send")
	}
	g.messages++
	g.bytes += len(g.buf)
	return nil
}

// Discard drops buffered submessages without sending them.
func (g *Group) Discard() { g.reset() }

// Sent returns the number of messages and bytes handed to destinations.
func (g *Group) Sent() (messages, bytes int) { return g.messages, g.bytes }

func (g *Group) checkDeadline() error {
	if !g.deadline.IsZero() && !time.Now().Before(g.deadline) {
		return errs.Deadline("message: deadline %s passed", g.deadline.Format(time.RFC3339Nano))
	}
	return nil
}

func (g *Group) reset() {
	if g.buf == nil {
		g.buf = make([]byte, 0, 1024)
	}
	g.buf = appendHeader(g.buf[:0], g.prefix)
	g.lastTS = time.Time{}
}
