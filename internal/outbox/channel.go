// Package outbox implements the coalescing output layer. A Channel wraps
// a sink with a tag and correlation id, folding writes into a buffer that
// becomes exactly one tagged message per flush; the Scheduler flushes
// every live channel on a fixed period so buffered text reaches the
// client within a bounded latency budget.
package outbox

import (
	"strings"
	"sync"

	"github.com/aki/remux/internal/wire"
)

// Channel is a buffering writer for one destination tag and correlation
// pair. It implements io.Writer so evaluations print straight into it.
type Channel struct {
	mu    sync.Mutex
	sink  wire.Sink
	tag   wire.Tag
	eval  uint64
	group string
	buf   strings.Builder
}

// NewChannel creates a channel emitting tag messages on sink. evalID
// correlates output with an evaluation (zero for none); group is the
// secondary id carried by administrative output (empty for none).
func NewChannel(sink wire.Sink, tag wire.Tag, evalID uint64, group string) *Channel {
	return &Channel{
		sink:  sink,
		tag:   tag,
		eval:  evalID,
		group: group,
	}
}

// Write folds p into the in-progress buffer.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// WriteString folds s into the in-progress buffer.
func (c *Channel) WriteString(s string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.WriteString(s)
}

// Flush emits one tagged message carrying the buffered text and clears
// the buffer. Flushing an empty buffer is a no-op. The buffer lock is
// held through the send so concurrent flushes cannot reorder text.
func (c *Channel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		return nil
	}
	text := c.buf.String()
	c.buf.Reset()

	var m wire.Message
	if c.tag == wire.TagErr {
		m = wire.NewErr(c.eval, c.group, text)
	} else {
		m = wire.NewOut(c.eval, c.group, text)
	}
	return c.sink.Send(m)
}

// Close is a no-op: channel lifetime is managed by whoever created it,
// never by the stream contract.
func (c *Channel) Close() error {
	return nil
}
