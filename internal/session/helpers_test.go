package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aki/remux/internal/elide"
	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/outbox"
	"github.com/aki/remux/internal/sexpr"
	"github.com/aki/remux/internal/wire"
)

// recordSink captures everything a session emits.
type recordSink struct {
	mu   sync.Mutex
	msgs []wire.Message
	vals []any
}

func (r *recordSink) Send(m wire.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordSink) SendValue(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals = append(r.vals, v)
	return nil
}

func (r *recordSink) messages() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recordSink) values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.vals))
	copy(out, r.vals)
	return out
}

func (r *recordSink) byTag(tag wire.Tag) []wire.Message {
	var out []wire.Message
	for _, m := range r.messages() {
		if m.Tag == tag {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordSink) forEval(tag wire.Tag, evalID uint64) []wire.Message {
	var out []wire.Message
	for _, m := range r.byTag(tag) {
		if m.Eval == evalID {
			out = append(out, m)
		}
	}
	return out
}

func (r *recordSink) forGroup(tag wire.Tag, group string) []wire.Message {
	var out []wire.Message
	for _, m := range r.byTag(tag) {
		if m.Group == group {
			out = append(out, m)
		}
	}
	return out
}

// indexOf returns the position of the first message matching tag and
// eval id, or -1.
func (r *recordSink) indexOf(tag wire.Tag, evalID uint64) int {
	for i, m := range r.messages() {
		if m.Tag == tag && m.Eval == evalID {
			return i
		}
	}
	return -1
}

// engine bundles the wired core for tests.
type engine struct {
	store *elide.Store
	sched *outbox.Scheduler
	reg   *Registry
	ctrl  *Controller
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store, err := elide.NewStore(128, logger.Nop())
	require.NoError(t, err)
	sched := outbox.NewScheduler(10*time.Millisecond, logger.Nop())
	reg := NewRegistry(store, lang.Limits{Length: 32, Depth: 8, Text: 140}, 4, logger.Nop())
	ctrl := NewController(reg, sched, logger.Nop())
	t.Cleanup(func() {
		reg.Close()
		sched.Close()
		store.Close()
	})
	return &engine{store: store, sched: sched, reg: reg, ctrl: ctrl}
}

func parse(t *testing.T, src string) lang.Form {
	t.Helper()
	tr := lang.NewTrackingReader(strings.NewReader(src), "test")
	form, err := sexpr.NewReader(tr).ReadForm()
	require.NoError(t, err)
	return form
}

// client drives a session over an in-memory pipe, the way a connection
// would.
type client struct {
	t    *testing.T
	in   *io.PipeWriter
	sink *recordSink
	sess *Session
	done chan struct{}
}

func connect(t *testing.T, e *engine) *client {
	t.Helper()
	pr, pw := io.Pipe()
	sink := &recordSink{}
	sess := e.reg.Create()
	sess.AttachSink(sink)
	tr := lang.NewTrackingReader(pr, sess.ID)
	d := NewDriver(sess, e.reg, e.ctrl, e.sched, tr, sink, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()

	c := &client{t: t, in: pw, sink: sink, sess: sess, done: done}
	t.Cleanup(func() {
		sess.Close()
		pw.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("driver did not stop")
		}
	})
	return c
}

func (c *client) write(src string) {
	c.t.Helper()
	if _, err := io.WriteString(c.in, src); err != nil {
		c.t.Fatalf("write input: %v", err)
	}
}

func (c *client) disconnect() {
	c.t.Helper()
	require.NoError(c.t, c.in.Close())
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		c.t.Fatal("driver did not stop after disconnect")
	}
}
