package session

import (
	"context"
	"runtime"
	"sync"

	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/outbox"
)

// result is what lands in an evaluation's completion slot.
type result struct {
	value    any
	bindings lang.Bindings
	err      error
	detached bool
}

// Evaluation is one in-flight form execution. Its completion slot is
// single-assignment: natural completion, interruption and backgrounding
// all race to deliver, and exactly one of them wins.
type Evaluation struct {
	// ID is the evaluation's correlation id, monotonically increasing
	// within its session. Ids start at 1.
	ID uint64

	cancel context.CancelFunc
	out    *outbox.Channel
	errOut *outbox.Channel

	once sync.Once
	done chan struct{}
	res  result
}

func newEvaluation(id uint64, cancel context.CancelFunc, out, errOut *outbox.Channel) *Evaluation {
	return &Evaluation{
		ID:     id,
		cancel: cancel,
		out:    out,
		errOut: errOut,
		done:   make(chan struct{}),
	}
}

// deliver resolves the completion slot. It reports whether this call was
// the one that won. Losers may read the winning result afterwards
// (sync.Once guarantees the winner's write is visible once Do returns);
// the evaluation goroutine relies on this to learn whether the slot was
// taken by a detach or by an interrupt.
func (e *Evaluation) deliver(r result) bool {
	won := false
	e.once.Do(func() {
		e.res = r
		won = true
		close(e.done)
	})
	return won
}

// wait blocks until the slot is resolved and returns the result.
func (e *Evaluation) wait() result {
	<-e.done
	return e.res
}

// Cancel signals the executing goroutine to stop. Termination is
// cooperative: the evaluator checks its context between steps.
func (e *Evaluation) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}

// InterruptedError is the synthesized failure delivered into the
// completion slot when an evaluation is interrupted. It carries a stack
// snapshot taken at interruption time for diagnostics.
type InterruptedError struct {
	Stack string
}

func (e *InterruptedError) Error() string { return "evaluation interrupted" }

func captureStack() string {
	buf := make([]byte, 64<<10)
	n := runtime.Stack(buf, true)
	return string(buf[:n])
}
