package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/outbox"
	"github.com/aki/remux/internal/wire"
)

// Controller executes forms for sessions, one at a time per session,
// each on its own goroutine so in-flight work stays interruptible and
// backgroundable from out-of-band callers.
type Controller struct {
	registry *Registry
	sched    *outbox.Scheduler
	log      logger.Logger
}

// NewController creates a controller over the given registry.
func NewController(registry *Registry, sched *outbox.Scheduler, log logger.Logger) *Controller {
	return &Controller{registry: registry, sched: sched, log: log}
}

// Submit evaluates form under the session's current binding snapshot and
// blocks until the completion slot resolves. On natural completion it
// merges binding changes back into the session and returns the value or
// the evaluation's own error, leaving rendering to the caller; on
// interruption the error is the synthesized InterruptedError; on
// backgrounding it returns ErrDetached immediately and the detached
// goroutine reports the result itself. The returned Evaluation is the
// handle the caller passes to Report; it is nil only when the submission
// itself was refused.
//
// id is the evaluation's correlation id, allocated by the caller before
// the read message was emitted.
func (c *Controller) Submit(ctx context.Context, s *Session, id uint64, form lang.Form) (*Evaluation, any, error) {
	snapshot := s.Snapshot()

	out := outbox.NewChannel(s, wire.TagOut, id, "")
	errOut := outbox.NewChannel(s, wire.TagErr, id, "")
	c.sched.Register(out)
	c.sched.Register(errOut)

	// The evaluation's lifetime is independent of the submitting
	// connection: a dropped client must not kill backgrounded work.
	evalCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ev := newEvaluation(id, cancel, out, errOut)
	if err := s.setCurrent(ev); err != nil {
		cancel()
		return nil, nil, err
	}

	bound := snapshot.Clone()
	bound[lang.BindingOut] = out
	bound[lang.BindingErr] = errOut

	go c.run(evalCtx, s, ev, form, bound)

	res := ev.wait()
	s.clearCurrent(ev)

	if res.detached {
		return ev, nil, ErrDetached
	}
	s.absorb(snapshot, res.bindings)
	if res.err != nil {
		return ev, nil, res.err
	}
	return ev, res.value, nil
}

// run is the evaluation goroutine.
func (c *Controller) run(ctx context.Context, s *Session, ev *Evaluation, form lang.Form, bindings lang.Bindings) {
	defer ev.Cancel()

	actions := wire.Actions{
		"interrupt":  fmt.Sprintf("(do-raw (interrupt %q %d))", s.ID, ev.ID),
		"background": fmt.Sprintf("(do-raw (background %q %d))", s.ID, ev.ID),
	}
	if err := s.Send(wire.NewStartedEval(ev.ID, actions)); err != nil {
		c.log.Debug("started-eval send failed", "session", s.ID, "eval", ev.ID, "error", err)
	}
	s.Forward(ev.ID, "info", "evaluation started", nil)

	value, completed, err := s.Evaluator().Evaluate(ctx, form, bindings)

	if ev.deliver(result{value: value, bindings: completed, err: err}) {
		return
	}
	// The slot was taken while we ran. A detach means this goroutine now
	// owns reporting; an interrupt means the result is discarded.
	if ev.res.detached {
		c.Report(s, ev, value, err)
		s.Forward(ev.ID, "info", "detached evaluation finished", nil)
	}
}

// Interrupt delivers an interruption into the session's active
// evaluation. It reports true only if evalID still names that evaluation
// and the completion slot was not already resolved.
func (c *Controller) Interrupt(sessionID string, evalID uint64) (bool, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return false, err
	}
	ev := s.Current()
	if ev == nil || ev.ID != evalID {
		return false, nil
	}
	if !ev.deliver(result{err: &InterruptedError{Stack: captureStack()}}) {
		return false, nil
	}
	ev.Cancel()
	s.Forward(evalID, "warn", "evaluation interrupted", nil)
	c.log.Info("evaluation interrupted", "session", s.ID, "eval", evalID)
	return true, nil
}

// Background detaches the session's active evaluation: the blocked
// Submit returns immediately with ErrDetached while the work keeps
// running, and the detached goroutine emits the terminal message for
// this id when it finishes. Reports true only if evalID names the active
// evaluation and the slot was still open.
func (c *Controller) Background(sessionID string, evalID uint64) (bool, error) {
	s, err := c.registry.Get(sessionID)
	if err != nil {
		return false, err
	}
	ev := s.Current()
	if ev == nil || ev.ID != evalID {
		return false, nil
	}
	if !ev.deliver(result{detached: true}) {
		return false, nil
	}
	s.Forward(evalID, "info", "evaluation detached", nil)
	c.log.Info("evaluation detached", "session", s.ID, "eval", evalID)
	return true, nil
}

// Report flushes the evaluation's buffered out/err channels and emits
// its terminal message: eval with the rendered value, or a phase-tagged
// exception. Flushing first keeps per-id program order on the wire.
func (c *Controller) Report(s *Session, ev *Evaluation, value any, err error) {
	c.flushOuts(s, ev)

	var msg wire.Message
	switch {
	case err != nil:
		msg = wire.NewException(ev.ID, exceptionPayload(err))
	default:
		literal, perr := s.Printer().Render(value, s.Limits())
		if perr != nil {
			msg = wire.NewException(ev.ID, wire.ExceptionPayload{
				Phase:   wire.PhasePrint,
				Type:    "print",
				Message: perr.Error(),
			})
		} else {
			msg = wire.NewEval(ev.ID, literal)
		}
	}
	if serr := s.Send(msg); serr != nil {
		c.log.Debug("result send failed", "session", s.ID, "eval", ev.ID, "error", serr)
	}
}

func (c *Controller) flushOuts(s *Session, ev *Evaluation) {
	if err := ev.out.Flush(); err != nil {
		c.log.Debug("out flush failed", "session", s.ID, "eval", ev.ID, "error", err)
	}
	if err := ev.errOut.Flush(); err != nil {
		c.log.Debug("err flush failed", "session", s.ID, "eval", ev.ID, "error", err)
	}
}

// exceptionPayload classifies an evaluation failure for the wire.
func exceptionPayload(err error) wire.ExceptionPayload {
	p := wire.ExceptionPayload{
		Phase:   wire.PhaseEval,
		Type:    "error",
		Message: err.Error(),
	}
	var interrupted *InterruptedError
	if errors.As(err, &interrupted) {
		p.Type = "interrupted"
		p.Interrupted = true
		p.Stack = interrupted.Stack
	}
	return p
}
