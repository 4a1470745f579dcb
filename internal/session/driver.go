package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/outbox"
	"github.com/aki/remux/internal/sexpr"
	"github.com/aki/remux/internal/wire"
)

// Driver runs one connection's control loop: read a form, hand it to
// the controller, render the outcome, prompt again. Administrative
// do-raw forms are intercepted before the controller and evaluated
// inline on this goroutine, correlated by group id instead of an
// evaluation id.
type Driver struct {
	session  *Session
	registry *Registry
	ctrl     *Controller
	sched    *outbox.Scheduler
	tr       *lang.TrackingReader
	forms    lang.FormReader
	sink     wire.StreamSink
	log      logger.Logger
}

// NewDriver wires a driver over an established connection. sink must be
// the encoder already attached to the session; tr wraps the connection's
// input. Administrative builtins are installed into the session's
// evaluator before the first form is read.
func NewDriver(s *Session, registry *Registry, ctrl *Controller, sched *outbox.Scheduler, tr *lang.TrackingReader, sink wire.StreamSink, log logger.Logger) *Driver {
	d := &Driver{
		session:  s,
		registry: registry,
		ctrl:     ctrl,
		sched:    sched,
		tr:       tr,
		forms:    sexpr.NewReader(tr),
		sink:     sink,
		log:      log.With("session", s.ID),
	}
	d.installActions()
	return d
}

// Run drives the session until input is exhausted, the connection
// fails, or ctx is cancelled. It always emits a terminal bye.
func (d *Driver) Run(ctx context.Context) {
	reason := "disconnect"
	defer func() { d.close(reason) }()

	d.hello()
	d.log.Info("session attached")

	for {
		if ctx.Err() != nil {
			reason = "server shutdown"
			return
		}
		d.prompt()

		form, err := d.forms.ReadForm()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() != nil {
				// The server nudged us awake mid-read to wind down.
				reason = "server shutdown"
				return
			}
			var serr *sexpr.SyntaxError
			if errors.As(err, &serr) {
				// Malformed input keeps the loop alive.
				d.send(wire.NewException(0, wire.ExceptionPayload{
					Phase:   wire.PhaseRead,
					Type:    "syntax",
					Message: serr.Error(),
				}))
				continue
			}
			reason = fmt.Sprintf("input failed: %v", err)
			return
		}

		if head, ok := form.Head(); ok && head == "do-raw" {
			d.doRaw(ctx, form)
			continue
		}

		id := d.session.NextEvalID()
		d.sendRead(id, form)

		ev, value, err := d.ctrl.Submit(ctx, d.session, id, form)
		switch {
		case errors.Is(err, ErrDetached):
			// The detached goroutine reports when it finishes.
		case ev == nil:
			d.send(wire.NewException(id, exceptionPayload(err)))
		default:
			d.ctrl.Report(d.session, ev, value, err)
		}
	}
}

func (d *Driver) hello() {
	d.send(wire.NewHello(d.session.ID, wire.Actions{
		"log-eval":          "(do-raw (log-eval))",
		"log-all":           "(do-raw (log-all))",
		"log-off":           "(do-raw (log-off))",
		"set-print-limits":  "(do-raw (set-print-limits <length> <depth>))",
		"set-source":        "(do-raw (set-source <file> <line> <column>))",
		"start-side-loader": "(do-raw (start-side-loader))",
		"aux-session":       "(do-raw (aux-session))",
		"reattach-outs":     "(do-raw (reattach-outs <session-id>))",
		"sessions":          "(do-raw (sessions))",
		"fetch":             "(do-raw (fetch <id>))",
		"interrupt":         "(do-raw (interrupt <session-id> <eval-id>))",
		"background":        "(do-raw (background <session-id> <eval-id>))",
	}))
}

func (d *Driver) prompt() {
	pos := d.tr.Pos()
	d.send(wire.NewPrompt(wire.PromptPayload{
		File:   pos.File,
		Line:   pos.Line,
		Column: pos.Column,
		Offset: pos.Offset,
		Vars:   d.session.PromptVars(),
	}))
}

func (d *Driver) sendRead(id uint64, form lang.Form) {
	span := form.Span()
	d.send(wire.NewRead(id, wire.ReadPayload{
		From:   [2]int{span.From.Line, span.From.Column},
		To:     [2]int{span.To.Line, span.To.Column},
		Offset: span.From.Offset,
		Len:    span.Len(),
	}))
}

// doRaw evaluates an administrative form inline on the control
// goroutine. It consumes no evaluation id; its output and outcome are
// correlated by a fresh group id.
func (d *Driver) doRaw(ctx context.Context, form lang.Form) {
	group := d.session.NextGroupID()
	snapshot := d.session.Snapshot()

	out := outbox.NewChannel(d.session, wire.TagOut, 0, group)
	errOut := outbox.NewChannel(d.session, wire.TagErr, 0, group)
	d.sched.Register(out)
	d.sched.Register(errOut)

	bound := snapshot.Clone()
	bound[lang.BindingOut] = out
	bound[lang.BindingErr] = errOut

	value, completed, err := d.session.Evaluator().Evaluate(ctx, form, bound)

	if ferr := out.Flush(); ferr != nil {
		d.log.Debug("raw out flush failed", "group", group, "error", ferr)
	}
	if ferr := errOut.Flush(); ferr != nil {
		d.log.Debug("raw err flush failed", "group", group, "error", ferr)
	}

	if err != nil {
		d.send(wire.NewGroupException(group, exceptionPayload(err)))
		return
	}
	d.session.absorb(snapshot, completed)

	literal, perr := d.session.Printer().Render(value, d.session.Limits())
	if perr != nil {
		d.send(wire.NewGroupException(group, wire.ExceptionPayload{
			Phase:   wire.PhasePrint,
			Type:    "print",
			Message: perr.Error(),
		}))
		return
	}
	d.send(wire.NewGroupEval(group, literal))
}

// close emits bye on this connection and hands the session back to the
// registry. The bye goes straight to the connection's sink: the session
// itself may just have been muted, or its output adopted elsewhere.
func (d *Driver) close(reason string) {
	outs := d.session.DetachSink(d.sink)
	bye := wire.NewBye(wire.ByePayload{
		Reason: reason,
		Outs:   outs,
		Actions: wire.Actions{
			"reattach-outs": fmt.Sprintf("(do-raw (reattach-outs %q))", d.session.ID),
		},
	})
	if err := d.sink.Send(bye); err != nil {
		d.log.Debug("bye send failed", "error", err)
	}
	d.registry.MarkClosed(d.session)
	d.log.Info("session detached", "reason", reason, "outs", outs)
}

func (d *Driver) send(m wire.Message) {
	if err := d.session.Send(m); err != nil {
		d.log.Debug("send failed", "tag", m.Tag, "error", err)
	}
}
