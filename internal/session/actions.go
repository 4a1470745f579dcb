package session

import (
	"fmt"

	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/sexpr"
	"github.com/aki/remux/internal/sideload"
	"github.com/aki/remux/internal/wire"
)

// installActions registers the administrative builtins into the
// session's evaluator root. They are ordinary language functions; the
// action descriptors carried by hello, started-eval and bye are literal
// forms invoking them. Most arrive wrapped in do-raw, but nothing stops
// an evaluation from calling fetch or slurp directly.
func (d *Driver) installActions() {
	ev, ok := d.session.Evaluator().(*sexpr.Evaluator)
	if !ok {
		// A host language without a definable root keeps the core
		// protocol but exposes no administrative surface.
		return
	}

	ev.Define("interrupt", d.actInterrupt)
	ev.Define("background", d.actBackground)
	ev.Define("set-print-limits", d.actSetPrintLimits)
	ev.Define("set-source", d.actSetSource)
	ev.Define("start-side-loader", d.actStartSideLoader)
	ev.Define("aux-session", d.actAuxSession)
	ev.Define("log-eval", d.actLogMode(LogEval))
	ev.Define("log-all", d.actLogMode(LogAll))
	ev.Define("log-off", d.actLogMode(LogOff))
	ev.Define("reattach-outs", d.actReattachOuts)
	ev.Define("sessions", d.actSessions)
	ev.Define("fetch", d.actFetch)
	ev.Define("slurp", d.actSlurp)
}

// actTarget resolves the optional leading session-id argument of
// interrupt and background. A connection blocked in its own evaluation
// cannot issue either form, so the started-eval descriptors name the
// session explicitly and any other connection can send them verbatim.
func (d *Driver) actTarget(name string, args []any) (string, uint64, error) {
	target := d.session.ID
	i := 0
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			target = s
			i = 1
		}
	}
	id, err := argNumber(name, args, i)
	if err != nil {
		return "", 0, err
	}
	return target, uint64(id), nil
}

func (d *Driver) actInterrupt(call *sexpr.Call, args []any) (any, error) {
	target, id, err := d.actTarget("interrupt", args)
	if err != nil {
		return nil, err
	}
	applied, err := d.ctrl.Interrupt(target, id)
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (d *Driver) actBackground(call *sexpr.Call, args []any) (any, error) {
	target, id, err := d.actTarget("background", args)
	if err != nil {
		return nil, err
	}
	applied, err := d.ctrl.Background(target, id)
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (d *Driver) actSetPrintLimits(call *sexpr.Call, args []any) (any, error) {
	length, err := argNumber("set-print-limits", args, 0)
	if err != nil {
		return nil, err
	}
	depth, err := argNumber("set-print-limits", args, 1)
	if err != nil {
		return nil, err
	}
	d.session.SetLimits(int(length), int(depth))
	return true, nil
}

func (d *Driver) actSetSource(call *sexpr.Call, args []any) (any, error) {
	file, err := argString("set-source", args, 0)
	if err != nil {
		return nil, err
	}
	line, err := argNumber("set-source", args, 1)
	if err != nil {
		return nil, err
	}
	column, err := argNumber("set-source", args, 2)
	if err != nil {
		return nil, err
	}
	d.tr.SetPos(lang.Pos{File: file, Line: int(line), Column: int(column)})
	call.Dyn.Assign(sexpr.Symbol(lang.BindingFile), file)
	return true, nil
}

func (d *Driver) actStartSideLoader(call *sexpr.Call, args []any) (any, error) {
	if d.session.Loader() != nil {
		return false, nil
	}
	d.session.SetLoader(sideload.New(d.session, d.tr, d.log))
	return true, nil
}

// actAuxSession registers a fresh session sharing this connection's
// sink and announces it with its own hello. The auxiliary session has
// no driver of its own; it exists as an output funnel and an
// administration target (reattach, dispose, elision fetches).
func (d *Driver) actAuxSession(call *sexpr.Call, args []any) (any, error) {
	aux := d.registry.Create()
	aux.AttachSink(d.sink)
	if err := aux.Send(wire.NewHello(aux.ID, nil)); err != nil {
		return nil, fmt.Errorf("announce aux session: %w", err)
	}
	return aux.ID, nil
}

func (d *Driver) actLogMode(mode LogMode) func(call *sexpr.Call, args []any) (any, error) {
	return func(call *sexpr.Call, args []any) (any, error) {
		d.session.SetLogMode(mode)
		return true, nil
	}
}

func (d *Driver) actReattachOuts(call *sexpr.Call, args []any) (any, error) {
	id, err := argString("reattach-outs", args, 0)
	if err != nil {
		return nil, err
	}
	target, err := d.registry.Get(id)
	if err != nil {
		return nil, err
	}
	target.AttachSink(d.sink)
	d.log.Info("outs reattached", "target", id)
	return true, nil
}

func (d *Driver) actSessions(call *sexpr.Call, args []any) (any, error) {
	w, err := call.Out()
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0)
	for _, s := range d.registry.List() {
		state := "open"
		if s.Closed() {
			state = "closed"
		}
		fmt.Fprintf(w, "%s %s evals=%d\n", s.ID, state, s.Evals())
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (d *Driver) actFetch(call *sexpr.Call, args []any) (any, error) {
	id, err := argString("fetch", args, 0)
	if err != nil {
		return nil, err
	}
	_, value, ok := d.registry.Store().Get(id)
	if !ok {
		// Reclaimed or never stored: an explicit marker, not an error.
		return sexpr.Symbol("value-gone"), nil
	}
	return value, nil
}

func (d *Driver) actSlurp(call *sexpr.Call, args []any) (any, error) {
	kind, err := argString("slurp", args, 0)
	if err != nil {
		return nil, err
	}
	name, err := argString("slurp", args, 1)
	if err != nil {
		return nil, err
	}
	ex := d.session.Loader()
	if ex == nil {
		return nil, fmt.Errorf("slurp: side loader not started")
	}
	data, ok, err := ex.Request(kind, name)
	if err != nil {
		return nil, fmt.Errorf("slurp: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return data, nil
}

func argString(name string, args []any, i int) (string, error) {
	if len(args) <= i {
		return "", fmt.Errorf("%s expects at least %d arguments", name, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s expects a string, got %s", name, sexpr.Quote(args[i]))
	}
	return s, nil
}

func argNumber(name string, args []any, i int) (float64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("%s expects at least %d arguments", name, i+1)
	}
	n, ok := args[i].(float64)
	if !ok {
		return 0, fmt.Errorf("%s expects a number, got %s", name, sexpr.Quote(args[i]))
	}
	return n, nil
}
