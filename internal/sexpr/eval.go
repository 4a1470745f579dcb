package sexpr

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aki/remux/internal/lang"
)

// Call carries the context a native function runs under: the evaluation's
// cancellation context and its dynamic-binding layer.
type Call struct {
	Ctx context.Context
	Dyn *Env
}

// Out resolves the current standard output writer.
func (c *Call) Out() (io.Writer, error) {
	return c.writer(lang.BindingOut)
}

// Err resolves the current standard error writer.
func (c *Call) Err() (io.Writer, error) {
	return c.writer(lang.BindingErr)
}

func (c *Call) writer(name string) (io.Writer, error) {
	v, ok := c.Dyn.Get(Symbol(name))
	if !ok {
		return nil, fmt.Errorf("%s is not bound", name)
	}
	w, ok := v.(io.Writer)
	if !ok {
		return nil, fmt.Errorf("%s is not a writer", name)
	}
	return w, nil
}

// Evaluator evaluates forms against a session's root environment. One
// evaluator backs one session; the root environment accumulates defs
// across evaluations.
type Evaluator struct {
	root *Env
}

// NewEvaluator creates an Evaluator with the core library installed.
func NewEvaluator() *Evaluator {
	e := &Evaluator{root: NewEnv(nil)}
	installCore(e.root)
	return e
}

// Root returns the session root environment.
func (e *Evaluator) Root() *Env {
	return e.root
}

// Define installs a native function into the root environment. The engine
// uses it for fetch, slurp, and the administrative operations.
func (e *Evaluator) Define(name string, fn func(call *Call, args []any) (any, error)) {
	e.root.Define(Symbol(name), &Builtin{Name: name, Fn: fn})
}

// Evaluate implements lang.Evaluator. The binding snapshot becomes a
// dynamic layer over the root environment; the returned bindings are the
// layer's values at completion, reported even when evaluation failed so
// pre-failure changes persist.
func (e *Evaluator) Evaluate(ctx context.Context, form lang.Form, bindings lang.Bindings) (lang.Value, lang.Bindings, error) {
	node, ok := form.(*Node)
	if !ok {
		return nil, bindings, fmt.Errorf("cannot evaluate foreign form %T", form)
	}

	dyn := NewEnv(e.root)
	for k, v := range bindings {
		dyn.Define(Symbol(k), v)
	}

	v, err := e.eval(ctx, node.value, dyn, dyn)

	completed := make(lang.Bindings, len(bindings))
	for k := range bindings {
		if val, ok := dyn.Get(Symbol(k)); ok {
			completed[k] = val
		}
	}
	return v, completed, err
}

// eval evaluates v in the lexical environment env with dynamic layer dyn.
// It checks for cancellation at every step so interrupts reach tight
// loops.
func (e *Evaluator) eval(ctx context.Context, v any, env, dyn *Env) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch val := v.(type) {
	case Symbol:
		if isDynamic(val) {
			if got, ok := dyn.Get(val); ok {
				return got, nil
			}
		}
		if got, ok := env.Get(val); ok {
			return got, nil
		}
		return nil, fmt.Errorf("undefined symbol: %s", val)
	case []any:
		return e.evalList(ctx, val, env, dyn)
	default:
		return v, nil
	}
}

func (e *Evaluator) evalList(ctx context.Context, list []any, env, dyn *Env) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}

	if head, ok := list[0].(Symbol); ok {
		switch head {
		case "quote":
			if len(list) != 2 {
				return nil, errors.New("quote expects one form")
			}
			return list[1], nil

		case "if":
			if len(list) < 3 || len(list) > 4 {
				return nil, errors.New("if expects a condition, a then form, and an optional else form")
			}
			cond, err := e.eval(ctx, list[1], env, dyn)
			if err != nil {
				return nil, err
			}
			if truthy(cond) {
				return e.eval(ctx, list[2], env, dyn)
			}
			if len(list) == 4 {
				return e.eval(ctx, list[3], env, dyn)
			}
			return nil, nil

		case "def":
			if len(list) != 3 {
				return nil, errors.New("def expects a name and a value")
			}
			name, ok := list[1].(Symbol)
			if !ok {
				return nil, fmt.Errorf("def expects a symbol, got %s", Quote(list[1]))
			}
			val, err := e.eval(ctx, list[2], env, dyn)
			if err != nil {
				return nil, err
			}
			if f, ok := val.(*Func); ok && f.Name == "" {
				f.Name = string(name)
			}
			e.root.Define(name, val)
			return val, nil

		case "set!":
			if len(list) != 3 {
				return nil, errors.New("set! expects a name and a value")
			}
			name, ok := list[1].(Symbol)
			if !ok {
				return nil, fmt.Errorf("set! expects a symbol, got %s", Quote(list[1]))
			}
			val, err := e.eval(ctx, list[2], env, dyn)
			if err != nil {
				return nil, err
			}
			if isDynamic(name) && dyn.Assign(name, val) {
				return val, nil
			}
			if env.Assign(name, val) {
				return val, nil
			}
			return nil, fmt.Errorf("cannot set! undefined symbol: %s", name)

		case "fn":
			if len(list) < 3 {
				return nil, errors.New("fn expects a parameter list and a body")
			}
			rawParams, ok := list[1].([]any)
			if !ok {
				return nil, errors.New("fn expects a parameter list")
			}
			params := make([]Symbol, len(rawParams))
			for i, p := range rawParams {
				sym, ok := p.(Symbol)
				if !ok {
					return nil, fmt.Errorf("fn parameter must be a symbol, got %s", Quote(p))
				}
				params[i] = sym
			}
			return &Func{Params: params, Body: list[2:], Env: env}, nil

		case "do", "do-raw":
			var out any
			var err error
			for _, form := range list[1:] {
				out, err = e.eval(ctx, form, env, dyn)
				if err != nil {
					return nil, err
				}
			}
			return out, nil

		case "let":
			if len(list) < 3 {
				return nil, errors.New("let expects a binding list and a body")
			}
			pairs, ok := list[1].([]any)
			if !ok {
				return nil, errors.New("let expects a binding list")
			}
			lenv := NewEnv(env)
			for _, p := range pairs {
				pair, ok := p.([]any)
				if !ok || len(pair) != 2 {
					return nil, fmt.Errorf("let binding must be a (name value) pair, got %s", Quote(p))
				}
				name, ok := pair[0].(Symbol)
				if !ok {
					return nil, fmt.Errorf("let binding name must be a symbol, got %s", Quote(pair[0]))
				}
				val, err := e.eval(ctx, pair[1], lenv, dyn)
				if err != nil {
					return nil, err
				}
				lenv.Define(name, val)
			}
			var out any
			var err error
			for _, form := range list[2:] {
				out, err = e.eval(ctx, form, lenv, dyn)
				if err != nil {
					return nil, err
				}
			}
			return out, nil

		case "while":
			if len(list) < 2 {
				return nil, errors.New("while expects a condition")
			}
			for {
				cond, err := e.eval(ctx, list[1], env, dyn)
				if err != nil {
					return nil, err
				}
				if !truthy(cond) {
					return nil, nil
				}
				for _, form := range list[2:] {
					if _, err := e.eval(ctx, form, env, dyn); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	fnv, err := e.eval(ctx, list[0], env, dyn)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, len(list)-1)
	for _, raw := range list[1:] {
		arg, err := e.eval(ctx, raw, env, dyn)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return e.apply(ctx, fnv, args, dyn)
}

func (e *Evaluator) apply(ctx context.Context, fnv any, args []any, dyn *Env) (any, error) {
	switch f := fnv.(type) {
	case *Builtin:
		return f.Fn(&Call{Ctx: ctx, Dyn: dyn}, args)
	case *Func:
		if len(args) != len(f.Params) {
			name := f.Name
			if name == "" {
				name = "anonymous fn"
			}
			return nil, fmt.Errorf("%s expects %d arguments, got %d", name, len(f.Params), len(args))
		}
		fenv := NewEnv(f.Env)
		for i, p := range f.Params {
			fenv.Define(p, args[i])
		}
		var out any
		var err error
		for _, form := range f.Body {
			out, err = e.eval(ctx, form, fenv, dyn)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not callable: %s", Quote(fnv))
	}
}
