// Package sexpr implements the reference host language behind remux
// sessions: a small Lisp whose reader, evaluator, and printer satisfy
// the collaborator contracts in internal/lang. Values are ordinary Go
// values (float64 numbers, strings, bools, nil, Symbol, []any lists)
// plus function objects.
package sexpr

import (
	"strconv"
	"strings"
	"sync"

	"github.com/aki/remux/internal/lang"
)

// Symbol is an identifier.
type Symbol string

// Func is a user-defined function: parameter list, body forms, and the
// environment it closed over.
type Func struct {
	Name   string
	Params []Symbol
	Body   []any
	Env    *Env
}

// Builtin is a native function. Args arrive already evaluated.
type Builtin struct {
	Name string
	Fn   func(call *Call, args []any) (any, error)
}

// Node is one parsed top-level form together with its source span.
type Node struct {
	value any
	span  lang.Span
}

// Span implements lang.Form.
func (n *Node) Span() lang.Span {
	return n.span
}

// Head implements lang.Form: the leading symbol of a compound form.
func (n *Node) Head() (string, bool) {
	list, ok := n.value.([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	sym, ok := list[0].(Symbol)
	if !ok {
		return "", false
	}
	return string(sym), true
}

// Value returns the parsed literal.
func (n *Node) Value() any {
	return n.value
}

// Env is a chained symbol table. Roots are shared between a session's
// driver goroutine and any still-running backgrounded evaluation, so
// access is locked.
type Env struct {
	mu     sync.RWMutex
	vars   map[Symbol]any
	parent *Env
}

// NewEnv creates an environment chained to parent (nil for a root).
func NewEnv(parent *Env) *Env {
	return &Env{vars: make(map[Symbol]any), parent: parent}
}

// Get resolves sym through the chain.
func (e *Env) Get(sym Symbol) (any, bool) {
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		v, ok := env.vars[sym]
		env.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// GetLocal resolves sym in this environment only.
func (e *Env) GetLocal(sym Symbol) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.vars[sym]
	return v, ok
}

// Define binds sym in this environment.
func (e *Env) Define(sym Symbol, v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[sym] = v
}

// Assign rebinds sym where it is already bound, walking the chain.
// It reports whether a binding was found.
func (e *Env) Assign(sym Symbol, v any) bool {
	for env := e; env != nil; env = env.parent {
		env.mu.Lock()
		if _, ok := env.vars[sym]; ok {
			env.vars[sym] = v
			env.mu.Unlock()
			return true
		}
		env.mu.Unlock()
	}
	return false
}

// truthy: nil and false are false, everything else is true.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// isDynamic reports the earmuff naming convention for dynamic variables.
func isDynamic(sym Symbol) bool {
	s := string(sym)
	return len(s) > 2 && strings.HasPrefix(s, "*") && strings.HasSuffix(s, "*")
}

// Display renders a value the way the REPL prints text: strings bare,
// numbers without a float suffix, lists in parentheses.
func Display(v any) string {
	var sb strings.Builder
	display(&sb, v, false)
	return sb.String()
}

// Quote renders a value in readable form: strings carry their quotes.
func Quote(v any) string {
	var sb strings.Builder
	display(&sb, v, true)
	return sb.String()
}

func display(sb *strings.Builder, v any, readable bool) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("nil")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case string:
		if readable {
			sb.WriteString(strconv.Quote(val))
		} else {
			sb.WriteString(val)
		}
	case Symbol:
		sb.WriteString(string(val))
	case []any:
		sb.WriteByte('(')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(' ')
			}
			display(sb, item, readable)
		}
		sb.WriteByte(')')
	case *Func:
		name := val.Name
		if name == "" {
			name = "anonymous"
		}
		sb.WriteString("#fn[" + name + "]")
	case *Builtin:
		sb.WriteString("#fn[" + val.Name + "]")
	case []byte:
		sb.WriteString(string(val))
	default:
		sb.WriteString("#unreadable")
	}
}
