// Package lang defines the host-language collaborator interfaces the
// session engine drives. The engine never inspects values or forms beyond
// these contracts, so any language providing a reader, an evaluator, and a
// limit-aware printer can sit behind a session.
package lang

import (
	"context"
	"encoding/json"
	"reflect"
)

// Value is any host-language value. nil is a legal value.
type Value = any

// Bindings is a snapshot of dynamic bindings (variable name to value).
// Evaluation receives a snapshot and returns the bindings as they stood at
// completion; the engine diffs and merges rather than sharing mutable state.
type Bindings map[string]Value

// Clone returns a shallow copy.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Diff returns the entries of after whose values differ from before.
// Entries removed by the evaluation are ignored: dynamic state only ever
// accretes or changes, it is not unbound.
func Diff(before, after Bindings) Bindings {
	changed := make(Bindings)
	for k, v := range after {
		old, ok := before[k]
		if !ok || !reflect.DeepEqual(old, v) {
			changed[k] = v
		}
	}
	return changed
}

// Merge applies delta over b in place.
func (b Bindings) Merge(delta Bindings) {
	for k, v := range delta {
		b[k] = v
	}
}

// Names of the dynamic bindings the engine itself manages. The output
// writers are rebound to a fresh tagged channel for every evaluation;
// the print limits start from configuration and travel with the session
// so evaluations can adjust them with ordinary assignment.
const (
	BindingOut         = "*out*"
	BindingErr         = "*err*"
	BindingFile        = "*file*"
	BindingPrintLength = "*print-length*"
	BindingPrintDepth  = "*print-depth*"
	BindingPrintText   = "*print-text*"
)

// Pos is a cursor position within session input. Line and Column are
// 1-based; Offset counts bytes from the start of the stream. All fields
// are plain data so administrative actions can overwrite them directly.
type Pos struct {
	File   string
	Line   int
	Column int
	Offset int64
}

// Span is the source extent of one form.
type Span struct {
	From Pos
	To   Pos
}

// Len returns the byte length of the span.
func (s Span) Len() int {
	return int(s.To.Offset - s.From.Offset)
}

// Form is one parsed input form.
type Form interface {
	// Span reports where in the input the form was read.
	Span() Span
	// Head returns the leading symbol of a compound form. The driver uses
	// it to intercept administrative forms before they reach the
	// evaluation controller.
	Head() (string, bool)
}

// FormReader reads one form per call from session input.
// It returns io.EOF when input is exhausted.
type FormReader interface {
	ReadForm() (Form, error)
}

// Limits bounds how much of a value the printer may render before eliding.
type Limits struct {
	// Length is the maximum number of sequence elements.
	Length int
	// Depth is the maximum nesting depth.
	Depth int
	// Text is the maximum string length.
	Text int
}

// Evaluator evaluates one form under a binding snapshot. It must honor
// context cancellation between steps; a cancelled evaluation returns the
// context's error or one wrapping it.
type Evaluator interface {
	Evaluate(ctx context.Context, form Form, bindings Bindings) (Value, Bindings, error)
}

// Printer renders a value as a bounded self-describing literal. Fragments
// over budget are replaced by elision placeholders carrying fetchable ids.
type Printer interface {
	Render(v Value, limits Limits) (json.RawMessage, error)
}
