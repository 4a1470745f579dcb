package sexpr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/aki/remux/internal/elide"
	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/wire"
)

// Printer renders values as bounded, self-describing JSON literals.
// Fragments over the limits are replaced by elision placeholders whose
// ids land in the elision store under the owning session, so a client
// can fetch what was cut: the tail of a long sequence, the remainder of
// a long string, or a subtree past the depth budget.
type Printer struct {
	store   *elide.Store
	session string
}

// NewPrinter creates a Printer storing elided fragments for sessionID.
func NewPrinter(store *elide.Store, sessionID string) *Printer {
	return &Printer{store: store, session: sessionID}
}

// Render implements lang.Printer.
func (p *Printer) Render(v any, limits lang.Limits) (json.RawMessage, error) {
	return p.render(v, limits, 1)
}

func (p *Printer) render(v any, limits lang.Limits, depth int) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return json.RawMessage("null"), nil

	case bool, float64:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("cannot render %s: %w", Quote(val), err)
		}
		return data, nil

	case string:
		if limits.Text > 0 && utf8.RuneCountInString(val) > limits.Text {
			runes := []rune(val)
			head := string(runes[:limits.Text])
			id := p.store.Put(p.session, string(runes[limits.Text:]))
			return wire.TruncatedString(head, id), nil
		}
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("cannot render string: %w", err)
		}
		return data, nil

	case Symbol:
		data, err := json.Marshal(map[string]string{"sym": string(val)})
		if err != nil {
			return nil, fmt.Errorf("cannot render symbol: %w", err)
		}
		return data, nil

	case []any:
		if limits.Depth > 0 && depth > limits.Depth {
			return wire.Elision(p.store.Put(p.session, val)), nil
		}
		shown := val
		var tailID string
		if limits.Length > 0 && len(val) > limits.Length {
			shown = val[:limits.Length]
			tail := make([]any, len(val)-limits.Length)
			copy(tail, val[limits.Length:])
			tailID = p.store.Put(p.session, tail)
		}
		elems := make([]json.RawMessage, 0, len(shown)+1)
		for _, item := range shown {
			rendered, err := p.render(item, limits, depth+1)
			if err != nil {
				return nil, err
			}
			elems = append(elems, rendered)
		}
		if tailID != "" {
			elems = append(elems, wire.Elision(tailID))
		}
		data, err := json.Marshal(elems)
		if err != nil {
			return nil, fmt.Errorf("cannot render list: %w", err)
		}
		return data, nil

	case []byte:
		data, err := json.Marshal(map[string]string{"bytes": base64.StdEncoding.EncodeToString(val)})
		if err != nil {
			return nil, fmt.Errorf("cannot render bytes: %w", err)
		}
		return data, nil

	case *Func:
		name := val.Name
		if name == "" {
			name = "anonymous"
		}
		data, err := json.Marshal(map[string]string{"fn": name})
		if err != nil {
			return nil, fmt.Errorf("cannot render fn: %w", err)
		}
		return data, nil

	case *Builtin:
		data, err := json.Marshal(map[string]string{"fn": val.Name})
		if err != nil {
			return nil, fmt.Errorf("cannot render fn: %w", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("cannot render value of type %T", v)
	}
}
