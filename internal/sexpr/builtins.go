package sexpr

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

func installCore(root *Env) {
	def := func(name string, fn func(call *Call, args []any) (any, error)) {
		root.Define(Symbol(name), &Builtin{Name: name, Fn: fn})
	}

	def("+", func(_ *Call, args []any) (any, error) {
		sum := 0.0
		for _, a := range args {
			n, err := toNum("+", a)
			if err != nil {
				return nil, err
			}
			sum += n
		}
		return sum, nil
	})

	def("-", func(_ *Call, args []any) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("- expects at least one argument")
		}
		first, err := toNum("-", args[0])
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return -first, nil
		}
		for _, a := range args[1:] {
			n, err := toNum("-", a)
			if err != nil {
				return nil, err
			}
			first -= n
		}
		return first, nil
	})

	def("*", func(_ *Call, args []any) (any, error) {
		product := 1.0
		for _, a := range args {
			n, err := toNum("*", a)
			if err != nil {
				return nil, err
			}
			product *= n
		}
		return product, nil
	})

	def("/", func(_ *Call, args []any) (any, error) {
		if len(args) < 2 {
			return nil, errors.New("/ expects at least two arguments")
		}
		out, err := toNum("/", args[0])
		if err != nil {
			return nil, err
		}
		for _, a := range args[1:] {
			n, err := toNum("/", a)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, errors.New("division by zero")
			}
			out /= n
		}
		return out, nil
	})

	def("=", func(_ *Call, args []any) (any, error) {
		if len(args) < 2 {
			return nil, errors.New("= expects at least two arguments")
		}
		for _, a := range args[1:] {
			if !reflect.DeepEqual(args[0], a) {
				return false, nil
			}
		}
		return true, nil
	})

	def("<", compareChain("<", func(a, b float64) bool { return a < b }))
	def(">", compareChain(">", func(a, b float64) bool { return a > b }))
	def("<=", compareChain("<=", func(a, b float64) bool { return a <= b }))
	def(">=", compareChain(">=", func(a, b float64) bool { return a >= b }))

	def("not", func(_ *Call, args []any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("not expects one argument")
		}
		return !truthy(args[0]), nil
	})

	def("list", func(_ *Call, args []any) (any, error) {
		out := make([]any, len(args))
		copy(out, args)
		return out, nil
	})

	def("first", func(_ *Call, args []any) (any, error) {
		items, err := toList("first", args)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, nil
		}
		return items[0], nil
	})

	def("rest", func(_ *Call, args []any) (any, error) {
		items, err := toList("rest", args)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return []any{}, nil
		}
		out := make([]any, len(items)-1)
		copy(out, items[1:])
		return out, nil
	})

	def("cons", func(_ *Call, args []any) (any, error) {
		if len(args) != 2 {
			return nil, errors.New("cons expects two arguments")
		}
		tail, ok := args[1].([]any)
		if !ok {
			return nil, fmt.Errorf("cons expects a list, got %s", Quote(args[1]))
		}
		out := make([]any, 0, len(tail)+1)
		out = append(out, args[0])
		return append(out, tail...), nil
	})

	def("count", func(_ *Call, args []any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("count expects one argument")
		}
		switch v := args[0].(type) {
		case []any:
			return float64(len(v)), nil
		case string:
			return float64(len(v)), nil
		case nil:
			return 0.0, nil
		default:
			return nil, fmt.Errorf("count expects a list or string, got %s", Quote(args[0]))
		}
	})

	def("nth", func(_ *Call, args []any) (any, error) {
		if len(args) != 2 {
			return nil, errors.New("nth expects a list and an index")
		}
		items, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("nth expects a list, got %s", Quote(args[0]))
		}
		idx, err := toNum("nth", args[1])
		if err != nil {
			return nil, err
		}
		i := int(idx)
		if i < 0 || i >= len(items) {
			return nil, fmt.Errorf("nth index %d out of range for %d elements", i, len(items))
		}
		return items[i], nil
	})

	def("range", func(_ *Call, args []any) (any, error) {
		var start, end float64
		var err error
		switch len(args) {
		case 1:
			end, err = toNum("range", args[0])
		case 2:
			start, err = toNum("range", args[0])
			if err == nil {
				end, err = toNum("range", args[1])
			}
		default:
			return nil, errors.New("range expects one or two arguments")
		}
		if err != nil {
			return nil, err
		}
		out := []any{}
		for i := start; i < end; i++ {
			out = append(out, i)
		}
		return out, nil
	})

	def("str", func(_ *Call, args []any) (any, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(Display(a))
		}
		return sb.String(), nil
	})

	def("print", printBuiltin(false))
	def("println", printBuiltin(true))

	def("sleep", func(call *Call, args []any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("sleep expects milliseconds")
		}
		ms, err := toNum("sleep", args[0])
		if err != nil {
			return nil, err
		}
		select {
		case <-call.Ctx.Done():
			return nil, call.Ctx.Err()
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return nil, nil
		}
	})
}

func printBuiltin(newline bool) func(call *Call, args []any) (any, error) {
	return func(call *Call, args []any) (any, error) {
		w, err := call.Out()
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = Display(a)
		}
		text := strings.Join(parts, " ")
		if newline {
			text += "\n"
		}
		if _, err := fmt.Fprint(w, text); err != nil {
			return nil, fmt.Errorf("print failed: %w", err)
		}
		return nil, nil
	}
}

func compareChain(name string, cmp func(a, b float64) bool) func(call *Call, args []any) (any, error) {
	return func(_ *Call, args []any) (any, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("%s expects at least two arguments", name)
		}
		prev, err := toNum(name, args[0])
		if err != nil {
			return nil, err
		}
		for _, a := range args[1:] {
			n, err := toNum(name, a)
			if err != nil {
				return nil, err
			}
			if !cmp(prev, n) {
				return false, nil
			}
			prev = n
		}
		return true, nil
	}
}

func toNum(name string, v any) (float64, error) {
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s expects a number, got %s", name, Quote(v))
	}
	return n, nil
}

func toList(name string, args []any) ([]any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s expects one argument", name)
	}
	if args[0] == nil {
		return nil, nil
	}
	items, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("%s expects a list, got %s", name, Quote(args[0]))
	}
	return items, nil
}
