package sexpr

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/aki/remux/internal/lang"
)

// SyntaxError is a read-phase failure at a known position.
type SyntaxError struct {
	Msg string
	Pos lang.Pos
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at %s:%d:%d", e.Msg, e.Pos.File, e.Pos.Line, e.Pos.Column)
}

// Reader parses one form per call from session input. After a syntax
// error it discards the rest of the current line so the stream resumes
// at a clean boundary.
type Reader struct {
	tr *lang.TrackingReader
}

// NewReader creates a Reader over tr.
func NewReader(tr *lang.TrackingReader) *Reader {
	return &Reader{tr: tr}
}

// ReadForm implements lang.FormReader. It returns io.EOF only on clean
// exhaustion before a form starts; a stream ending mid-form is a syntax
// error.
func (r *Reader) ReadForm() (lang.Form, error) {
	if err := r.skipSpace(); err != nil {
		return nil, err
	}
	from := r.tr.Pos()
	v, err := r.readValue()
	if err != nil {
		if err == io.EOF {
			err = r.errorf("unexpected end of input")
		}
		r.drainLine()
		return nil, err
	}
	return &Node{value: v, span: lang.Span{From: from, To: r.tr.Pos()}}, nil
}

func (r *Reader) errorf(format string, args ...any) error {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Pos: r.tr.Pos()}
}

// skipSpace consumes whitespace and ; comments. io.EOF here means clean
// exhaustion.
func (r *Reader) skipSpace() error {
	for {
		ch, _, err := r.tr.ReadRune()
		if err != nil {
			return err
		}
		switch {
		case unicode.IsSpace(ch):
		case ch == ';':
			if err := r.drainLine(); err != nil {
				return err
			}
		default:
			return r.tr.UnreadRune()
		}
	}
}

func (r *Reader) drainLine() error {
	for {
		ch, _, err := r.tr.ReadRune()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if ch == '\n' {
			return nil
		}
	}
}

func (r *Reader) readValue() (any, error) {
	ch, _, err := r.tr.ReadRune()
	if err != nil {
		return nil, err
	}

	switch {
	case ch == '(':
		return r.readList()
	case ch == ')':
		return nil, r.errorf("unexpected )")
	case ch == '"':
		return r.readString()
	case ch == '\'':
		quoted, err := r.readValue()
		if err != nil {
			return nil, err
		}
		return []any{Symbol("quote"), quoted}, nil
	default:
		if err := r.tr.UnreadRune(); err != nil {
			return nil, err
		}
		return r.readAtom()
	}
}

func (r *Reader) readList() (any, error) {
	list := []any{}
	for {
		ch, _, err := r.tr.ReadRune()
		if err != nil {
			if err == io.EOF {
				return nil, r.errorf("unclosed list")
			}
			return nil, err
		}
		switch {
		case unicode.IsSpace(ch):
			continue
		case ch == ';':
			if err := r.drainLine(); err != nil {
				return nil, r.errorf("unclosed list")
			}
		case ch == ')':
			return list, nil
		default:
			if err := r.tr.UnreadRune(); err != nil {
				return nil, err
			}
			item, err := r.readValue()
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
	}
}

func (r *Reader) readString() (any, error) {
	var sb strings.Builder
	for {
		ch, _, err := r.tr.ReadRune()
		if err != nil {
			return nil, r.errorf("unterminated string")
		}
		switch ch {
		case '"':
			return sb.String(), nil
		case '\\':
			esc, _, err := r.tr.ReadRune()
			if err != nil {
				return nil, r.errorf("unterminated string")
			}
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				return nil, r.errorf("unknown escape \\%c", esc)
			}
		default:
			sb.WriteRune(ch)
		}
	}
}

// readAtom reads a token and classifies it: number, boolean, nil, or
// symbol.
func (r *Reader) readAtom() (any, error) {
	var sb strings.Builder
	for {
		ch, _, err := r.tr.ReadRune()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if unicode.IsSpace(ch) || ch == '(' || ch == ')' || ch == '"' || ch == ';' {
			if err := r.tr.UnreadRune(); err != nil {
				return nil, err
			}
			break
		}
		sb.WriteRune(ch)
	}

	token := sb.String()
	if token == "" {
		return nil, r.errorf("empty token")
	}

	switch token {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "nil":
		return nil, nil
	}

	if looksNumeric(token) {
		n, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return nil, r.errorf("malformed number %q", token)
		}
		return n, nil
	}
	return Symbol(token), nil
}

func looksNumeric(token string) bool {
	ch := token[0]
	if ch >= '0' && ch <= '9' {
		return true
	}
	if (ch == '-' || ch == '+') && len(token) > 1 {
		next := token[1]
		return next >= '0' && next <= '9'
	}
	return false
}
