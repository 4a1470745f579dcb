package sexpr

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aki/remux/internal/lang"
)

func newTestReader(src string) *Reader {
	tr := lang.NewTrackingReader(bufio.NewReader(strings.NewReader(src)), "test")
	return NewReader(tr)
}

func readAll(t *testing.T, src string) []*Node {
	t.Helper()
	r := newTestReader(src)
	var nodes []*Node
	for {
		form, err := r.ReadForm()
		if err == io.EOF {
			return nodes
		}
		require.NoError(t, err)
		nodes = append(nodes, form.(*Node))
	}
}

func TestReadAtoms(t *testing.T) {
	nodes := readAll(t, `42 -3.5 hello "text" true false nil`)
	require.Len(t, nodes, 7)

	assert.Equal(t, 42.0, nodes[0].Value())
	assert.Equal(t, -3.5, nodes[1].Value())
	assert.Equal(t, Symbol("hello"), nodes[2].Value())
	assert.Equal(t, "text", nodes[3].Value())
	assert.Equal(t, true, nodes[4].Value())
	assert.Equal(t, false, nodes[5].Value())
	assert.Nil(t, nodes[6].Value())
}

func TestReadList(t *testing.T) {
	nodes := readAll(t, `(+ 1 (* 2 3))`)
	require.Len(t, nodes, 1)

	outer, ok := nodes[0].Value().([]any)
	require.True(t, ok)
	require.Len(t, outer, 3)
	assert.Equal(t, Symbol("+"), outer[0])
	assert.Equal(t, 1.0, outer[1])

	inner, ok := outer[2].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{Symbol("*"), 2.0, 3.0}, inner)
}

func TestReadHead(t *testing.T) {
	nodes := readAll(t, `(do-raw (interrupt)) (+ 1 2) 42`)
	require.Len(t, nodes, 3)

	head, ok := nodes[0].Head()
	require.True(t, ok)
	assert.Equal(t, "do-raw", head)

	head, ok = nodes[1].Head()
	require.True(t, ok)
	assert.Equal(t, "+", head)

	_, ok = nodes[2].Head()
	assert.False(t, ok)
}

func TestReadQuoteSugar(t *testing.T) {
	nodes := readAll(t, `'(1 2)`)
	require.Len(t, nodes, 1)
	assert.Equal(t, []any{Symbol("quote"), []any{1.0, 2.0}}, nodes[0].Value())
}

func TestReadComments(t *testing.T) {
	nodes := readAll(t, "; a leading comment\n(+ 1 ; inline\n 2)\n")
	require.Len(t, nodes, 1)
	assert.Equal(t, []any{Symbol("+"), 1.0, 2.0}, nodes[0].Value())
}

func TestReadStringEscapes(t *testing.T) {
	nodes := readAll(t, `"a\nb\t\"c\"\\"`)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a\nb\t\"c\"\\", nodes[0].Value())
}

func TestReadSpans(t *testing.T) {
	r := newTestReader("(+ 1 2)\nnext")

	form, err := r.ReadForm()
	require.NoError(t, err)
	span := form.Span()
	assert.Equal(t, int64(0), span.From.Offset)
	assert.Equal(t, 1, span.From.Line)
	assert.Equal(t, 1, span.From.Column)
	assert.Equal(t, int64(7), span.To.Offset)

	form, err = r.ReadForm()
	require.NoError(t, err)
	span = form.Span()
	assert.Equal(t, 2, span.From.Line)
	assert.Equal(t, 1, span.From.Column)
	assert.Equal(t, "test", span.From.File)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unexpected close", ")", "unexpected )"},
		{"unterminated string", `"abc`, "unterminated string"},
		{"unclosed list", "(+ 1 2", "unclosed list"},
		{"dangling quote", "'", "unexpected end of input"},
		{"malformed number", "1.2.3", "malformed number"},
		{"unknown escape", `"a\q"`, "unknown escape"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReader(tt.src)
			_, err := r.ReadForm()
			require.Error(t, err)
			var serr *SyntaxError
			require.ErrorAs(t, err, &serr)
			assert.Contains(t, serr.Msg, tt.want)
		})
	}
}

func TestReadRecoversAfterError(t *testing.T) {
	r := newTestReader("1.2.3 junk on the same line\n(+ 1 2)")

	_, err := r.ReadForm()
	require.Error(t, err)

	form, err := r.ReadForm()
	require.NoError(t, err)
	assert.Equal(t, []any{Symbol("+"), 1.0, 2.0}, form.(*Node).Value())
}

func TestReadCleanEOF(t *testing.T) {
	r := newTestReader("  \n ; just a comment\n")
	_, err := r.ReadForm()
	assert.Equal(t, io.EOF, err)
}
