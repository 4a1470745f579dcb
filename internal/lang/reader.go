package lang

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// TrackingReader wraps session input and maintains the cursor position as
// ordinary mutable state: line, column, and byte offset advance with every
// rune read, and SetPos replaces them wholesale for source-location
// control. It is owned by the session's driver goroutine and is not safe
// for concurrent use.
type TrackingReader struct {
	r       *bufio.Reader
	pos     Pos
	prev    Pos
	canBack bool
}

// NewTrackingReader creates a TrackingReader over r. file names the input
// in reported positions ("repl" for an interactive stream).
func NewTrackingReader(r io.Reader, file string) *TrackingReader {
	return &TrackingReader{
		r: bufio.NewReader(r),
		pos: Pos{
			File:   file,
			Line:   1,
			Column: 1,
		},
	}
}

// Pos returns the current cursor position.
func (t *TrackingReader) Pos() Pos {
	return t.pos
}

// SetPos replaces the cursor position. Zero-valued fields keep their
// current value, so a caller can move the line counter without renaming
// the file.
func (t *TrackingReader) SetPos(p Pos) {
	if p.File != "" {
		t.pos.File = p.File
	}
	if p.Line > 0 {
		t.pos.Line = p.Line
	}
	if p.Column > 0 {
		t.pos.Column = p.Column
	}
	if p.Offset > 0 {
		t.pos.Offset = p.Offset
	}
	t.canBack = false
}

// ReadRune reads one rune and advances the position.
func (t *TrackingReader) ReadRune() (rune, int, error) {
	r, size, err := t.r.ReadRune()
	if err != nil {
		return r, size, err
	}
	t.prev = t.pos
	t.canBack = true
	t.pos.Offset += int64(size)
	if r == '\n' {
		t.pos.Line++
		t.pos.Column = 1
	} else {
		t.pos.Column++
	}
	return r, size, nil
}

// UnreadRune steps back by the last rune read, restoring the previous
// position. Only a single step of backtracking is supported.
func (t *TrackingReader) UnreadRune() error {
	if !t.canBack {
		return fmt.Errorf("unread without preceding read")
	}
	if err := t.r.UnreadRune(); err != nil {
		return err
	}
	t.pos = t.prev
	t.canBack = false
	return nil
}

// ReadLine reads through the end of the current line and returns its text
// without the trailing newline. The side-loader exchange uses it to pull
// one response line from session input through the same cursor.
func (t *TrackingReader) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		r, _, err := t.ReadRune()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if r == '\n' {
			return sb.String(), nil
		}
		sb.WriteRune(r)
	}
}
