package ui

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aki/remux/internal/wire"
)

func render(m wire.Message) string {
	var buf bytes.Buffer
	NewRenderer(&buf).Render(m)
	return buf.String()
}

func TestRenderHello(t *testing.T) {
	m := wire.NewHello("s-1234", wire.Actions{
		"interrupt": "(do-raw (interrupt <session-id> <eval-id>))",
		"sessions":  "(do-raw (sessions))",
	})
	out := render(m)

	for _, want := range []string{"session s-1234", "ACTION", "FORM", "interrupt", "(do-raw (sessions))"} {
		if !strings.Contains(out, want) {
			t.Errorf("hello output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderPrompt(t *testing.T) {
	m := wire.NewPrompt(wire.PromptPayload{File: "init.lisp", Line: 3, Column: 7})
	out := render(m)

	if !strings.Contains(out, "init.lisp:3:7") {
		t.Errorf("prompt output missing position: %q", out)
	}
	if strings.HasSuffix(out, "\n") {
		t.Errorf("prompt should not end the line: %q", out)
	}
}

func TestRenderEval(t *testing.T) {
	tests := []struct {
		name string
		msg  wire.Message
		want []string
	}{
		{"result", wire.NewEval(3, json.RawMessage(`42`)), []string{"[3]", "42"}},
		{"group result", wire.NewGroupEval("raw-2", json.RawMessage(`true`)), []string{"[raw-2]", "true"}},
		{"started", wire.NewStartedEval(5, nil), []string{"[5] running"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := render(tt.msg)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q: %q", want, out)
				}
			}
		})
	}
}

func TestRenderException(t *testing.T) {
	m := wire.NewException(2, wire.ExceptionPayload{
		Phase:   wire.PhaseEval,
		Message: "undefined symbol: frob",
	})
	out := render(m)

	if !strings.Contains(out, "eval error") || !strings.Contains(out, "undefined symbol: frob") {
		t.Errorf("exception output incomplete: %q", out)
	}
}

func TestRenderInterrupted(t *testing.T) {
	m := wire.NewException(2, wire.ExceptionPayload{
		Phase:       wire.PhaseEval,
		Message:     "interrupted",
		Interrupted: true,
		Stack:       "goroutine 12 [running]:\nmain.main()\n",
	})
	out := render(m)

	if !strings.Contains(out, "[2] interrupted") {
		t.Errorf("interrupted output missing marker: %q", out)
	}
	if !strings.Contains(out, "goroutine 12") {
		t.Errorf("interrupted output missing stack: %q", out)
	}
}

func TestRenderOutPassesTextThrough(t *testing.T) {
	out := render(wire.NewOut(1, "", "line one\nline two\n"))
	if !strings.Contains(out, "line one\nline two\n") {
		t.Errorf("out text mangled: %q", out)
	}
}

func TestRenderLog(t *testing.T) {
	m := wire.NewLog(4, wire.LogPayload{
		Level:   "info",
		Message: "evaluation started",
		Fields:  map[string]any{"session": "s-1"},
	})
	out := render(m)

	for _, want := range []string{"[info]", "evaluation started", "session=s-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %q", want, out)
		}
	}
}

func TestRenderBye(t *testing.T) {
	m := wire.NewBye(wire.ByePayload{
		Reason:  "disconnect",
		Outs:    wire.OutsMuted,
		Actions: wire.Actions{"reattach-outs": "(do-raw (reattach-outs <session-id>))"},
	})
	out := render(m)

	for _, want := range []string{"session closed: disconnect", "muted", "reattach-outs"} {
		if !strings.Contains(out, want) {
			t.Errorf("bye output missing %q: %q", want, out)
		}
	}
}
