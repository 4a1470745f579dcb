package ui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aki/remux/internal/wire"
)

// Renderer turns tagged wire messages into console lines. It keeps no
// protocol state; every message renders from what it carries.
type Renderer struct {
	w io.Writer
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Render writes the console form of one message.
func (r *Renderer) Render(m wire.Message) {
	switch m.Tag {
	case wire.TagHello:
		r.hello(m)
	case wire.TagPrompt:
		r.prompt(m)
	case wire.TagRead:
		// Reader acknowledgements are machine bookkeeping, not output.
	case wire.TagStartedEval:
		fmt.Fprintf(r.w, "%s\n", DimStyle.Render(fmt.Sprintf("[%s] running", label(m))))
	case wire.TagEval:
		fmt.Fprintf(r.w, "%s %s\n",
			DimStyle.Render(fmt.Sprintf("[%s]", label(m))),
			ResultStyle.Render(string(m.Payload)))
	case wire.TagException:
		r.exception(m)
	case wire.TagOut:
		fmt.Fprint(r.w, m.Text)
	case wire.TagErr:
		fmt.Fprint(r.w, StderrStyle.Render(m.Text))
	case wire.TagLog:
		r.log(m)
	case wire.TagBye:
		r.bye(m)
	default:
		r.Note(fmt.Sprintf("unknown message tag %q", m.Tag))
	}
}

// Note writes an advisory line that is not part of the message stream.
func (r *Renderer) Note(text string) {
	fmt.Fprintf(r.w, "%s\n", DimStyle.Render(text))
}

func (r *Renderer) hello(m wire.Message) {
	var p wire.HelloPayload
	if err := m.DecodePayload(&p); err != nil {
		r.Note("malformed hello payload")
		return
	}
	fmt.Fprintf(r.w, "%s %s\n", InfoIcon, InfoStyle.Render("session "+p.Session))
	r.actions(p.Actions)
}

func (r *Renderer) prompt(m wire.Message) {
	var p wire.PromptPayload
	if err := m.DecodePayload(&p); err != nil {
		return
	}
	pos := fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	fmt.Fprintf(r.w, "%s %s ", DimStyle.Render(pos), BoldStyle.Render("=>"))
}

func (r *Renderer) exception(m wire.Message) {
	var p wire.ExceptionPayload
	if err := m.DecodePayload(&p); err != nil {
		r.Note("malformed exception payload")
		return
	}
	head := fmt.Sprintf("[%s] %s error: %s", label(m), p.Phase, p.Message)
	if p.Interrupted {
		head = fmt.Sprintf("[%s] interrupted", label(m))
	}
	fmt.Fprintf(r.w, "%s\n", ErrorStyle.Render(head))
	if p.Stack != "" {
		fmt.Fprintf(r.w, "%s\n", DimStyle.Render(strings.TrimRight(p.Stack, "\n")))
	}
}

func (r *Renderer) log(m wire.Message) {
	var p wire.LogPayload
	if err := m.DecodePayload(&p); err != nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", p.Level, p.Message)
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, p.Fields[k])
	}
	fmt.Fprintf(r.w, "%s\n", DimStyle.Render(b.String()))
}

func (r *Renderer) bye(m wire.Message) {
	var p wire.ByePayload
	if err := m.DecodePayload(&p); err != nil {
		r.Note("malformed bye payload")
		return
	}
	fmt.Fprintf(r.w, "%s %s\n", WarningIcon,
		WarningStyle.Render(fmt.Sprintf("session closed: %s (outs %s)", p.Reason, p.Outs)))
	r.actions(p.Actions)
}

// actions prints an action table, names sorted for stable output.
func (r *Renderer) actions(actions wire.Actions) {
	if len(actions) == 0 {
		return
	}
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)

	tbl := NewTable(r.w, "ACTION", "FORM")
	for _, name := range names {
		tbl.AddRow(name, actions[name])
	}
	tbl.Print()
}

// label is the correlation id of a message: the group id for
// administrative forms, the evaluation id otherwise.
func label(m wire.Message) string {
	if m.Group != "" {
		return m.Group
	}
	return strconv.FormatUint(m.Eval, 10)
}
