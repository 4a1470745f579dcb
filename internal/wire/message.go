// Package wire defines the tagged message protocol remux speaks: a stream
// of self-describing JSON literals, one per line, each carrying a tag and
// an optional correlation id tying it to the evaluation that produced it.
package wire

import "encoding/json"

// Tag identifies the kind of a wire message.
type Tag string

// The fixed message taxonomy.
const (
	TagHello       Tag = "hello"
	TagPrompt      Tag = "prompt"
	TagRead        Tag = "read"
	TagStartedEval Tag = "started-eval"
	TagEval        Tag = "eval"
	TagException   Tag = "exception"
	TagLog         Tag = "log"
	TagOut         Tag = "out"
	TagErr         Tag = "err"
	TagBye         Tag = "bye"
)

// Phase names the processing stage an error belongs to, so clients can
// tell malformed input from a faulted computation from a result that
// could not be serialized.
type Phase string

const (
	PhaseRead  Phase = "read"
	PhaseEval  Phase = "eval"
	PhasePrint Phase = "print"
)

// Outs reports whether a closed session's output still flows anywhere.
const (
	OutsMuted = "muted"
	OutsOpen  = "open"
)

// Actions maps an action name to a literal, re-invocable request: the
// client sends the descriptor text back verbatim (filling any <angle>
// placeholders) to trigger the action.
type Actions map[string]string

// Message is one line on the wire.
type Message struct {
	Tag Tag `json:"tag"`

	// Eval correlates the message with an evaluation id. Ids start at 1;
	// zero means uncorrelated.
	Eval uint64 `json:"eval,omitempty"`

	// Group is a secondary correlation id for administrative forms, which
	// do not consume an evaluation id.
	Group string `json:"group,omitempty"`

	// Text carries raw out/err text.
	Text string `json:"text,omitempty"`

	// Payload carries the structural payload for every other tag.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload announces a session and its administrative actions.
type HelloPayload struct {
	Session string  `json:"session"`
	Actions Actions `json:"actions,omitempty"`
}

// PromptPayload reports the reader position and the session's prompt
// variables before each form is read.
type PromptPayload struct {
	File   string         `json:"file"`
	Line   int            `json:"line"`
	Column int            `json:"column"`
	Offset int64          `json:"offset"`
	Vars   map[string]any `json:"vars,omitempty"`
}

// ReadPayload reports the source span of a form just read, correlated
// with the evaluation id about to use it.
type ReadPayload struct {
	From   [2]int `json:"from"`
	To     [2]int `json:"to"`
	Offset int64  `json:"offset"`
	Len    int    `json:"len"`
}

// StartedEvalPayload carries the actions applicable to a running
// evaluation.
type StartedEvalPayload struct {
	Actions Actions `json:"actions,omitempty"`
}

// ExceptionPayload describes a phase-tagged failure.
type ExceptionPayload struct {
	Phase       Phase  `json:"phase"`
	Type        string `json:"type,omitempty"`
	Message     string `json:"message"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Stack       string `json:"stack,omitempty"`
}

// LogPayload is a forwarded server log record.
type LogPayload struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// ByePayload closes a session, naming the reason and offering output
// reattachment to a later connection.
type ByePayload struct {
	Reason  string  `json:"reason"`
	Outs    string  `json:"outs"`
	Actions Actions `json:"actions,omitempty"`
}

// marshalPayload encodes payload structs defined in this package. They
// contain only marshalable fields, so an error here is a programming
// bug surfaced as an empty payload rather than a panic in the hot path.
func marshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// NewHello builds a hello message.
func NewHello(session string, actions Actions) Message {
	return Message{
		Tag:     TagHello,
		Payload: marshalPayload(HelloPayload{Session: session, Actions: actions}),
	}
}

// NewPrompt builds a prompt message.
func NewPrompt(p PromptPayload) Message {
	return Message{Tag: TagPrompt, Payload: marshalPayload(p)}
}

// NewRead builds a read message for an evaluation id.
func NewRead(evalID uint64, p ReadPayload) Message {
	return Message{Tag: TagRead, Eval: evalID, Payload: marshalPayload(p)}
}

// NewStartedEval builds a started-eval message for an evaluation id.
func NewStartedEval(evalID uint64, actions Actions) Message {
	return Message{
		Tag:     TagStartedEval,
		Eval:    evalID,
		Payload: marshalPayload(StartedEvalPayload{Actions: actions}),
	}
}

// NewEval builds an eval result message. literal is the rendered value,
// already encoded (it may embed elision placeholders).
func NewEval(evalID uint64, literal json.RawMessage) Message {
	return Message{Tag: TagEval, Eval: evalID, Payload: literal}
}

// NewGroupEval builds an eval result message for an administrative form,
// correlated by group id instead of an evaluation id.
func NewGroupEval(group string, literal json.RawMessage) Message {
	return Message{Tag: TagEval, Group: group, Payload: literal}
}

// NewException builds an exception message correlated with an evaluation.
func NewException(evalID uint64, p ExceptionPayload) Message {
	return Message{Tag: TagException, Eval: evalID, Payload: marshalPayload(p)}
}

// NewGroupException builds an exception message for an administrative form.
func NewGroupException(group string, p ExceptionPayload) Message {
	return Message{Tag: TagException, Group: group, Payload: marshalPayload(p)}
}

// NewOut builds an out message carrying buffered stdout text.
func NewOut(evalID uint64, group, text string) Message {
	return Message{Tag: TagOut, Eval: evalID, Group: group, Text: text}
}

// NewErr builds an err message carrying buffered stderr text.
func NewErr(evalID uint64, group, text string) Message {
	return Message{Tag: TagErr, Eval: evalID, Group: group, Text: text}
}

// NewLog builds a log message; evalID of zero means session-wide.
func NewLog(evalID uint64, p LogPayload) Message {
	return Message{Tag: TagLog, Eval: evalID, Payload: marshalPayload(p)}
}

// NewBye builds a bye message.
func NewBye(p ByePayload) Message {
	return Message{Tag: TagBye, Payload: marshalPayload(p)}
}

// DecodePayload unmarshals the message payload into out.
func (m Message) DecodePayload(out any) error {
	return json.Unmarshal(m.Payload, out)
}
