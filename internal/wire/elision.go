package wire

import (
	"encoding/json"
	"fmt"
)

// ElisionKey is the single key of an elision placeholder object. A
// rendered literal containing {"..": "G__42"} stands for an omitted
// fragment whose id can be fetched from the elision store while the
// value survives.
const ElisionKey = ".."

// Elision renders a placeholder literal for id.
func Elision(id string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{ElisionKey: id})
	return data
}

// AsElision reports whether raw is an elision placeholder and returns
// its id. Only a single-key object with the elision key qualifies, so
// ordinary maps never alias placeholders by accident.
func AsElision(raw json.RawMessage) (string, bool) {
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	if len(obj) != 1 {
		return "", false
	}
	id, ok := obj[ElisionKey]
	return id, ok
}

// TruncatedString renders the placeholder form of an over-budget string:
// the kept prefix plus an elision id fetching the full value.
func TruncatedString(head, id string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"head": head, ElisionKey: id})
	return data
}

// String returns a compact human-readable rendering for logs.
func (m Message) String() string {
	switch m.Tag {
	case TagOut, TagErr:
		return fmt.Sprintf("%s[%d] %q", m.Tag, m.Eval, m.Text)
	default:
		return fmt.Sprintf("%s[%d] %s", m.Tag, m.Eval, string(m.Payload))
	}
}
