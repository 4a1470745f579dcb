package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Sink accepts wire messages for delivery to a client. Implementations
// must make each Send atomic with respect to concurrent senders.
type Sink interface {
	Send(m Message) error
}

// StreamSink is a Sink that can also carry bare structural lines, which
// the side-loader sub-protocol uses for its request tuples.
type StreamSink interface {
	Sink
	SendValue(v any) error
}

// Encoder writes one JSON literal per line. The mutex is the single
// serialization point for a connection: concurrent senders never
// interleave bytes mid-line.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an Encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Send encodes m and writes it as one line.
func (e *Encoder) Send(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", m.Tag, err)
	}
	return e.writeLine(data)
}

// SendValue encodes an arbitrary structural value as one line. The
// side-loader uses this for its bare [kind, name] request tuples.
func (e *Encoder) SendValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return e.writeLine(data)
}

func (e *Encoder) writeLine(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}

// Decoder reads one JSON literal per line, the client side of Encoder.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a Decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// ReadMessage reads the next tagged message, skipping blank lines.
func (d *Decoder) ReadMessage() (Message, error) {
	var m Message
	line, err := d.readLine()
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(line, &m); err != nil {
		return m, fmt.Errorf("malformed message line: %w", err)
	}
	return m, nil
}

// ReadValue reads the next line into out.
func (d *Decoder) ReadValue(out any) error {
	line, err := d.readLine()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, out); err != nil {
		return fmt.Errorf("malformed value line: %w", err)
	}
	return nil
}

func (d *Decoder) readLine() ([]byte, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read line: %w", err)
		}
	}
}
