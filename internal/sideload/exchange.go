// Package sideload implements the synchronous request/response
// sub-protocol for on-demand code and resource loading. During an
// evaluation the loading collaborator may ask the client for bytes it
// does not have locally: the server emits a bare [kind, name] tuple on
// the session's output stream and the client's next non-blank input line
// must be the response, base64 text for the bytes or null for "not
// available". Blank lines are skipped, so a client that terminates its
// forms with newlines needs no special framing.
//
// The exchange deliberately has no timeout: a non-responding client
// stalls the requesting evaluation indefinitely. Session teardown closes
// the underlying stream, which unblocks a stalled request with an error.
package sideload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/wire"
)

// ErrClosed reports a request against a closed exchange.
var ErrClosed = errors.New("side loader closed")

// LineReader pulls one line from session input. The session's tracking
// reader implements it, so side-loader responses flow through the same
// cursor as ordinary forms.
type LineReader interface {
	ReadLine() (string, error)
}

// Exchange serializes side-loader requests over a single duplex stream.
// The stream can carry only one outstanding request at a time, so
// concurrent callers queue on the mutex rather than interleave.
type Exchange struct {
	mu     sync.Mutex
	sink   wire.StreamSink
	in     LineReader
	log    logger.Logger
	closed atomic.Bool
}

// New creates an Exchange over the session's sink and input reader.
func New(sink wire.StreamSink, in LineReader, log logger.Logger) *Exchange {
	if log == nil {
		log = logger.Nop()
	}
	return &Exchange{sink: sink, in: in, log: log}
}

// Request asks the client for the named resource. It returns the decoded
// bytes, or ok=false when the client answered that it has nothing. The
// whole emit-then-read exchange is one critical section.
func (e *Exchange) Request(kind, name string) ([]byte, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil, false, ErrClosed
	}

	if err := e.sink.SendValue([2]string{kind, name}); err != nil {
		return nil, false, fmt.Errorf("failed to send side-load request: %w", err)
	}

	line, err := e.in.ReadLine()
	for err == nil && strings.TrimSpace(line) == "" {
		line, err = e.in.ReadLine()
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read side-load response: %w", err)
	}
	e.log.Debug("side-load response received", "kind", kind, "name", name, "bytes", len(line))
	return decodeResponse(line)
}

// Close fails all future requests. An in-flight request is unblocked by
// the owning session closing its input stream, not by Close itself.
func (e *Exchange) Close() {
	e.closed.Store(true)
}

func decodeResponse(line string) ([]byte, bool, error) {
	var value any
	if err := json.Unmarshal([]byte(line), &value); err != nil {
		return nil, false, fmt.Errorf("malformed side-load response: %w", err)
	}

	switch v := value.(type) {
	case nil:
		return nil, false, nil
	case string:
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, false, fmt.Errorf("side-load response is not valid base64: %w", err)
		}
		return data, true, nil
	default:
		return nil, false, fmt.Errorf("side-load response must be a string or null, got %T", v)
	}
}
