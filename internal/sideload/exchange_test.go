package sideload

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/wire"
)

// pipeSink captures request tuples.
type pipeSink struct {
	mu     sync.Mutex
	tuples []any
}

func (p *pipeSink) Send(m wire.Message) error {
	return nil
}

func (p *pipeSink) SendValue(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tuples = append(p.tuples, v)
	return nil
}

func (p *pipeSink) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tuples)
}

// chanReader serves scripted response lines, blocking until one is fed.
type chanReader struct {
	lines chan string
}

func newChanReader() *chanReader {
	return &chanReader{lines: make(chan string)}
}

func (c *chanReader) ReadLine() (string, error) {
	return <-c.lines, nil
}

func TestRequestRoundTrip(t *testing.T) {
	sink := &pipeSink{}
	in := newChanReader()
	ex := New(sink, in, logger.Nop())

	payload := []byte("(def answer 42)")
	go func() {
		in.lines <- `"` + base64.StdEncoding.EncodeToString(payload) + `"`
	}()

	data, ok, err := ex.Request("resource", "lib/init.lisp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, data)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, [2]string{"resource", "lib/init.lisp"}, sink.tuples[0])
}

func TestRequestAbsent(t *testing.T) {
	sink := &pipeSink{}
	in := newChanReader()
	ex := New(sink, in, logger.Nop())

	t.Run("null response", func(t *testing.T) {
		go func() { in.lines <- "null" }()
		data, ok, err := ex.Request("class", "missing.Thing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, data)
	})

	t.Run("blank lines before the response are skipped", func(t *testing.T) {
		go func() {
			in.lines <- ""
			in.lines <- "  "
			in.lines <- "null"
		}()
		_, ok, err := ex.Request("class", "missing.Thing")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRequestBadResponses(t *testing.T) {
	sink := &pipeSink{}
	in := newChanReader()
	ex := New(sink, in, logger.Nop())

	t.Run("not base64", func(t *testing.T) {
		go func() { in.lines <- `"!!!not-base64!!!"` }()
		_, _, err := ex.Request("resource", "x")
		assert.Error(t, err)
	})

	t.Run("wrong type", func(t *testing.T) {
		go func() { in.lines <- "42" }()
		_, _, err := ex.Request("resource", "x")
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		go func() { in.lines <- "{oops" }()
		_, _, err := ex.Request("resource", "x")
		assert.Error(t, err)
	})
}

func TestConcurrentRequestsSerialize(t *testing.T) {
	sink := &pipeSink{}
	in := newChanReader()
	ex := New(sink, in, logger.Nop())

	resp := `"` + base64.StdEncoding.EncodeToString([]byte("data")) + `"`

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := ex.Request("resource", "shared")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}

	// Only one request tuple may be on the wire before its response is
	// consumed; the second caller must be queued on the critical section.
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "second request must wait for the first response")

	in.lines <- resp
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	in.lines <- resp

	wg.Wait()
}

func TestClosedExchange(t *testing.T) {
	sink := &pipeSink{}
	in := newChanReader()
	ex := New(sink, in, logger.Nop())

	ex.Close()
	_, _, err := ex.Request("resource", "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, sink.count())
}
