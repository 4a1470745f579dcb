package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aki/remux/internal/config"
	"github.com/aki/remux/internal/elide"
	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/outbox"
	"github.com/aki/remux/internal/session"
	"github.com/aki/remux/internal/wire"
)

func newServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	store, err := elide.NewStore(64, logger.Nop())
	require.NoError(t, err)
	sched := outbox.NewScheduler(10*time.Millisecond, logger.Nop())
	reg := session.NewRegistry(store, lang.Limits{Length: 32, Depth: 8, Text: 140}, 4, logger.Nop())
	ctrl := session.NewController(reg, sched, logger.Nop())
	srv := New(cfg, reg, ctrl, sched, logger.Nop())
	t.Cleanup(func() {
		srv.Close()
		reg.Close()
		sched.Close()
		store.Close()
	})
	return srv
}

func startServer(t *testing.T, cfg config.ServerConfig) (*Server, chan error) {
	t.Helper()
	srv := newServer(t, cfg)
	require.NoError(t, srv.Listen())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background()) }()
	return srv, served
}

func dial(t *testing.T, network, address string) (net.Conn, *wire.Decoder) {
	t.Helper()
	conn, err := net.Dial(network, address)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn, wire.NewDecoder(conn)
}

func readTag(t *testing.T, dec *wire.Decoder, tag wire.Tag) wire.Message {
	t.Helper()
	for {
		m, err := dec.ReadMessage()
		require.NoError(t, err, "waiting for %s", tag)
		if m.Tag == tag {
			return m
		}
	}
}

func TestServeTCP(t *testing.T) {
	srv, _ := startServer(t, config.ServerConfig{
		Addr:     "127.0.0.1:0",
		LockFile: filepath.Join(t.TempDir(), "remux.lock"),
	})

	conn, dec := dial(t, "tcp", srv.Addr().String())

	hello := readTag(t, dec, wire.TagHello)
	var payload wire.HelloPayload
	require.NoError(t, hello.DecodePayload(&payload))
	assert.Regexp(t, `^s-`, payload.Session)
	assert.NotEmpty(t, payload.Actions)

	_, err := conn.Write([]byte("(+ 1 2)\n"))
	require.NoError(t, err)

	read := readTag(t, dec, wire.TagRead)
	assert.Equal(t, uint64(1), read.Eval)
	started := readTag(t, dec, wire.TagStartedEval)
	assert.Equal(t, uint64(1), started.Eval)
	eval := readTag(t, dec, wire.TagEval)
	assert.Equal(t, uint64(1), eval.Eval)
	assert.JSONEq(t, `3`, string(eval.Payload))
}

func TestServeUnixSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "remux.sock")
	srv, _ := startServer(t, config.ServerConfig{
		Addr:     "unix:" + socket,
		LockFile: filepath.Join(t.TempDir(), "remux.lock"),
	})

	_, dec := dial(t, "unix", socket)
	hello := readTag(t, dec, wire.TagHello)
	var payload wire.HelloPayload
	require.NoError(t, hello.DecodePayload(&payload))
	assert.Regexp(t, `^s-`, payload.Session)

	require.NoError(t, srv.Close())
	assert.NoFileExists(t, socket)
}

func TestSessionPerConnection(t *testing.T) {
	srv, _ := startServer(t, config.ServerConfig{
		Addr:     "127.0.0.1:0",
		LockFile: filepath.Join(t.TempDir(), "remux.lock"),
	})

	_, decA := dial(t, "tcp", srv.Addr().String())
	_, decB := dial(t, "tcp", srv.Addr().String())

	var a, b wire.HelloPayload
	require.NoError(t, readTag(t, decA, wire.TagHello).DecodePayload(&a))
	require.NoError(t, readTag(t, decB, wire.TagHello).DecodePayload(&b))
	assert.NotEqual(t, a.Session, b.Session)
}

func TestLockFileConflict(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "remux.lock")

	first := newServer(t, config.ServerConfig{Addr: "127.0.0.1:0", LockFile: lockFile})
	require.NoError(t, first.Listen())

	second := newServer(t, config.ServerConfig{Addr: "127.0.0.1:0", LockFile: lockFile})
	err := second.Listen()
	require.ErrorIs(t, err, ErrLocked)

	// Releasing the first frees the address for the next server.
	require.NoError(t, first.Close())
	require.NoError(t, second.Listen())
}

func TestGracefulShutdown(t *testing.T) {
	srv, served := startServer(t, config.ServerConfig{
		Addr:     "127.0.0.1:0",
		LockFile: filepath.Join(t.TempDir(), "remux.lock"),
	})

	_, dec := dial(t, "tcp", srv.Addr().String())
	readTag(t, dec, wire.TagHello)

	require.NoError(t, srv.Close())

	bye := readTag(t, dec, wire.TagBye)
	var payload wire.ByePayload
	require.NoError(t, bye.DecodePayload(&payload))
	assert.Equal(t, "server shutdown", payload.Reason)
	assert.Equal(t, wire.OutsMuted, payload.Outs)

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after close")
	}
}

func TestSplitAddr(t *testing.T) {
	network, address := SplitAddr("unix:/tmp/remux.sock")
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/tmp/remux.sock", address)

	network, address = SplitAddr("127.0.0.1:7575")
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:7575", address)
}
