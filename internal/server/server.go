// Package server accepts client connections and runs one session driver
// per connection. The listener speaks TCP or a unix socket depending on
// the configured address, and a lock file keeps two servers from
// claiming the same address.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/aki/remux/internal/config"
	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/outbox"
	"github.com/aki/remux/internal/session"
	"github.com/aki/remux/internal/wire"
)

// ErrLocked is returned when another server already holds the address
// lock file.
var ErrLocked = errors.New("lock held by another server")

// Server owns the listener and the set of live connections.
type Server struct {
	cfg      config.ServerConfig
	registry *session.Registry
	ctrl     *session.Controller
	sched    *outbox.Scheduler
	log      logger.Logger

	lock     *flock.Flock
	listener net.Listener
	socket   string

	mu     sync.Mutex
	conns  map[net.Conn]context.CancelFunc
	closed bool

	wg sync.WaitGroup
}

// New creates a server over an already-wired engine core.
func New(cfg config.ServerConfig, registry *session.Registry, ctrl *session.Controller, sched *outbox.Scheduler, log logger.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		ctrl:     ctrl,
		sched:    sched,
		log:      log,
		conns:    make(map[net.Conn]context.CancelFunc),
	}
}

// Listen acquires the address lock and binds the listener. It is
// separate from Serve so callers can learn the bound address (":0"
// listeners) before the accept loop starts.
func (s *Server) Listen() error {
	lockPath := s.cfg.LockFile
	if lockPath == "" {
		lockPath = defaultLockPath(s.cfg.Addr)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock file %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}
	s.lock = lock

	network, address := SplitAddr(s.cfg.Addr)
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(address), 0o755); err != nil {
			s.releaseLock()
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
		// A stale socket from a crashed server would block the bind; the
		// lock file already proved no live server owns it.
		_ = os.Remove(address)
		s.socket = address
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		s.releaseLock()
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.log.Info("server listening", "addr", ln.Addr().String(), "network", network)
	return nil
}

// Addr returns the bound listener address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Each connection gets its own session and driver goroutine.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		connCtx, cancel := s.track(conn)
		if connCtx == nil {
			conn.Close()
			break
		}
		s.wg.Add(1)
		go s.handleConn(connCtx, cancel, conn)
	}

	s.wg.Wait()
	return nil
}

// track registers a connection for shutdown. It returns a nil context
// when the server is already closing.
func (s *Server) track(conn net.Conn) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.conns[conn] = cancel
	return ctx, cancel
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleConn(ctx context.Context, cancel context.CancelFunc, conn net.Conn) {
	defer s.wg.Done()
	defer cancel()
	defer s.forget(conn)
	defer conn.Close()

	enc := wire.NewEncoder(conn)
	sess := s.registry.Create()
	sess.AttachSink(enc)

	tr := lang.NewTrackingReader(conn, sess.ID)
	d := session.NewDriver(sess, s.registry, s.ctrl, s.sched, tr, enc, s.log)
	s.log.Debug("connection accepted", "remote", conn.RemoteAddr().String(), "session", sess.ID)
	d.Run(ctx)
}

// Close stops accepting, winds down every live connection, and releases
// the address lock. Drivers are nudged awake with a cancelled context
// and an expired read deadline so each can emit its bye before the
// connection closes. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	conns := make(map[net.Conn]context.CancelFunc, len(s.conns))
	for conn, cancel := range s.conns {
		conns[conn] = cancel
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn, cancel := range conns {
		cancel()
		_ = conn.SetReadDeadline(time.Now())
	}
	s.wg.Wait()

	if s.socket != "" {
		_ = os.Remove(s.socket)
	}
	s.releaseLock()
	s.log.Info("server stopped")
	return nil
}

func (s *Server) releaseLock() {
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("failed to release lock file", "error", err)
		}
		s.lock = nil
	}
}

// SplitAddr separates the network from the address: "unix:/path/to.sock"
// selects a unix socket, anything else is a TCP host:port. Clients use
// the same convention to dial.
func SplitAddr(addr string) (network, address string) {
	if rest, ok := strings.CutPrefix(addr, "unix:"); ok {
		return "unix", rest
	}
	return "tcp", addr
}

// defaultLockPath derives a lock file under the temp dir from the
// listen address.
func defaultLockPath(addr string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '-'
		}
	}, addr)
	return filepath.Join(os.TempDir(), "remux-"+sanitized+".lock")
}
