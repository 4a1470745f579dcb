// Package session implements the engine core: the session and its
// registry, the evaluation controller, and the per-connection driver
// loop that ties reader, evaluator and printer together.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/sideload"
	"github.com/aki/remux/internal/wire"
)

// LogMode selects which engine events a session forwards to its client
// as log messages.
type LogMode int32

const (
	// LogOff forwards nothing.
	LogOff LogMode = iota
	// LogEval forwards evaluation-scoped events only.
	LogEval
	// LogAll forwards everything, including session-wide events.
	LogAll
)

// sinkState is a session's output destination plus its mute flag. The
// whole value is replaced atomically so reattachment never observes a
// half-updated cell.
type sinkState struct {
	sink  wire.StreamSink
	muted bool
}

// Session is one live evaluation context: an identity, a dynamic-binding
// snapshot, an evaluator with its own root environment, and two atomic
// cells (output sink, side-loader) that out-of-band operations may swap
// while the driver runs. All other state is mutated only through the
// session's own driver goroutine and the controller.
type Session struct {
	ID        string
	CreatedAt time.Time

	log   logger.Logger
	eval  lang.Evaluator
	print lang.Printer

	sink     atomic.Pointer[sinkState]
	loader   atomic.Pointer[sideload.Exchange]
	evalSeq  atomic.Uint64
	groupSeq atomic.Uint64
	logMode  atomic.Int32

	mu       sync.Mutex
	bindings lang.Bindings
	current  *Evaluation
	closed   bool
	closedAt time.Time
}

func newSession(id string, eval lang.Evaluator, print lang.Printer, bindings lang.Bindings, log logger.Logger) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		log:       log.With("session", id),
		eval:      eval,
		print:     print,
		bindings:  bindings,
	}
}

// Evaluator returns the session's evaluator collaborator.
func (s *Session) Evaluator() lang.Evaluator { return s.eval }

// Printer returns the session's printer collaborator.
func (s *Session) Printer() lang.Printer { return s.print }

// NextEvalID allocates the next evaluation correlation id.
func (s *Session) NextEvalID() uint64 { return s.evalSeq.Add(1) }

// NextGroupID allocates a correlation id for an administrative form.
func (s *Session) NextGroupID() string {
	return fmt.Sprintf("raw-%d", s.groupSeq.Add(1))
}

// Send writes a message to the session's current sink. A muted or
// never-attached session drops the message: output of detached work on
// an abandoned session goes nowhere until a client reattaches.
func (s *Session) Send(m wire.Message) error {
	st := s.sink.Load()
	if st == nil || st.muted {
		return nil
	}
	return st.sink.Send(m)
}

// SendValue writes a bare structural value to the current sink. The
// side-loader sub-protocol uses it for its request tuples.
func (s *Session) SendValue(v any) error {
	st := s.sink.Load()
	if st == nil || st.muted {
		return nil
	}
	return st.sink.SendValue(v)
}

// AttachSink rebinds the session's output to sink and unmutes it.
func (s *Session) AttachSink(sink wire.StreamSink) {
	s.sink.Store(&sinkState{sink: sink})
}

// DetachSink mutes the session's output if it still flows to sink, and
// reports the resulting disposition: wire.OutsMuted when this call muted
// it, wire.OutsOpen when another connection had already adopted the
// output.
func (s *Session) DetachSink(sink wire.StreamSink) string {
	st := s.sink.Load()
	if st == nil || st.sink != sink {
		return wire.OutsOpen
	}
	s.sink.Store(&sinkState{sink: st.sink, muted: true})
	return wire.OutsMuted
}

// Loader returns the installed side-loader exchange, or nil.
func (s *Session) Loader() *sideload.Exchange {
	return s.loader.Load()
}

// SetLoader installs the side-loader exchange.
func (s *Session) SetLoader(ex *sideload.Exchange) {
	s.loader.Store(ex)
}

// Snapshot returns a copy of the session's dynamic bindings.
func (s *Session) Snapshot() lang.Bindings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings.Clone()
}

// absorb merges the binding changes an evaluation made back into the
// session: everything that differs from the pre-evaluation snapshot,
// except the engine-managed output writers, which are rebound per
// evaluation and must not leak a dead channel into session state.
func (s *Session) absorb(before, after lang.Bindings) {
	delta := lang.Diff(before, after)
	delete(delta, lang.BindingOut)
	delete(delta, lang.BindingErr)
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	s.bindings.Merge(delta)
	s.mu.Unlock()
}

// Limits reads the session's current print limits from its bindings.
func (s *Session) Limits() lang.Limits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lang.Limits{
		Length: intBinding(s.bindings, lang.BindingPrintLength),
		Depth:  intBinding(s.bindings, lang.BindingPrintDepth),
		Text:   intBinding(s.bindings, lang.BindingPrintText),
	}
}

// SetLimits overwrites the sequence-length and depth print limits.
func (s *Session) SetLimits(length, depth int) {
	s.mu.Lock()
	s.bindings[lang.BindingPrintLength] = float64(length)
	s.bindings[lang.BindingPrintDepth] = float64(depth)
	s.mu.Unlock()
}

// PromptVars returns the dynamic bindings reported with each prompt.
// The output writers are engine plumbing, not context, and are skipped.
func (s *Session) PromptVars() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars := make(map[string]any, len(s.bindings))
	for k, v := range s.bindings {
		if k == lang.BindingOut || k == lang.BindingErr {
			continue
		}
		vars[k] = v
	}
	return vars
}

// setCurrent records ev as the session's active evaluation.
func (s *Session) setCurrent(ev *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.current != nil {
		return fmt.Errorf("%w: evaluation %d", ErrBusy, s.current.ID)
	}
	s.current = ev
	return nil
}

// clearCurrent resets the active evaluation if it is still ev.
func (s *Session) clearCurrent(ev *Evaluation) {
	s.mu.Lock()
	if s.current == ev {
		s.current = nil
	}
	s.mu.Unlock()
}

// Current returns the active evaluation, or nil.
func (s *Session) Current() *Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetLogMode selects the session's log forwarding level.
func (s *Session) SetLogMode(mode LogMode) {
	s.logMode.Store(int32(mode))
}

// Mode returns the session's log forwarding level.
func (s *Session) Mode() LogMode {
	return LogMode(s.logMode.Load())
}

// Forward sends an engine event to the client as a log message, subject
// to the session's log mode. evalID of zero marks a session-wide event,
// forwarded only under LogAll.
func (s *Session) Forward(evalID uint64, level, msg string, fields map[string]any) {
	switch s.Mode() {
	case LogOff:
		return
	case LogEval:
		if evalID == 0 {
			return
		}
	}
	if err := s.Send(wire.NewLog(evalID, wire.LogPayload{Level: level, Message: msg, Fields: fields})); err != nil {
		s.log.Debug("log forward failed", "error", err)
	}
}

// Mute drops the session's output unconditionally.
func (s *Session) Mute() {
	if st := s.sink.Load(); st != nil && !st.muted {
		s.sink.Store(&sinkState{sink: st.sink, muted: true})
	}
}

// Close moves the session to its terminal state: the active evaluation
// is cancelled (cooperatively) and the side-loader stops accepting
// requests. The sink is left as it stands: a connection that adopted
// this session's output keeps receiving what detached work still
// writes. The registry decides how long a closed session stays
// resolvable for reattachment.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closedAt = time.Now()
	ev := s.current
	s.mu.Unlock()

	if ev != nil {
		ev.Cancel()
	}
	if ex := s.loader.Load(); ex != nil {
		ex.Close()
	}
	s.log.Debug("session closed")
}

// Closed reports whether the session reached its terminal state.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ClosedAt returns when the session closed.
func (s *Session) ClosedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedAt, s.closed
}

// Evals returns how many evaluation ids the session has allocated.
func (s *Session) Evals() uint64 {
	return s.evalSeq.Load()
}

func intBinding(b lang.Bindings, name string) int {
	if f, ok := b[name].(float64); ok {
		return int(f)
	}
	return 0
}
