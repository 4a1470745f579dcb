package outbox

import (
	"sync"
	"time"
	"weak"

	"github.com/aki/remux/internal/logger"
)

// DefaultFlushInterval bounds output latency when no interval is
// configured.
const DefaultFlushInterval = 50 * time.Millisecond

// Scheduler periodically flushes every live registered channel. The
// registry holds weak pointers: a channel that nothing else references
// anymore stops being flushed and is swept from the registry on the next
// pass, so completed evaluations never leak their channels.
type Scheduler struct {
	period time.Duration
	log    logger.Logger

	mu    sync.Mutex
	chans []weak.Pointer[Channel]

	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a Scheduler and starts its flush goroutine.
// A non-positive period falls back to DefaultFlushInterval.
func NewScheduler(period time.Duration, log logger.Logger) *Scheduler {
	if period <= 0 {
		period = DefaultFlushInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Scheduler{
		period: period,
		log:    log,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Register adds ch to the flush rotation. The scheduler keeps only a
// weak reference; the caller owns the channel's lifetime.
func (s *Scheduler) Register(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chans = append(s.chans, weak.Make(ch))
}

// Close stops the flush goroutine. Registered channels are left as they
// are; owners still flush explicitly.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flushAll()
		case <-s.done:
			return
		}
	}
}

// flushAll flushes live channels and compacts away collected ones.
func (s *Scheduler) flushAll() {
	s.mu.Lock()
	live := s.chans[:0]
	targets := make([]*Channel, 0, len(s.chans))
	for _, ref := range s.chans {
		if ch := ref.Value(); ch != nil {
			live = append(live, ref)
			targets = append(targets, ch)
		}
	}
	s.chans = live
	s.mu.Unlock()

	for _, ch := range targets {
		if err := ch.Flush(); err != nil {
			s.log.Debug("scheduled flush failed", "error", err)
		}
	}
}

// live reports how many registered channels are still reachable.
func (s *Scheduler) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ref := range s.chans {
		if ref.Value() != nil {
			n++
		}
	}
	return n
}
