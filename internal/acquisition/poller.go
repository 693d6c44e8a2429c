// Package acquisition drains samples and gaze events from the tracker link
// into ring buffers on background goroutines.
package acquisition

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coal/gazelink/internal/link"
	"github.com/coal/gazelink/internal/ringbuffer"
)

const (
	// DefaultPollInterval is the pause between fetch rounds.
	DefaultPollInterval = time.Millisecond
	// DefaultJoinTimeout bounds how long Stop waits for a goroutine to exit.
	DefaultJoinTimeout = time.Second

	// sustainedFailures is the run of consecutive fetch errors reported as a
	// warning when the goroutine is stopped.
	sustainedFailures = 10
)

// ErrJoinTimeout is returned when a polling goroutine does not exit within
// the join timeout.
var ErrJoinTimeout = errors.New("polling goroutine did not exit in time")

// FetchMode selects how samples are pulled from the link.
type FetchMode int

const (
	// FetchBuffered drains the link-side queue on every poll, so no sample
	// is skipped.
	FetchBuffered FetchMode = iota
	// FetchNewest takes only the most recent sample on every poll. Samples
	// produced between two polls are dropped.
	FetchNewest
)

func (m FetchMode) String() string {
	if m == FetchNewest {
		return "newest"
	}
	return "buffered"
}

// Stats counts the activity of one polling goroutine.
type Stats struct {
	Fetched             uint64 `json:"fetched"`
	Stored              uint64 `json:"stored"`
	Empty               uint64 `json:"empty"`
	Failures            uint64 `json:"failures"`
	ConsecutiveFailures uint64 `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

// poller runs one fetch loop into one ring buffer.
type poller[T any] struct {
	name        string
	fetch       func() (T, error)
	accept      func(T) bool
	drain       bool
	interval    time.Duration
	joinTimeout time.Duration
	buf         *ringbuffer.Buffer[T]
	logger      zerolog.Logger

	observerMu sync.RWMutex
	observers  []func(T)

	// lifecycle is serialized so a start cannot race a stop that is still
	// joining.
	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}

	fetched     atomic.Uint64
	stored      atomic.Uint64
	empty       atomic.Uint64
	failures    atomic.Uint64
	consecutive atomic.Uint64
	lastErr     atomic.Pointer[string]
}

func newPoller[T any](name string, capacity int, interval, joinTimeout time.Duration, logger zerolog.Logger) *poller[T] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if joinTimeout <= 0 {
		joinTimeout = DefaultJoinTimeout
	}
	return &poller[T]{
		name:        name,
		interval:    interval,
		joinTimeout: joinTimeout,
		buf:         ringbuffer.New[T](capacity),
		logger:      logger.With().Str("poller", name).Logger(),
	}
}

func (p *poller[T]) addObserver(fn func(T)) {
	p.observerMu.Lock()
	defer p.observerMu.Unlock()
	p.observers = append(p.observers, fn)
}

// start launches the loop. It returns false if the loop is already running.
func (p *poller[T]) start() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.runningLocked() {
		return false
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.consecutive.Store(0)
	go p.run(p.stop, p.done)
	p.logger.Debug().Msg("polling started")
	return true
}

// stopAndJoin signals the loop and waits for it to exit. Stopping an idle
// poller is a no-op.
func (p *poller[T]) stopAndJoin() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.stop == nil {
		return nil
	}
	close(p.stop)
	p.stop = nil

	timer := time.NewTimer(p.joinTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		p.logger.Error().Dur("timeout", p.joinTimeout).Msg("polling goroutine did not exit")
		return fmt.Errorf("%s: %w", p.name, ErrJoinTimeout)
	}

	if n := p.consecutive.Load(); n >= sustainedFailures {
		ev := p.logger.Warn().Uint64("consecutive_failures", n)
		if last := p.lastErr.Load(); last != nil {
			ev = ev.Str("last_error", *last)
		}
		ev.Msg("link fetches were failing when polling stopped")
	}
	p.logger.Debug().Uint64("stored", p.stored.Load()).Msg("polling stopped")
	return nil
}

func (p *poller[T]) running() bool {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	return p.runningLocked()
}

func (p *poller[T]) runningLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *poller[T]) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(stop)

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// poll performs one fetch round: a single fetch, or a drain until the link
// reports no data.
func (p *poller[T]) poll(stop <-chan struct{}) {
	for {
		if !p.fetchOnce() || !p.drain {
			return
		}
		select {
		case <-stop:
			return
		default:
		}
	}
}

// fetchOnce fetches and stores one item. It reports whether an item was
// stored. Link errors and panics never escape the goroutine.
func (p *poller[T]) fetchOnce() (stored bool) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Errorf("panic: %v", r))
			stored = false
		}
	}()

	item, err := p.fetch()
	if err != nil {
		if errors.Is(err, link.ErrNoData) {
			p.empty.Add(1)
			p.consecutive.Store(0)
			return false
		}
		p.fail(err)
		return false
	}
	p.fetched.Add(1)
	p.consecutive.Store(0)

	if p.accept != nil && !p.accept(item) {
		return false
	}
	p.buf.Push(item)
	p.stored.Add(1)

	p.observerMu.RLock()
	observers := p.observers
	p.observerMu.RUnlock()
	for _, fn := range observers {
		fn(item)
	}
	return true
}

func (p *poller[T]) fail(err error) {
	p.failures.Add(1)
	p.consecutive.Add(1)
	msg := err.Error()
	p.lastErr.Store(&msg)
	p.logger.Debug().Err(err).Msg("fetch failed")
}

func (p *poller[T]) stats() Stats {
	s := Stats{
		Fetched:             p.fetched.Load(),
		Stored:              p.stored.Load(),
		Empty:               p.empty.Load(),
		Failures:            p.failures.Load(),
		ConsecutiveFailures: p.consecutive.Load(),
	}
	if last := p.lastErr.Load(); last != nil {
		s.LastError = *last
	}
	return s
}
