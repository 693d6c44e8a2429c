package acquisition

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/coal/gazelink/internal/link"
)

// EventSource is the part of the tracker link the EventProcessor reads from.
type EventSource interface {
	NextEvent() (link.GazeEvent, error)
}

// EventProcessorConfig configures an EventProcessor.
type EventProcessorConfig struct {
	BufferLength int
	PollInterval time.Duration
	JoinTimeout  time.Duration
}

// EventProcessor polls discrete gaze events from the link into a ring buffer.
// It follows the same start/stop contract as DataBuffer.
type EventProcessor struct {
	logger zerolog.Logger
	events *poller[link.GazeEvent]
}

// NewEventProcessor creates an idle EventProcessor.
func NewEventProcessor(src EventSource, cfg EventProcessorConfig, logger zerolog.Logger) *EventProcessor {
	logger = logger.With().Str("component", "event-processor").Logger()
	p := newPoller[link.GazeEvent]("events", cfg.BufferLength, cfg.PollInterval, cfg.JoinTimeout, logger)
	p.fetch = src.NextEvent
	p.drain = true
	return &EventProcessor{logger: logger, events: p}
}

// AddObserver registers fn to be called from the event goroutine for every
// event. fn must return quickly.
func (e *EventProcessor) AddObserver(fn func(link.GazeEvent)) {
	e.events.addObserver(fn)
}

// Start starts the event goroutine.
func (e *EventProcessor) Start() {
	if !e.events.start() {
		e.logger.Warn().Msg("event polling already running")
		return
	}
	e.logger.Info().Msg("event polling started")
}

// Stop stops the event goroutine and waits for it to exit.
func (e *EventProcessor) Stop() error {
	return e.events.stopAndJoin()
}

// Shutdown is Stop; it exists so the session can treat both acquisition
// components alike.
func (e *EventProcessor) Shutdown() error {
	return e.Stop()
}

// Running reports whether the event goroutine is alive.
func (e *EventProcessor) Running() bool { return e.events.running() }

// Latest returns the most recent event.
func (e *EventProcessor) Latest() (link.GazeEvent, bool) {
	return e.events.buf.Latest()
}

// Events returns the buffered events, oldest first.
func (e *EventProcessor) Events() []link.GazeEvent {
	return e.events.buf.Snapshot()
}

// Stats reports the goroutine's counters.
func (e *EventProcessor) Stats() Stats {
	return e.events.stats()
}
