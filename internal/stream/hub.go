// Package stream publishes live gaze samples and events to WebSocket clients
// and a small REST API while a session records.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/coal/gazelink/internal/link"
	"github.com/coal/gazelink/internal/ringbuffer"
)

const (
	defaultEventBuffer  = 1000
	defaultSampleBuffer = 2000
	// defaultSampleEvery forwards one in ten samples to WebSocket clients.
	defaultSampleEvery = 10
	writeTimeout       = 2 * time.Second
	// sendQueue is the number of messages a client may lag behind.
	sendQueue = 256
)

// HubOptions sizes the hub buffers. Zero values select defaults.
type HubOptions struct {
	EventBuffer  int
	SampleBuffer int
	// SampleEvery forwards every Nth sample to WebSocket clients. All
	// samples are still buffered and counted.
	SampleEvery int
	// Filter, when set, drops events it does not match from the buffer and
	// the broadcast. Stats still count every event.
	Filter *EventFilter
}

// Hub manages WebSocket clients, gaze broadcasting, and stats.
type Hub struct {
	sessionID   string
	events      *ringbuffer.Buffer[*Event]
	samples     *ringbuffer.Buffer[link.Sample]
	stats       *Stats
	sampleEvery uint64
	filter      *EventFilter
	logger      zerolog.Logger

	eventSeq  atomic.Uint64
	sampleSeq atomic.Uint64
	dropped   atomic.Uint64

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a new stream hub.
func NewHub(sessionID string, opts HubOptions, logger zerolog.Logger) *Hub {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.SampleBuffer <= 0 {
		opts.SampleBuffer = defaultSampleBuffer
	}
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = defaultSampleEvery
	}
	return &Hub{
		sessionID:   sessionID,
		events:      ringbuffer.New[*Event](opts.EventBuffer),
		samples:     ringbuffer.New[link.Sample](opts.SampleBuffer),
		stats:       NewStats(),
		sampleEvery: uint64(opts.SampleEvery),
		filter:      opts.Filter,
		logger:      logger.With().Str("component", "stream").Logger(),
		clients:     make(map[*client]struct{}),
	}
}

// OnSample is the observer callback to register with the data buffer.
func (h *Hub) OnSample(s link.Sample) {
	h.samples.Push(s)
	h.stats.RecordSample(s)

	if h.sampleSeq.Add(1)%h.sampleEvery == 1 || h.sampleEvery == 1 {
		h.broadcast(WSMessage{Type: "sample", Payload: s})
	}
}

// OnEvent is the observer callback to register with the event processor.
func (h *Hub) OnEvent(ev link.GazeEvent) {
	h.stats.RecordEvent(ev)
	if h.filter != nil {
		ok, err := h.filter.Match(ev)
		if err != nil {
			h.logger.Warn().Err(err).Str("filter", h.filter.String()).Msg("event filter failed")
		}
		if !ok {
			return
		}
	}

	event := &Event{
		ID:        fmt.Sprintf("evt-%d", h.eventSeq.Add(1)),
		GazeEvent: ev,
	}

	h.events.Push(event)

	h.broadcast(WSMessage{Type: "event", Payload: event})
}

// client is one WebSocket subscriber. Messages wait in send until the
// client's writer goroutine delivers them.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// register adds a WebSocket client with the initial state queued as its
// first message.
func (h *Hub) register(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, sendQueue)}

	initial := WSMessage{
		Type: "initial_state",
		Payload: InitialState{
			Events:  h.events.Snapshot(),
			Samples: h.samples.Snapshot(),
			Stats:   h.StatsSnapshot(),
		},
	}
	if data, err := json.Marshal(initial); err != nil {
		h.logger.Error().Err(err).Msg("encoding initial state")
	} else {
		c.send <- data
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded because a client's send
// queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// writeLoop delivers queued messages to c until ctx is done or a write fails.
func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug().Err(err).Msg("dropping stream client")
				return
			}
		}
	}
}

// broadcast queues a message for every connected client. It never blocks; a
// client whose queue is full misses the message.
func (h *Hub) broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			if h.dropped.Add(1)%1000 == 1 {
				h.logger.Warn().Uint64("dropped", h.dropped.Load()).Msg("stream client too slow, dropping messages")
			}
		}
	}
}

// StartStatsBroadcast pushes stats snapshots to all clients every interval.
func (h *Hub) StartStatsBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast(WSMessage{Type: "stats_update", Payload: h.StatsSnapshot()})
		}
	}
}

// Events returns the buffered events, oldest first.
func (h *Hub) Events() []*Event {
	return h.events.Snapshot()
}

// Samples returns the most recent n buffered samples, oldest first. n <= 0
// returns all of them.
func (h *Hub) Samples(n int) []link.Sample {
	all := h.samples.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// StatsSnapshot returns a snapshot of accumulated stats.
func (h *Hub) StatsSnapshot() *StatsSnapshot {
	snap := h.stats.Snapshot()
	snap.SessionID = h.sessionID
	return snap
}
