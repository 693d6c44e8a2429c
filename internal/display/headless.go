package display

import (
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed display.
var ErrClosed = errors.New("display closed")

// Text is a line of text drawn into a frame.
type Text struct {
	Text    string
	Options TextOptions
}

// Frame is one presented frame.
type Frame struct {
	Background Color
	Texts      []Text
}

// Headless is an in-memory display. It keeps every presented frame and
// returns events queued with Inject, which makes it the backend for tests and
// for machines without a screen.
type Headless struct {
	mu      sync.Mutex
	back    Frame
	frames  []Frame
	pending []UIEvent
	closed  bool
}

// NewHeadless creates a headless display.
func NewHeadless(cfg Config) *Headless {
	return &Headless{back: Frame{Background: cfg.Background}}
}

func (h *Headless) Fill(c Color) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.back = Frame{Background: c}
}

func (h *Headless) DrawText(text string, opts TextOptions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.back.Texts = append(h.back.Texts, Text{Text: text, Options: opts})
}

func (h *Headless) Flip() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	f := h.back
	f.Texts = append([]Text(nil), h.back.Texts...)
	h.frames = append(h.frames, f)
	return nil
}

func (h *Headless) Events() []UIEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev := h.pending
	h.pending = nil
	return ev
}

// Inject queues events for the next Events call. It may be called from any
// goroutine.
func (h *Headless) Inject(events ...UIEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, events...)
}

// Frames returns the presented frames.
func (h *Headless) Frames() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Frame(nil), h.frames...)
}

// LastFrame returns the most recently presented frame.
func (h *Headless) LastFrame() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.frames) == 0 {
		return Frame{}, false
	}
	return h.frames[len(h.frames)-1], true
}

func (h *Headless) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close was called.
func (h *Headless) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
