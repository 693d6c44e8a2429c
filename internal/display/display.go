// Package display defines the drawing surface the session renders calibration
// notes and trial screens on, and a registry of backends chosen by name.
package display

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Color is an 8-bit RGBA colour.
type Color struct {
	R, G, B, A uint8
}

// RGB builds an opaque colour from integer channels, clamped to 0-255.
func RGB(r, g, b int) Color {
	return Color{R: clamp(r), G: clamp(g), B: clamp(b), A: 255}
}

func clamp(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

func (c Color) String() string {
	return fmt.Sprintf("rgba(%d,%d,%d,%d)", c.R, c.G, c.B, c.A)
}

var (
	Black = Color{A: 255}
	White = Color{R: 255, G: 255, B: 255, A: 255}
	Gray  = Color{R: 128, G: 128, B: 128, A: 255}
)

// TextOptions positions and styles a line of text. X and Y are pixel offsets
// from the screen centre.
type TextOptions struct {
	X, Y  int
	Size  int
	Color Color
}

// EventKind classifies a UI event.
type EventKind int

const (
	KeyDown EventKind = iota
	MouseDown
	Quit
)

// UIEvent is one input event from the display.
type UIEvent struct {
	Kind EventKind
	// Key is a lower-case key name such as "a", "space", "return" or "escape".
	Key  string
	Ctrl bool
}

// IsInterrupt reports whether the event asks the program to stop: Ctrl+C or a
// window close.
func (e UIEvent) IsInterrupt() bool {
	return e.Kind == Quit || (e.Kind == KeyDown && e.Ctrl && e.Key == "c")
}

// IsEscape reports whether the escape key was pressed.
func (e UIEvent) IsEscape() bool {
	return e.Kind == KeyDown && e.Key == "escape"
}

// Display is a drawing surface. Implementations are used from one goroutine.
type Display interface {
	// Fill clears the back buffer with a colour.
	Fill(Color)
	// DrawText draws a line of text into the back buffer.
	DrawText(text string, opts TextOptions)
	// Flip presents the back buffer.
	Flip() error
	// Events returns and clears the pending UI events. It never blocks.
	Events() []UIEvent
	Close() error
}

// Config is passed to a backend factory.
type Config struct {
	Width, Height int
	Background    Color
	Fullscreen    bool
	// Out and In are used by terminal backends.
	Out    io.Writer
	In     io.Reader
	Logger zerolog.Logger
}

// Factory creates a Display.
type Factory func(Config) (Display, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates a display with the named backend.
func Open(name string, cfg Config) (Display, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown display backend %q (available: %s)", name, strings.Join(Backends(), ", "))
	}
	d, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s display: %w", name, err)
	}
	cfg.Logger.Debug().Str("backend", name).Int("width", cfg.Width).Int("height", cfg.Height).Msg("display opened")
	return d, nil
}

func init() {
	Register("headless", func(cfg Config) (Display, error) { return NewHeadless(cfg), nil })
	Register("console", func(cfg Config) (Display, error) { return NewConsole(cfg), nil })
}
