package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Console renders frames as text on a writer and turns lines read from a
// reader into key events. An empty line is "return"; "^C" is Ctrl+C; "esc"
// and "escape" are escape; "space" is space; anything else is its first rune.
type Console struct {
	out    io.Writer
	events chan UIEvent
	done   chan struct{}

	mu     sync.Mutex
	back   Frame
	frame  int
	closed bool
}

// NewConsole creates a console display. Out defaults to stdout and In to
// stdin.
func NewConsole(cfg Config) *Console {
	out, in := cfg.Out, cfg.In
	if out == nil {
		out = os.Stdout
	}
	if in == nil {
		in = os.Stdin
	}
	c := &Console{
		out:    out,
		events: make(chan UIEvent, 64),
		done:   make(chan struct{}),
		back:   Frame{Background: cfg.Background},
	}
	go c.readInput(in)
	return c
}

// readInput runs until the reader is exhausted. A blocked read on stdin
// outlives Close; its events are discarded.
func (c *Console) readInput(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		ev := parseKey(scanner.Text())
		select {
		case c.events <- ev:
		case <-c.done:
			return
		default:
			// queue full, drop
		}
	}
}

func parseKey(line string) UIEvent {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return UIEvent{Kind: KeyDown, Key: "return"}
	case "^c", "ctrl+c":
		return UIEvent{Kind: KeyDown, Key: "c", Ctrl: true}
	case "esc", "escape":
		return UIEvent{Kind: KeyDown, Key: "escape"}
	case "space":
		return UIEvent{Kind: KeyDown, Key: "space"}
	case "quit":
		return UIEvent{Kind: Quit}
	}
	return UIEvent{Kind: KeyDown, Key: strings.ToLower(string([]rune(line)[0]))}
}

func (c *Console) Fill(col Color) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.back = Frame{Background: col}
}

func (c *Console) DrawText(text string, opts TextOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.back.Texts = append(c.back.Texts, Text{Text: text, Options: opts})
}

func (c *Console) Flip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.frame++
	var b strings.Builder
	fmt.Fprintf(&b, "--- frame %d [%s] ---\n", c.frame, c.back.Background)
	for _, t := range c.back.Texts {
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	_, err := io.WriteString(c.out, b.String())
	return err
}

func (c *Console) Events() []UIEvent {
	var out []UIEvent
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}
