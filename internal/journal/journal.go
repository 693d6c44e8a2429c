// Package journal writes a JSON-lines record of what a session sent to the
// tracker and how its state changed.
package journal

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry kinds.
const (
	KindCommand    = "command"
	KindMessage    = "message"
	KindTransition = "transition"
	KindCleanup    = "cleanup"
)

// Entry is a single journal line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Step      string    `json:"step,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Journal writes entries for one session.
type Journal struct {
	mu        sync.Mutex
	sessionID string
	enc       *json.Encoder
	closer    io.Closer
}

// New creates a journal writing to w.
func New(w io.Writer, sessionID string) *Journal {
	return &Journal{sessionID: sessionID, enc: json.NewEncoder(w)}
}

// NewFile creates a journal appending to the file at path, creating it and
// its directory if needed.
func NewFile(path, sessionID string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	j := New(f, sessionID)
	j.closer = f
	return j, nil
}

// Nop returns a journal that discards all entries.
func Nop() *Journal {
	return New(io.Discard, "")
}

// SessionID returns the session the journal belongs to.
func (j *Journal) SessionID() string { return j.sessionID }

// Log writes a single entry as a JSON line.
func (j *Journal) Log(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.SessionID == "" {
		e.SessionID = j.sessionID
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(e)
}

// Command records a command sent to the tracker.
func (j *Journal) Command(cmd string) error {
	return j.Log(Entry{Kind: KindCommand, Text: cmd})
}

// Message records a message written to the recording file.
func (j *Journal) Message(msg string) error {
	return j.Log(Entry{Kind: KindMessage, Text: msg})
}

// Transition records a session state change.
func (j *Journal) Transition(from, to string) error {
	return j.Log(Entry{Kind: KindTransition, From: from, To: to})
}

// Cleanup records the outcome of one shutdown step.
func (j *Journal) Cleanup(step string, err error) error {
	e := Entry{Kind: KindCleanup, Step: step}
	if err != nil {
		e.Error = err.Error()
	}
	return j.Log(e)
}

// Close closes the underlying file, if any.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closer == nil {
		return nil
	}
	err := j.closer.Close()
	j.closer = nil
	return err
}
