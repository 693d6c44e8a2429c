package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coal/gazelink/internal/link"
)

// fakeLink is a scripted hardware link. It records every call in order.
type fakeLink struct {
	mu        sync.Mutex
	ops       []string
	connected bool
	fail      map[string]error
	panics    map[string]bool
	setup     func(ctx context.Context) error
}

func newFakeLink() *fakeLink {
	return &fakeLink{connected: true, fail: map[string]error{}, panics: map[string]bool{}}
}

func (f *fakeLink) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	name, _, _ := strings.Cut(op, " ")
	if f.panics[name] {
		panic(name + " exploded")
	}
	if err, ok := f.fail[op]; ok {
		return err
	}
	return f.fail[name]
}

// failOn fails every call to the named operation, or to one exact op such
// as "raw off".
func (f *fakeLink) failOn(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = err
}

func (f *fakeLink) panicOn(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[name] = true
}

func (f *fakeLink) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeLink) count(name string) int {
	n := 0
	for _, op := range f.calls() {
		if op == name || strings.HasPrefix(op, name+" ") {
			n++
		}
	}
	return n
}

func (f *fakeLink) commands() []string {
	var out []string
	for _, op := range f.calls() {
		if cmd, ok := strings.CutPrefix(op, "cmd "); ok {
			out = append(out, cmd)
		}
	}
	return out
}

func (f *fakeLink) messages() []string {
	var out []string
	for _, op := range f.calls() {
		if msg, ok := strings.CutPrefix(op, "msg "); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeLink) SendCommand(cmd string) error { return f.record("cmd " + cmd) }
func (f *fakeLink) SendMessage(msg string) error { return f.record("msg " + msg) }
func (f *fakeLink) SetOfflineMode() error        { return f.record("offline") }

func (f *fakeLink) StartRecording(flags link.RecordFlags) error {
	op := "start_recording"
	if flags.LinkSamples {
		op += " link"
	}
	return f.record(op)
}

func (f *fakeLink) StopRecording() error { return f.record("stop_recording") }

func (f *fakeLink) NewestSample() (link.Sample, error)     { return link.Sample{}, link.ErrNoData }
func (f *fakeLink) NextSample() (link.Sample, error)       { return link.Sample{}, link.ErrNoData }
func (f *fakeLink) NextRawSample() (link.RawSample, error) { return link.RawSample{}, link.ErrNoData }
func (f *fakeLink) NextEvent() (link.GazeEvent, error)     { return link.GazeEvent{}, link.ErrNoData }

func (f *fakeLink) OpenDataFile(name string) error { return f.record("open_file " + name) }
func (f *fakeLink) CloseDataFile() error           { return f.record("close_file") }

func (f *fakeLink) TransferDataFile(remote, local string) (int64, error) {
	if err := f.record("transfer " + remote); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return 0, err
	}
	return 4, os.WriteFile(local, []byte("GZL1"), 0o644)
}

func (f *fakeLink) EnableRawData(enable bool) error {
	if enable {
		return f.record("raw on")
	}
	return f.record("raw off")
}

func (f *fakeLink) BeginRealtimeMode(time.Duration) error { return f.record("realtime on") }
func (f *fakeLink) EndRealtimeMode() error                { return f.record("realtime off") }

func (f *fakeLink) DoTrackerSetup(ctx context.Context, _, _ int) error {
	if err := f.record("setup"); err != nil {
		return err
	}
	if f.setup != nil {
		return f.setup(ctx)
	}
	return nil
}

func (f *fakeLink) TrackerVersion() (int, error)    { return 3, nil }
func (f *fakeLink) EyeAvailable() (link.Eye, error) { return link.EyeLeft, nil }

func (f *fakeLink) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLink) IsDummy() bool { return false }

func (f *fakeLink) Close() error {
	err := f.record("close")
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return err
}

func dialerFor(l link.Link) link.Dialer {
	return func(context.Context, string, link.Options) (link.Link, error) { return l, nil }
}
