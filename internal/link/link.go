// Package link defines the tracker link capability the rest of gazelink is
// written against, and ships a simulated link for dummy mode.
//
// The vendor SDK is opaque: a hardware driver registers itself with
// RegisterDriver and is selected by Dial for any address other than "dummy".
package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoData is returned by the fetch methods when the link has nothing new.
// It is transient: callers keep polling.
var ErrNoData = errors.New("no data available")

// ErrNoDriver is returned by Dial when no hardware driver is registered.
var ErrNoDriver = errors.New("no tracker driver registered")

// ErrClosed is returned by operations on a closed link.
var ErrClosed = errors.New("link closed")

// DummyAddress selects the simulated link.
const DummyAddress = "dummy"

// Link is a connection to the tracker. Only the session issues commands and
// messages; acquisition goroutines only call the fetch methods.
type Link interface {
	SendCommand(cmd string) error
	SendMessage(msg string) error
	SetOfflineMode() error

	StartRecording(flags RecordFlags) error
	StopRecording() error

	// NewestSample returns the most recent sample, which may be one that was
	// already returned by a previous call.
	NewestSample() (Sample, error)
	// NextSample, NextRawSample and NextEvent drain the link-side queues in
	// arrival order.
	NextSample() (Sample, error)
	NextRawSample() (RawSample, error)
	NextEvent() (GazeEvent, error)

	OpenDataFile(name string) error
	CloseDataFile() error
	TransferDataFile(remote, local string) (int64, error)

	EnableRawData(enable bool) error
	BeginRealtimeMode(d time.Duration) error
	EndRealtimeMode() error

	// DoTrackerSetup enters the tracker's calibration/setup mode and returns
	// when the operator leaves it or ctx is cancelled.
	DoTrackerSetup(ctx context.Context, width, height int) error

	TrackerVersion() (int, error)
	EyeAvailable() (Eye, error)
	IsConnected() bool
	IsDummy() bool
	Close() error
}

// ConnectionError reports that the tracker hardware could not be reached.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to tracker at %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Options configures Dial.
type Options struct {
	// SampleRate in Hz, used by the simulated link.
	SampleRate int
	// ScreenWidth and ScreenHeight bound simulated gaze positions.
	ScreenWidth  int
	ScreenHeight int
	Logger       zerolog.Logger
}

// Dialer opens a link to the tracker at address.
type Dialer func(ctx context.Context, address string, opts Options) (Link, error)

var (
	driverMu sync.RWMutex
	driver   Dialer
)

// RegisterDriver installs the hardware driver used for non-dummy addresses.
func RegisterDriver(d Dialer) {
	driverMu.Lock()
	defer driverMu.Unlock()
	driver = d
}

// IsDummyAddress reports whether address selects dummy mode.
func IsDummyAddress(address string) bool {
	a := strings.TrimSpace(address)
	return a == "" || strings.EqualFold(a, DummyAddress)
}

// Dial connects to the tracker at address using the registered driver.
// Hardware failures are returned as *ConnectionError.
func Dial(ctx context.Context, address string, opts Options) (Link, error) {
	driverMu.RLock()
	d := driver
	driverMu.RUnlock()
	return DialWith(ctx, d, address, opts)
}

// DialWith is Dial with an explicit driver. Dummy addresses never reach the
// driver.
func DialWith(ctx context.Context, d Dialer, address string, opts Options) (Link, error) {
	if IsDummyAddress(address) {
		return NewDummy(opts), nil
	}
	if d == nil {
		return nil, &ConnectionError{Address: address, Err: ErrNoDriver}
	}

	l, err := d(ctx, address, opts)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, &ConnectionError{Address: address, Err: err}
	}
	if l == nil || !l.IsConnected() {
		if l != nil {
			_ = l.Close()
		}
		return nil, &ConnectionError{Address: address, Err: errors.New("tracker did not report a connection")}
	}
	return l, nil
}
