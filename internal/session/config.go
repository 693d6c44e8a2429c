package session

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/coal/gazelink/internal/acquisition"
	"github.com/coal/gazelink/internal/display"
	"github.com/coal/gazelink/internal/journal"
	"github.com/coal/gazelink/internal/link"
	"github.com/coal/gazelink/internal/settings"
)

const tracerName = "github.com/coal/gazelink/internal/session"

// Timings are the pauses the tracker needs around mode switches.
type Timings struct {
	// ModeSwitch follows set_idle_mode before recording starts.
	ModeSwitch time.Duration
	// RawEnable follows the offline switch before raw PCR data is enabled.
	RawEnable time.Duration
	// BeforeClose follows the offline switch before the data file is closed.
	BeforeClose time.Duration
	// BeforeTransfer follows closing the data file.
	BeforeTransfer time.Duration
	// Calibration follows each mode change after calibration.
	Calibration time.Duration
	// UIPoll is the pause between UI event polls.
	UIPoll time.Duration
	// Realtime is the priority window requested for raw capture.
	Realtime time.Duration
}

// DefaultTimings returns the delays the tracker documentation asks for.
func DefaultTimings() Timings {
	return Timings{
		ModeSwitch:     50 * time.Millisecond,
		RawEnable:      50 * time.Millisecond,
		BeforeClose:    500 * time.Millisecond,
		BeforeTransfer: time.Second,
		Calibration:    100 * time.Millisecond,
		UIPoll:         time.Millisecond,
		Realtime:       100 * time.Millisecond,
	}
}

// Config is an unconnected session description built by NewConfig.
type Config struct {
	Settings settings.Settings

	RecordRaw          bool
	UseSampleBuffer    bool
	SampleBufferLength int
	FetchMode          acquisition.FetchMode
	EventBufferLength  int
	PollInterval       time.Duration
	JoinTimeout        time.Duration
	SavePath           string
	Timings            Timings

	sessionID      string
	logger         zerolog.Logger
	journal        *journal.Journal
	tracer         trace.Tracer
	dialer         link.Dialer
	displayBackend string
	display        display.Display
	exit           func(int)
	sampleObs      []func(link.Sample)
	eventObs       []func(link.GazeEvent)
}

// SessionID identifies the session in logs, the journal and the live stream.
func (c Config) SessionID() string { return c.sessionID }

// Option customizes a Config.
type Option func(*Config) error

// NewConfig validates s and applies opts. No I/O happens until Connect.
func NewConfig(s settings.Settings, opts ...Option) (Config, error) {
	valid, err := settings.Validate(s)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Settings:       valid,
		FetchMode:      acquisition.FetchBuffered,
		SavePath:       valid.FilePath,
		Timings:        DefaultTimings(),
		sessionID:      uuid.NewString(),
		logger:         zerolog.Nop(),
		displayBackend: valid.Backend,
		exit:           os.Exit,
	}
	if cfg.SavePath == "" {
		cfg.SavePath = "."
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	if cfg.journal == nil {
		cfg.journal = journal.Nop()
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}
	return cfg, nil
}

// WithRawData records raw pupil and corneal-reflection samples over the link.
func WithRawData() Option {
	return func(c *Config) error {
		c.RecordRaw = true
		return nil
	}
}

// WithSampleBuffer keeps the last length samples. With use false only the
// newest sample is available, read from the link on demand.
func WithSampleBuffer(length int, use bool) Option {
	return func(c *Config) error {
		if length < 0 {
			return fmt.Errorf("sample buffer length must not be negative, got %d", length)
		}
		c.SampleBufferLength = length
		c.UseSampleBuffer = use
		return nil
	}
}

// WithFetchMode selects how the sample goroutine reads the link.
func WithFetchMode(m acquisition.FetchMode) Option {
	return func(c *Config) error {
		c.FetchMode = m
		return nil
	}
}

// WithEventBuffer keeps the last length gaze events.
func WithEventBuffer(length int) Option {
	return func(c *Config) error {
		if length < 0 {
			return fmt.Errorf("event buffer length must not be negative, got %d", length)
		}
		c.EventBufferLength = length
		return nil
	}
}

// WithPolling overrides the acquisition poll interval and join timeout.
func WithPolling(interval, joinTimeout time.Duration) Option {
	return func(c *Config) error {
		c.PollInterval = interval
		c.JoinTimeout = joinTimeout
		return nil
	}
}

// WithLogger sets the logger; the session adds its id to every entry.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) error {
		c.logger = l
		return nil
	}
}

// WithJournal records commands, messages and state changes to j.
func WithJournal(j *journal.Journal) Option {
	return func(c *Config) error {
		c.journal = j
		return nil
	}
}

// WithSessionID replaces the generated session ID.
func WithSessionID(id string) Option {
	return func(c *Config) error {
		if id == "" {
			return fmt.Errorf("session id must not be empty")
		}
		c.sessionID = id
		return nil
	}
}

// WithTracer sets the tracer for session spans (default: the global provider).
func WithTracer(t trace.Tracer) Option {
	return func(c *Config) error {
		c.tracer = t
		return nil
	}
}

// WithDialer connects through d instead of the registered driver.
func WithDialer(d link.Dialer) Option {
	return func(c *Config) error {
		c.dialer = d
		return nil
	}
}

// WithDisplayBackend overrides the backend named in the settings.
func WithDisplayBackend(name string) Option {
	return func(c *Config) error {
		c.displayBackend = name
		return nil
	}
}

// WithDisplay uses d instead of opening a backend. The session closes it on
// shutdown.
func WithDisplay(d display.Display) Option {
	return func(c *Config) error {
		c.display = d
		return nil
	}
}

// WithTimings replaces the mode-switch delays.
func WithTimings(t Timings) Option {
	return func(c *Config) error {
		c.Timings = t
		return nil
	}
}

// WithExitFunc replaces os.Exit for fatal connection errors and interrupts.
func WithExitFunc(fn func(int)) Option {
	return func(c *Config) error {
		c.exit = fn
		return nil
	}
}

// WithSavePath sets the directory the data file is saved to on shutdown.
func WithSavePath(path string) Option {
	return func(c *Config) error {
		c.SavePath = path
		return nil
	}
}

// WithSampleObserver calls fn from the sample goroutine for every buffered
// sample.
func WithSampleObserver(fn func(link.Sample)) Option {
	return func(c *Config) error {
		c.sampleObs = append(c.sampleObs, fn)
		return nil
	}
}

// WithEventObserver calls fn from the event goroutine for every gaze event.
func WithEventObserver(fn func(link.GazeEvent)) Option {
	return func(c *Config) error {
		c.eventObs = append(c.eventObs, fn)
		return nil
	}
}
