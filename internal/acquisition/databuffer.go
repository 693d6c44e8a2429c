package acquisition

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/coal/gazelink/internal/link"
)

// ErrRawDisabled is returned by StartRaw when raw capture was not configured.
var ErrRawDisabled = errors.New("raw data capture not enabled")

// SampleSource is the part of the tracker link the DataBuffer reads from.
type SampleSource interface {
	NewestSample() (link.Sample, error)
	NextSample() (link.Sample, error)
	NextRawSample() (link.RawSample, error)
}

// DataBufferConfig configures a DataBuffer. It is fixed at construction.
type DataBufferConfig struct {
	// BufferLength is the ring buffer capacity; 0 keeps only the latest item.
	BufferLength int
	// UseBuffer enables the sample goroutine. Without it only Latest is
	// available, read straight from the link.
	UseBuffer bool
	Mode      FetchMode
	// RecordRaw enables the raw pupil/CR goroutine.
	RecordRaw    bool
	PollInterval time.Duration
	JoinTimeout  time.Duration
}

// SampleStats reports both sample goroutines.
type SampleStats struct {
	Mode    string `json:"mode"`
	Samples Stats  `json:"samples"`
	Raw     Stats  `json:"raw"`
}

// DataBuffer polls gaze samples, and optionally raw pupil/CR samples, from the
// link into ring buffers.
type DataBuffer struct {
	src     SampleSource
	cfg     DataBufferConfig
	logger  zerolog.Logger
	samples *poller[link.Sample]
	raw     *poller[link.RawSample]
}

// NewDataBuffer creates an idle DataBuffer.
func NewDataBuffer(src SampleSource, cfg DataBufferConfig, logger zerolog.Logger) *DataBuffer {
	logger = logger.With().Str("component", "data-buffer").Logger()

	samples := newPoller[link.Sample]("samples", cfg.BufferLength, cfg.PollInterval, cfg.JoinTimeout, logger)
	switch cfg.Mode {
	case FetchNewest:
		samples.fetch = src.NewestSample
		samples.accept = newestOnly()
	default:
		samples.fetch = src.NextSample
		samples.drain = true
	}

	raw := newPoller[link.RawSample]("raw", cfg.BufferLength, cfg.PollInterval, cfg.JoinTimeout, logger)
	raw.fetch = src.NextRawSample
	raw.drain = true

	return &DataBuffer{
		src:     src,
		cfg:     cfg,
		logger:  logger,
		samples: samples,
		raw:     raw,
	}
}

// newestOnly drops a sample identical to the one stored before it, since
// NewestSample returns the same sample until the tracker produces another.
func newestOnly() func(link.Sample) bool {
	var last link.Sample
	var seen bool
	return func(s link.Sample) bool {
		if seen && s == last {
			return false
		}
		last, seen = s, true
		return true
	}
}

// UseBuffer reports whether the sample goroutine is enabled.
func (d *DataBuffer) UseBuffer() bool { return d.cfg.UseBuffer }

// RecordRaw reports whether raw capture is enabled.
func (d *DataBuffer) RecordRaw() bool { return d.cfg.RecordRaw }

// Mode returns the fetch strategy.
func (d *DataBuffer) Mode() FetchMode { return d.cfg.Mode }

// AddObserver registers fn to be called from the sample goroutine for every
// stored sample. fn must return quickly.
func (d *DataBuffer) AddObserver(fn func(link.Sample)) {
	d.samples.addObserver(fn)
}

// AddRawObserver registers fn for every stored raw sample.
func (d *DataBuffer) AddRawObserver(fn func(link.RawSample)) {
	d.raw.addObserver(fn)
}

// StartSamples starts the sample goroutine. It is a no-op when buffering is
// disabled or the goroutine is already running.
func (d *DataBuffer) StartSamples() {
	if !d.cfg.UseBuffer {
		d.logger.Debug().Msg("sample buffering disabled, not polling")
		return
	}
	if !d.samples.start() {
		d.logger.Warn().Msg("sample polling already running")
		return
	}
	d.logger.Info().Str("mode", d.cfg.Mode.String()).Int("buffer_length", d.cfg.BufferLength).Msg("sample polling started")
}

// StopSamples stops the sample goroutine and waits for it to exit.
func (d *DataBuffer) StopSamples() error {
	return d.samples.stopAndJoin()
}

// StartRaw starts the raw-sample goroutine. The caller engages realtime mode
// on the link first.
func (d *DataBuffer) StartRaw() error {
	if !d.cfg.RecordRaw {
		return ErrRawDisabled
	}
	if !d.raw.start() {
		d.logger.Warn().Msg("raw polling already running")
		return nil
	}
	d.logger.Info().Msg("raw polling started")
	return nil
}

// StopRaw stops the raw-sample goroutine and waits for it to exit.
func (d *DataBuffer) StopRaw() error {
	return d.raw.stopAndJoin()
}

// Shutdown stops both goroutines. Each join is bounded by the join timeout,
// so no goroutine is left reading a link the caller is about to close unless
// an error is returned.
func (d *DataBuffer) Shutdown() error {
	return errors.Join(d.StopRaw(), d.StopSamples())
}

// SamplesRunning reports whether the sample goroutine is alive.
func (d *DataBuffer) SamplesRunning() bool { return d.samples.running() }

// RawRunning reports whether the raw-sample goroutine is alive.
func (d *DataBuffer) RawRunning() bool { return d.raw.running() }

// Latest returns the most recent sample. Without buffering it is read from
// the link directly.
func (d *DataBuffer) Latest() (link.Sample, bool) {
	if !d.cfg.UseBuffer {
		s, err := d.src.NewestSample()
		if err != nil {
			return link.Sample{}, false
		}
		return s, true
	}
	return d.samples.buf.Latest()
}

// Samples returns the buffered samples, oldest first.
func (d *DataBuffer) Samples() []link.Sample {
	return d.samples.buf.Snapshot()
}

// LatestRaw returns the most recent raw sample.
func (d *DataBuffer) LatestRaw() (link.RawSample, bool) {
	return d.raw.buf.Latest()
}

// RawSamples returns the buffered raw samples, oldest first.
func (d *DataBuffer) RawSamples() []link.RawSample {
	return d.raw.buf.Snapshot()
}

// Stats reports the counters of both goroutines.
func (d *DataBuffer) Stats() SampleStats {
	return SampleStats{
		Mode:    d.cfg.Mode.String(),
		Samples: d.samples.stats(),
		Raw:     d.raw.stats(),
	}
}
