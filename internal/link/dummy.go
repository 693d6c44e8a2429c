package link

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultDummyRate = 1000
	// maxQueued bounds each simulated link-side queue; the oldest items are
	// dropped on overflow, as the tracker's own queue does.
	maxQueued      = 20000
	dummyVersion   = 5
	blinkEvery     = 4000
	blinkLength    = 120
	saccadeLength  = 30
	minFixationLen = 180
	maxFixationLen = 420
)

// Dummy is a simulated tracker link used when no hardware is available. It
// synthesizes samples at the configured rate along with fixation, saccade and
// blink events, and keeps an in-memory recording file that TransferDataFile
// writes to disk.
type Dummy struct {
	mu     sync.Mutex
	logger zerolog.Logger
	now    func() time.Time
	epoch  time.Time

	rate   int
	period float64 // ms between samples

	connected bool
	recording bool
	flags     RecordFlags
	rawData   bool
	realtime  bool

	model    *gazeModel
	nextTime float64 // tracker ms of next sample to generate
	newest   Sample
	hasNew   bool
	samples  []Sample
	raws     []RawSample
	events   []GazeEvent

	fileName string
	fileOpen bool
	fileBuf  bytes.Buffer
	file     *RecordingWriter

	commands []string
}

// NewDummy creates a connected simulated link.
func NewDummy(opts Options) *Dummy {
	return newDummy(opts, time.Now)
}

func newDummy(opts Options, now func() time.Time) *Dummy {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = defaultDummyRate
	}
	w, h := opts.ScreenWidth, opts.ScreenHeight
	if w <= 0 || h <= 0 {
		w, h = 1280, 1024
	}
	d := &Dummy{
		logger:    opts.Logger.With().Str("component", "dummy-link").Logger(),
		now:       now,
		epoch:     now(),
		rate:      rate,
		period:    1000 / float64(rate),
		connected: true,
		model:     newGazeModel(float64(w), float64(h)),
	}
	d.logger.Info().Int("sample_rate", rate).Msg("simulated tracker link ready")
	return d
}

func (d *Dummy) trackerTime() float64 {
	return float64(d.now().Sub(d.epoch).Microseconds()) / 1000
}

func (d *Dummy) checkConnected() error {
	if !d.connected {
		return ErrClosed
	}
	return nil
}

// SendCommand records the command. Commands have no effect on the simulation.
func (d *Dummy) SendCommand(cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.commands = append(d.commands, cmd)
	d.logger.Debug().Str("command", cmd).Msg("command")
	return nil
}

// Commands returns all commands sent so far.
func (d *Dummy) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// SendMessage writes a message to the open data file.
func (d *Dummy) SendMessage(msg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	if d.fileOpen {
		return d.file.WriteMessage(Message{Time: uint64(d.trackerTime()), Text: msg})
	}
	return nil
}

func (d *Dummy) SetOfflineMode() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	if d.recording {
		d.generate()
		d.recording = false
	}
	return nil
}

func (d *Dummy) StartRecording(flags RecordFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.flags = flags
	d.recording = true
	d.nextTime = math.Ceil(d.trackerTime())
	d.hasNew = false
	return nil
}

func (d *Dummy) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	if d.recording {
		d.generate()
	}
	d.recording = false
	return nil
}

// generate produces all samples due up to the current tracker time. Callers
// hold d.mu.
func (d *Dummy) generate() {
	if !d.recording {
		return
	}
	now := d.trackerTime()
	for d.nextTime <= now {
		t := uint64(d.nextTime)
		s, raw, events := d.model.step(t)

		d.newest, d.hasNew = s, true
		if d.flags.LinkSamples {
			d.samples = appendBounded(d.samples, s)
			if d.rawData {
				d.raws = appendBounded(d.raws, raw)
			}
		}
		if d.flags.LinkEvents {
			for _, e := range events {
				d.events = appendBounded(d.events, e)
			}
		}
		if d.fileOpen {
			if d.flags.FileSamples {
				_ = d.file.WriteSample(s)
			}
			if d.flags.FileEvents {
				for _, e := range events {
					_ = d.file.WriteEvent(e)
				}
			}
		}
		d.nextTime += d.period
	}
}

func appendBounded[T any](q []T, item T) []T {
	if len(q) >= maxQueued {
		q = q[1:]
	}
	return append(q, item)
}

func (d *Dummy) NewestSample() (Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return Sample{}, err
	}
	d.generate()
	if !d.hasNew || !d.flags.LinkSamples {
		return Sample{}, ErrNoData
	}
	return d.newest, nil
}

func (d *Dummy) NextSample() (Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return Sample{}, err
	}
	d.generate()
	if len(d.samples) == 0 {
		return Sample{}, ErrNoData
	}
	s := d.samples[0]
	d.samples = d.samples[1:]
	return s, nil
}

func (d *Dummy) NextRawSample() (RawSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return RawSample{}, err
	}
	d.generate()
	if len(d.raws) == 0 {
		return RawSample{}, ErrNoData
	}
	r := d.raws[0]
	d.raws = d.raws[1:]
	return r, nil
}

func (d *Dummy) NextEvent() (GazeEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return GazeEvent{}, err
	}
	d.generate()
	if len(d.events) == 0 {
		return GazeEvent{}, ErrNoData
	}
	e := d.events[0]
	d.events = d.events[1:]
	return e, nil
}

func (d *Dummy) OpenDataFile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.fileBuf.Reset()
	w, err := NewRecordingWriter(&d.fileBuf)
	if err != nil {
		return err
	}
	d.file = w
	d.fileName = name
	d.fileOpen = true
	return nil
}

func (d *Dummy) CloseDataFile() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.fileOpen = false
	return nil
}

// TransferDataFile writes the simulated recording to local.
func (d *Dummy) TransferDataFile(remote, local string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return 0, err
	}
	if d.file == nil || remote != d.fileName {
		return 0, fmt.Errorf("data file %q not found on tracker", remote)
	}
	if dir := filepath.Dir(local); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	if err := os.WriteFile(local, d.fileBuf.Bytes(), 0o644); err != nil {
		return 0, err
	}
	return int64(d.fileBuf.Len()), nil
}

func (d *Dummy) EnableRawData(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkConnected(); err != nil {
		return err
	}
	d.rawData = enable
	return nil
}

func (d *Dummy) BeginRealtimeMode(time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.realtime = true
	return nil
}

func (d *Dummy) EndRealtimeMode() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.realtime = false
	return nil
}

// DoTrackerSetup has nothing to calibrate in dummy mode.
func (d *Dummy) DoTrackerSetup(ctx context.Context, _, _ int) error {
	return ctx.Err()
}

func (d *Dummy) TrackerVersion() (int, error) {
	return dummyVersion, nil
}

func (d *Dummy) EyeAvailable() (Eye, error) {
	return EyeBinocular, nil
}

func (d *Dummy) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Dummy) IsDummy() bool { return true }

func (d *Dummy) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.recording = false
	return nil
}

type gazePhase int

const (
	phaseFixation gazePhase = iota
	phaseSaccade
	phaseBlink
)

// gazeModel walks gaze through fixations joined by saccades, with periodic
// blinks. It is deterministic for a given screen size.
type gazeModel struct {
	rng           *rand.Rand
	width, height float64

	started    bool
	phase      gazePhase
	phaseStart uint64
	phaseEnd   uint64
	from, to   Point
	sum        Point
	n          int
	nextBlink  uint64
	pupil      float64
}

func newGazeModel(width, height float64) *gazeModel {
	return &gazeModel{
		rng:    rand.New(rand.NewPCG(1, 2)),
		width:  width,
		height: height,
		pupil:  1200,
	}
}

func (m *gazeModel) randomPoint() Point {
	return Point{
		X: m.width * (0.1 + 0.8*m.rng.Float64()),
		Y: m.height * (0.1 + 0.8*m.rng.Float64()),
	}
}

func (m *gazeModel) beginFixation(t uint64, at Point) GazeEvent {
	m.phase = phaseFixation
	m.phaseStart = t
	m.phaseEnd = t + uint64(minFixationLen+m.rng.IntN(maxFixationLen-minFixationLen))
	m.from = at
	m.sum = Point{}
	m.n = 0
	return GazeEvent{Time: t, Type: StartFixation, Eye: EyeLeft, StartTime: t, Start: at}
}

func (m *gazeModel) step(t uint64) (Sample, RawSample, []GazeEvent) {
	var events []GazeEvent
	if !m.started {
		m.started = true
		m.nextBlink = t + blinkEvery
		events = append(events, m.beginFixation(t, m.randomPoint()))
	}

	if t >= m.phaseEnd {
		switch m.phase {
		case phaseFixation:
			avg := m.from
			if m.n > 0 {
				avg = Point{X: m.sum.X / float64(m.n), Y: m.sum.Y / float64(m.n)}
			}
			events = append(events, GazeEvent{
				Time: t, Type: EndFixation, Eye: EyeLeft,
				StartTime: m.phaseStart, EndTime: t,
				Start: m.from, End: m.from, Average: avg, AvgPupilSize: m.pupil,
			})
			if t >= m.nextBlink {
				m.phase = phaseBlink
				m.phaseStart = t
				m.phaseEnd = t + blinkLength
				m.nextBlink = t + blinkEvery
				events = append(events, GazeEvent{Time: t, Type: StartBlink, Eye: EyeLeft, StartTime: t})
			} else {
				m.phase = phaseSaccade
				m.phaseStart = t
				m.phaseEnd = t + saccadeLength
				m.to = m.randomPoint()
				events = append(events, GazeEvent{Time: t, Type: StartSaccade, Eye: EyeLeft, StartTime: t, Start: m.from})
			}
		case phaseSaccade:
			dist := math.Hypot(m.to.X-m.from.X, m.to.Y-m.from.Y)
			amplitude := dist / 40 // roughly 40 px per degree
			events = append(events, GazeEvent{
				Time: t, Type: EndSaccade, Eye: EyeLeft,
				StartTime: m.phaseStart, EndTime: t,
				Start: m.from, End: m.to,
				Amplitude: amplitude, PeakVelocity: amplitude * 30,
			})
			events = append(events, m.beginFixation(t, m.to))
		case phaseBlink:
			events = append(events, GazeEvent{
				Time: t, Type: EndBlink, Eye: EyeLeft,
				StartTime: m.phaseStart, EndTime: t,
			})
			events = append(events, m.beginFixation(t, m.from))
		}
	}

	var pos Point
	valid := true
	switch m.phase {
	case phaseFixation:
		pos = Point{X: m.from.X + m.rng.NormFloat64()*2, Y: m.from.Y + m.rng.NormFloat64()*2}
		m.sum.X += pos.X
		m.sum.Y += pos.Y
		m.n++
	case phaseSaccade:
		frac := float64(t-m.phaseStart) / float64(m.phaseEnd-m.phaseStart)
		pos = Point{X: m.from.X + (m.to.X-m.from.X)*frac, Y: m.from.Y + (m.to.Y-m.from.Y)*frac}
	case phaseBlink:
		valid = false
	}

	pupil := m.pupil + m.rng.NormFloat64()*10
	eye := EyeData{Valid: valid, GazeX: pos.X, GazeY: pos.Y, PupilSize: pupil}
	if !valid {
		eye = EyeData{}
	}
	right := eye
	if valid {
		right.GazeX += 3
	}

	rawEye := RawEye{
		Valid:     valid,
		PupilX:    pos.X / 4,
		PupilY:    pos.Y / 4,
		PupilArea: pupil,
		CRX:       pos.X/4 + 12,
		CRY:       pos.Y/4 + 8,
		CR2X:      pos.X/4 - 12,
		CR2Y:      pos.Y/4 + 8,
	}
	return Sample{Time: t, Left: eye, Right: right}, RawSample{Time: t, Left: rawEye, Right: rawEye}, events
}
