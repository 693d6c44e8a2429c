// Package session ties the tracker link, the acquisition goroutines and the
// display together behind one Session, and owns the shutdown protocol that
// always tries to save the recording file.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coal/gazelink/internal/acquisition"
	"github.com/coal/gazelink/internal/display"
	"github.com/coal/gazelink/internal/journal"
	"github.com/coal/gazelink/internal/link"
)

// Session is one connection to the tracker, from Connect to EndExperiment.
// Its methods are meant to be called from one goroutine; EndExperiment,
// Close and Interrupt may be called from any goroutine.
type Session struct {
	cfg     Config
	logger  zerolog.Logger
	journal *journal.Journal
	tracer  trace.Tracer

	// ctx is cancelled when shutdown starts, which unblocks sleeps, UI waits
	// and calibration in the caller's goroutine.
	ctx    context.Context
	cancel context.CancelFunc

	// transMu serializes connect, recording transitions and shutdown.
	transMu   sync.Mutex
	state     atomic.Int32
	recording atomic.Bool
	cleanedUp atomic.Bool
	// ended is closed once the first EndExperiment call has finished.
	ended chan struct{}

	link   link.Link
	data   *acquisition.DataBuffer
	events *acquisition.EventProcessor
	disp   display.Display

	pathMu   sync.Mutex
	savePath string
}

// New creates an unconnected session.
func New(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.logger.With().Str("session", cfg.sessionID).Logger()
	return &Session{
		cfg:      cfg,
		logger:   logger,
		journal:  cfg.journal,
		tracer:   cfg.tracer,
		ctx:      ctx,
		cancel:   cancel,
		ended:    make(chan struct{}),
		savePath: cfg.SavePath,
	}
}

// Connect creates a session and connects it.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	s := New(cfg)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// MustConnect is Connect for programs that cannot run without the tracker.
// On failure it logs what to check and exits with status 1.
func MustConnect(ctx context.Context, cfg Config) *Session {
	s, err := Connect(ctx, cfg)
	if err == nil {
		return s
	}

	logger := cfg.logger
	var connErr *link.ConnectionError
	if errors.As(err, &connErr) {
		logger.Error().Err(err).Msg("could not connect to the eye tracker")
		logger.Error().Msgf("current host IP setting: %s", cfg.Settings.HostIP)
		logger.Error().Msg("please check:")
		logger.Error().Msg("  1. the tracker host PC is powered on")
		logger.Error().Msg("  2. the Ethernet cable is connected")
		logger.Error().Msg("  3. the host PC IP address matches host_ip")
		logger.Error().Msg("  4. this computer's IP is on the same subnet (e.g. 100.1.1.2)")
	} else {
		logger.Error().Err(err).Msg("unexpected error while connecting to the eye tracker")
	}
	logger.Error().Msg("exiting")
	cfg.exit(1)
	return nil
}

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// SessionID identifies the session.
func (s *Session) SessionID() string { return s.cfg.sessionID }

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("state change")
	s.journal.Transition(from.String(), to.String())
}

// Connect dials the tracker, opens the data file, configures the tracker and
// opens the display. Connecting a connected session logs a warning and does
// nothing. On failure everything acquired so far is released.
func (s *Session) Connect(ctx context.Context) (err error) {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	switch s.State() {
	case Disconnected:
	case ShuttingDown, Closed:
		return fmt.Errorf("%w: session already shut down", ErrNotConnected)
	default:
		s.logger.Warn().Msg("already connected")
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "session.connect",
		trace.WithAttributes(attribute.String("host", s.cfg.Settings.HostIP)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.setState(Connecting)
	if err = s.connect(ctx); err != nil {
		s.release()
		s.setState(Disconnected)
		return err
	}
	s.setState(Connected)
	s.logger.Info().Bool("dummy", s.link.IsDummy()).Msg("tracker connected and configured")
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	st := s.cfg.Settings

	s.logger.Info().Str("host", st.HostIP).Msg("connecting to tracker")
	l, err := link.DialWith(ctx, s.cfg.dialer, st.HostIP, link.Options{
		SampleRate:   st.SampleRate,
		ScreenWidth:  st.ScreenRes[0],
		ScreenHeight: st.ScreenRes[1],
		Logger:       s.logger,
	})
	if err != nil {
		return err
	}
	s.link = l

	if !l.IsDummy() {
		// the tracker may still be recording from a previous program
		if err := l.StopRecording(); err != nil {
			s.logger.Debug().Err(err).Msg("stopping leftover recording")
		}
	}
	if err := l.SetOfflineMode(); err != nil {
		return fmt.Errorf("setting offline mode: %w", err)
	}

	if err := validateFileName(st.FileName); err != nil {
		return err
	}
	if err := l.OpenDataFile(st.DataFileName()); err != nil {
		return fmt.Errorf("opening data file %s: %w", st.DataFileName(), err)
	}
	s.logger.Info().Str("file", st.DataFileName()).Msg("data file opened")

	s.data = acquisition.NewDataBuffer(l, acquisition.DataBufferConfig{
		BufferLength: s.cfg.SampleBufferLength,
		UseBuffer:    s.cfg.UseSampleBuffer,
		Mode:         s.cfg.FetchMode,
		RecordRaw:    s.cfg.RecordRaw,
		PollInterval: s.cfg.PollInterval,
		JoinTimeout:  s.cfg.JoinTimeout,
	}, s.logger)
	for _, fn := range s.cfg.sampleObs {
		s.data.AddObserver(fn)
	}
	s.events = acquisition.NewEventProcessor(l, acquisition.EventProcessorConfig{
		BufferLength: s.cfg.EventBufferLength,
		PollInterval: s.cfg.PollInterval,
		JoinTimeout:  s.cfg.JoinTimeout,
	}, s.logger)
	for _, fn := range s.cfg.eventObs {
		s.events.AddObserver(fn)
	}

	if err := s.selectEye(st.EyeTracked); err != nil {
		return err
	}
	if err := s.setAllConstants(); err != nil {
		return err
	}
	if err := s.setupRawDataRecording(s.cfg.RecordRaw); err != nil {
		return err
	}

	return s.openDisplay()
}

func (s *Session) openDisplay() error {
	if s.cfg.display != nil {
		s.disp = s.cfg.display
		return nil
	}
	st := s.cfg.Settings
	bg := st.CalBackgroundColor
	d, err := display.Open(s.cfg.displayBackend, display.Config{
		Width:      st.ScreenRes[0],
		Height:     st.ScreenRes[1],
		Background: display.RGB(bg[0], bg[1], bg[2]),
		Fullscreen: st.Fullscreen,
		Logger:     s.logger,
	})
	if err != nil {
		return err
	}
	s.disp = d
	return nil
}

// release frees what a failed connect acquired.
func (s *Session) release() {
	if s.disp != nil && s.cfg.display == nil {
		if err := s.disp.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("closing display")
		}
	}
	s.disp = nil
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("closing link")
		}
	}
	s.link, s.data, s.events = nil, nil, nil
}

// liveLink returns the link while the session is connected.
func (s *Session) liveLink() (link.Link, error) {
	switch s.State() {
	case Connected, Recording:
		return s.link, nil
	}
	return nil, ErrNotConnected
}

func (s *Session) command(l link.Link, cmd string) error {
	s.journal.Command(cmd)
	if err := l.SendCommand(cmd); err != nil {
		return fmt.Errorf("command %q: %w", cmd, err)
	}
	return nil
}

func (s *Session) commands(l link.Link, cmds ...string) error {
	for _, cmd := range cmds {
		if err := s.command(l, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) message(l link.Link, msg string) error {
	s.journal.Message(msg)
	if err := l.SendMessage(msg); err != nil {
		return fmt.Errorf("message %q: %w", msg, err)
	}
	return nil
}

func (s *Session) selectEye(eye string) error {
	if strings.Contains(strings.ToUpper(eye), "BOTH") {
		return s.command(s.link, "binocular_enabled = YES")
	}
	return s.commands(s.link, "binocular_enabled = NO", "active_eye = "+strings.ToUpper(eye))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *Session) physCoords(sep string) string {
	st := s.cfg.Settings
	w, h := st.ScreenWidth/2, st.ScreenHeight/2
	return fmt.Sprintf("screen_phys_coords%s%s %s %s %s", sep,
		formatFloat(-w), formatFloat(h), formatFloat(w), formatFloat(-h))
}

// setAllConstants overrides the tracker's stored configuration with the
// session settings.
func (s *Session) setAllConstants() error {
	st := s.cfg.Settings
	w, h := st.ScreenRes[0], st.ScreenRes[1]

	if err := s.command(s.link, fmt.Sprintf("elcl_tt_power %d", st.IlluminationPower)); err != nil {
		return err
	}
	if err := s.message(s.link, fmt.Sprintf("DISPLAY_COORDS 0 0 %d %d", w-1, h-1)); err != nil {
		return err
	}

	cmds := []string{
		fmt.Sprintf("screen_pixel_coords 0 0 %d %d", w-1, h-1),
		s.physCoords(" "),
	}
	if len(st.ViewingDistTopBottom) == 2 {
		cmds = append(cmds, fmt.Sprintf("screen_distance %d %d", st.ViewingDistTopBottom[0], st.ViewingDistTopBottom[1]))
	}
	if st.RemoteLens != nil {
		cmds = append(cmds, fmt.Sprintf("camera_lens_focal_length = %d", *st.RemoteLens))
	}
	cam := formatFloat(st.CameraToScreenDistance)
	cmds = append(cmds,
		"file_event_filter = "+st.FileEventFilter,
		"link_event_filter = "+st.LinkEventFilter,
		"link_sample_data = "+st.LinkSampleData,
		"file_sample_data = "+st.FileSampleData,
		fmt.Sprintf("screen_distance = %s %s", cam, cam),
		s.physCoords(" = "),
		fmt.Sprintf("sample_rate = %d", st.SampleRate),
		"pupil_size_diameter = "+st.PupilSizeMode,
		"calibration_corner_scaling = "+formatFloat(st.CalibrationCornerScaling),
		"validation_corner_scaling = "+formatFloat(st.ValidationCornerScaling),
		fmt.Sprintf("calibration_area_proportion = %s %s",
			formatFloat(st.CalibrationAreaProportion[0]), formatFloat(st.CalibrationAreaProportion[1])),
		fmt.Sprintf("validation_area_proportion = %s %s",
			formatFloat(st.ValidationAreaProportion[0]), formatFloat(st.ValidationAreaProportion[1])),
		fmt.Sprintf("heuristic_filter %d %d", st.HeuristicFilter[0], st.HeuristicFilter[1]),
		"elcl_select_configuration = "+st.Configuration,
		"enable_search_limits = "+st.EnableSearchLimits,
	)
	if strings.Contains(st.PupilTrackingMode, "CENTROID") {
		cmds = append(cmds, "use_ellipse_fitter = NO")
	} else {
		cmds = append(cmds, "use_ellipse_fitter = YES")
	}
	return s.commands(s.link, cmds...)
}

const fullSampleData = "LEFT,RIGHT,GAZE,GAZERES,AREA,HREF,PUPIL,STATUS,INPUT,HMARKER,HTARGET"

// setupRawDataRecording sends raw pupil/CR data over the link only; it is
// never written to the data file.
func (s *Session) setupRawDataRecording(enable bool) error {
	if !enable {
		return s.command(s.link, "file_sample_raw_pcr = 0")
	}
	return s.commands(s.link,
		"file_sample_raw_pcr = 0",
		"link_sample_raw_pcr = 1",
		"raw_pcr_dual_corneal = 1",
		"inputword_is_window = ON",
		"file_sample_data = "+fullSampleData,
		"link_sample_data = "+fullSampleData,
	)
}

// sleep pauses for d unless shutdown starts first.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-t.C:
		return nil
	}
}

// Data returns the sample acquisition component, or nil before Connect.
func (s *Session) Data() *acquisition.DataBuffer { return s.data }

// Events returns the gaze event component, or nil before Connect.
func (s *Session) Events() *acquisition.EventProcessor { return s.events }

// Display returns the session display, or nil before Connect.
func (s *Session) Display() display.Display { return s.disp }

// IsDummy reports whether the session runs on the simulated link.
func (s *Session) IsDummy() bool {
	return s.link != nil && s.link.IsDummy()
}

// IsRecording reports whether the tracker is recording.
func (s *Session) IsRecording() bool { return s.recording.Load() }

// SetSavePath changes the directory the data file is saved to on shutdown.
func (s *Session) SetSavePath(path string) {
	s.pathMu.Lock()
	s.savePath = path
	s.pathMu.Unlock()
	s.logger.Info().Str("path", path).Msg("data save path updated")
}

// SavePath returns the directory the data file is saved to on shutdown.
func (s *Session) SavePath() string {
	s.pathMu.Lock()
	defer s.pathMu.Unlock()
	return s.savePath
}
