package session

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coal/gazelink/internal/calibration"
	"github.com/coal/gazelink/internal/link"
)

// StartRecording starts recording to the data file. With sendLink, or when
// raw data or sample buffering is configured, samples and events are also
// sent over the link and the acquisition goroutines are started. Starting
// while recording logs a warning and does nothing.
func (s *Session) StartRecording(ctx context.Context, sendLink bool) (err error) {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	l, err := s.liveLink()
	if err != nil {
		return err
	}
	if s.recording.Load() {
		s.logger.Warn().Msg("recording already started")
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "session.start_recording",
		trace.WithAttributes(attribute.Bool("send_link", sendLink), attribute.Bool("raw", s.cfg.RecordRaw)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	st := s.cfg.Settings
	// the heuristic filter is reset whenever recording stops
	if st.SetHeuristicFilter {
		if err := s.command(l, fmt.Sprintf("heuristic_filter %d %d", st.HeuristicFilter[0], st.HeuristicFilter[1])); err != nil {
			return err
		}
	}
	if err := s.command(l, "set_idle_mode"); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.cfg.Timings.ModeSwitch); err != nil {
		return err
	}

	raw := s.cfg.RecordRaw
	if raw {
		if err := s.enableRawData(ctx, l, true); err != nil {
			return err
		}
	}

	overLink := sendLink || raw || s.cfg.UseSampleBuffer
	flags := link.RecordFlags{
		FileSamples: st.RecordSamplesToFile,
		FileEvents:  st.RecordEventsToFile,
		LinkSamples: overLink && st.RecordSampleOverLink,
		LinkEvents:  overLink && st.RecordEventOverLink,
	}
	if err := l.StartRecording(flags); err != nil {
		if raw {
			if rerr := l.EnableRawData(false); rerr != nil {
				s.logger.Debug().Err(rerr).Msg("disabling raw data after failed start")
			}
		}
		return fmt.Errorf("starting recording: %w", err)
	}
	s.recording.Store(true)
	s.setState(Recording)

	if raw {
		if err := l.BeginRealtimeMode(s.cfg.Timings.Realtime); err != nil {
			s.logger.Warn().Err(err).Msg("realtime mode unavailable")
		}
		if err := s.data.StartRaw(); err != nil {
			return err
		}
	}
	if flags.LinkSamples {
		s.data.StartSamples()
	}
	if flags.LinkEvents {
		s.events.Start()
	}

	s.logger.Info().
		Bool("link_samples", flags.LinkSamples).
		Bool("link_events", flags.LinkEvents).
		Bool("raw", raw).
		Msg("recording started")
	return nil
}

// enableRawData switches raw PCR samples over the link on or off. The tracker
// must be idle for the switch.
func (s *Session) enableRawData(ctx context.Context, l link.Link, enable bool) error {
	if err := l.SetOfflineMode(); err != nil {
		return fmt.Errorf("setting offline mode: %w", err)
	}
	if err := s.sleep(ctx, s.cfg.Timings.RawEnable); err != nil {
		return err
	}
	if err := l.EnableRawData(enable); err != nil {
		return fmt.Errorf("enabling raw data: %w", err)
	}
	return nil
}

// StopRecording stops every acquisition goroutine and then, if recording,
// the tracker. It is always safe to call.
func (s *Session) StopRecording() error {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	return s.stopRecordingLocked()
}

func (s *Session) stopRecordingLocked() error {
	if s.data == nil || s.State() == Closed {
		return nil
	}

	var errs []error
	if s.cfg.RecordRaw {
		errs = append(errs, s.data.StopRaw())
		if err := s.link.EndRealtimeMode(); err != nil {
			errs = append(errs, fmt.Errorf("ending realtime mode: %w", err))
		}
	}
	errs = append(errs, s.data.StopSamples(), s.events.Stop())

	if s.recording.Load() {
		if err := s.link.StopRecording(); err != nil {
			errs = append(errs, fmt.Errorf("stopping recording: %w", err))
		}
		s.recording.Store(false)
		if s.State() == Recording {
			s.setState(Connected)
		}
		s.logger.Info().Msg("recording stopped")
	}
	return errors.Join(errs...)
}

// Calibrate runs the tracker calibration on the session display. In dummy
// mode a note is shown until a key is pressed. Shutdown from another
// goroutine aborts the calibration.
func (s *Session) Calibrate(ctx context.Context, recordSamples bool) (err error) {
	l, err := s.liveLink()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ctx, span := s.tracer.Start(ctx, "session.calibrate",
		trace.WithAttributes(attribute.Bool("record_samples", recordSamples)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	opts := calibration.OptionsFrom(s.cfg.Settings)
	opts.RecordSamples = recordSamples
	opts.RecordRaw = s.cfg.RecordRaw
	opts.ModeSwitchDelay = s.cfg.Timings.Calibration
	opts.PollInterval = s.cfg.Timings.UIPoll

	err = calibration.Run(ctx, calTracker{s: s, l: l}, s.disp, opts, s.logger)
	if errors.Is(err, calibration.ErrInterrupted) {
		s.Interrupt()
	}
	return err
}

// calTracker journals the commands calibration sends.
type calTracker struct {
	s *Session
	l link.Link
}

func (c calTracker) SendCommand(cmd string) error { return c.s.command(c.l, cmd) }

func (c calTracker) DoTrackerSetup(ctx context.Context, width, height int) error {
	return c.l.DoTrackerSetup(ctx, width, height)
}

func (c calTracker) IsDummy() bool { return c.l.IsDummy() }
