// Package calibration runs the tracker calibration procedure, or the dummy
// note shown in its place when no tracker is attached.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coal/gazelink/internal/display"
	"github.com/coal/gazelink/internal/settings"
)

// DummyNote is the text shown instead of a calibration in dummy mode.
const DummyNote = "Dummy connection: no eye tracker attached. Press any key."

// ErrInterrupted is returned when the participant pressed Ctrl+C or closed
// the window during calibration.
var ErrInterrupted = errors.New("calibration interrupted")

// Tracker is the part of the link the calibration drives.
type Tracker interface {
	SendCommand(cmd string) error
	DoTrackerSetup(ctx context.Context, width, height int) error
	IsDummy() bool
}

// Options configures one calibration run.
type Options struct {
	Targets      int
	PacingMs     int
	ScreenWidth  int
	ScreenHeight int
	// RecordSamples keeps samples flowing into the recording file during
	// calibration and validation.
	RecordSamples bool
	RecordRaw     bool

	Background display.Color
	Foreground display.Color

	// ModeSwitchDelay is the pause after each tracker mode change.
	ModeSwitchDelay time.Duration
	// PollInterval is the pause between UI event polls in dummy mode.
	PollInterval time.Duration
}

// OptionsFrom derives calibration options from settings.
func OptionsFrom(s settings.Settings) Options {
	bg := s.CalBackgroundColor
	return Options{
		Targets:         s.CalibrationTargets,
		PacingMs:        s.PacingInterval,
		ScreenWidth:     s.ScreenRes[0],
		ScreenHeight:    s.ScreenRes[1],
		Background:      display.RGB(bg[0], bg[1], bg[2]),
		Foreground:      display.Black,
		ModeSwitchDelay: 100 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
	}
}

// Run calibrates the tracker. ctx is checked at every pause, so cancelling it
// aborts the procedure promptly.
func Run(ctx context.Context, tr Tracker, disp display.Display, opts Options, logger zerolog.Logger) error {
	if tr.IsDummy() {
		logger.Info().Msg("dummy link, showing calibration note")
		return showDummyNote(ctx, disp, opts)
	}

	send := func(cmd string) error {
		if err := tr.SendCommand(cmd); err != nil {
			return fmt.Errorf("calibration command %q: %w", cmd, err)
		}
		return nil
	}

	if err := send(fmt.Sprintf("calibration_type = HV%d", opts.Targets)); err != nil {
		return err
	}
	if err := send(fmt.Sprintf("automatic_calibration_pacing = %d", opts.PacingMs)); err != nil {
		return err
	}

	if opts.RecordSamples {
		data := "1 1 0 0"
		if opts.RecordRaw {
			data = "1 1 1 1"
		}
		if err := send("sticky_mode_data_enable DATA = " + data); err != nil {
			return err
		}
	}

	logger.Info().Int("targets", opts.Targets).Msg("starting tracker setup")
	if err := tr.DoTrackerSetup(ctx, opts.ScreenWidth, opts.ScreenHeight); err != nil {
		return fmt.Errorf("tracker setup: %w", err)
	}

	if !opts.RecordSamples {
		return nil
	}

	// Sticky mode is only cleared on a real mode change, and the tracker is
	// already idle here, so go through the setup menu and back.
	for _, cmd := range []string{"sticky_mode_data_enable", "set_idle_mode", "setup_menu_mode", "set_idle_mode"} {
		if err := send(cmd); err != nil {
			return err
		}
		if cmd == "sticky_mode_data_enable" {
			continue
		}
		if err := sleep(ctx, opts.ModeSwitchDelay); err != nil {
			return err
		}
	}
	return nil
}

func showDummyNote(ctx context.Context, disp display.Display, opts Options) error {
	disp.Fill(opts.Background)
	disp.DrawText(DummyNote, display.TextOptions{Size: 24, Color: opts.Foreground})
	if err := disp.Flip(); err != nil {
		return err
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	for {
		for _, ev := range disp.Events() {
			if ev.IsInterrupt() {
				return ErrInterrupted
			}
			if ev.Kind == display.KeyDown {
				disp.Fill(opts.Background)
				return disp.Flip()
			}
		}
		if err := sleep(ctx, poll); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
