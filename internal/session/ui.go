package session

import (
	"context"
	"errors"
	"time"

	"github.com/coal/gazelink/internal/display"
)

// MessageStyle styles ShowMessage. Zero values select grey background, white
// text and size 32.
type MessageStyle struct {
	Background display.Color
	Foreground display.Color
	Size       int
}

func (m MessageStyle) withDefaults() MessageStyle {
	if m.Background == (display.Color{}) {
		m.Background = display.Gray
	}
	if m.Foreground == (display.Color{}) {
		m.Foreground = display.White
	}
	if m.Size <= 0 {
		m.Size = 32
	}
	return m
}

func (s *Session) liveDisplay() (display.Display, error) {
	if s.disp == nil {
		return nil, ErrNotConnected
	}
	switch s.State() {
	case ShuttingDown, Closed:
		return nil, ErrNotConnected
	}
	return s.disp, nil
}

// ShowMessage draws text centred on the display.
func (s *Session) ShowMessage(text string, style MessageStyle) error {
	d, err := s.liveDisplay()
	if err != nil {
		return err
	}
	style = style.withDefaults()
	d.Fill(style.Background)
	d.DrawText(text, display.TextOptions{Size: style.Size, Color: style.Foreground})
	return d.Flip()
}

// pollUI reads display events, ending the session on Ctrl+C.
func (s *Session) pollUI(d display.Display) ([]display.UIEvent, error) {
	events := d.Events()
	for _, ev := range events {
		if ev.IsInterrupt() {
			s.Interrupt()
			return events, ErrInterrupted
		}
	}
	return events, nil
}

// uiContext derives a context that is also cancelled by shutdown.
func (s *Session) uiContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// WaitForKey waits for key, or any key when key is empty, and returns its
// name. A zero timeout waits forever; on timeout it returns "" and no error.
func (s *Session) WaitForKey(ctx context.Context, key string, timeout time.Duration) (string, error) {
	d, err := s.liveDisplay()
	if err != nil {
		return "", err
	}
	ctx, cancel := s.uiContext(ctx)
	defer cancel()

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		events, err := s.pollUI(d)
		if err != nil {
			return "", err
		}
		for _, ev := range events {
			if ev.Kind == display.KeyDown && (key == "" || ev.Key == key) {
				return ev.Key, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", nil
		case <-time.After(s.uiPoll()):
		}
	}
}

// Wait pauses for d while draining UI events.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	disp, err := s.liveDisplay()
	if err != nil {
		return err
	}
	ctx, cancel := s.uiContext(ctx)
	defer cancel()

	t := time.NewTimer(d)
	defer t.Stop()
	for {
		if _, err := s.pollUI(disp); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		case <-time.After(s.uiPoll()):
		}
	}
}

func (s *Session) uiPoll() time.Duration {
	if p := s.cfg.Timings.UIPoll; p > 0 {
		return p
	}
	return time.Millisecond
}

// How a trial ended.
const (
	EndedByDuration = "duration"
	EndedByCallback = "callback"
	EndedByEscape   = "escape"
)

// Trial describes one trial run by RunTrial.
type Trial struct {
	// Draw draws one frame. RunTrial flips after it returns.
	Draw func(display.Display) error
	// Duration ends the trial; zero runs until escape or OnEvent.
	Duration time.Duration
	// Record starts recording for the trial and stops it afterwards.
	Record   bool
	SendLink bool
	// OnEvent is called for every UI event; returning true ends the trial.
	OnEvent func(display.UIEvent) bool
}

// TrialResult reports how a trial went.
type TrialResult struct {
	Duration time.Duration
	Events   []display.UIEvent
	EndedBy  string
}

// RunTrial runs the draw loop of one trial until its duration elapses, the
// participant presses escape or OnEvent ends it.
func (s *Session) RunTrial(ctx context.Context, trial Trial) (res TrialResult, err error) {
	d, err := s.liveDisplay()
	if err != nil {
		return TrialResult{}, err
	}
	if trial.Draw == nil {
		return TrialResult{}, errors.New("trial has no draw function")
	}
	ctx, cancel := s.uiContext(ctx)
	defer cancel()

	start := time.Now()
	if trial.Record {
		if err := s.StartRecording(ctx, trial.SendLink); err != nil {
			return TrialResult{}, err
		}
		defer func() {
			if stopErr := s.StopRecording(); stopErr != nil {
				s.logger.Warn().Err(stopErr).Msg("stopping trial recording")
			}
		}()
	}

	res.EndedBy = EndedByDuration
	for {
		if err := trial.Draw(d); err != nil {
			return res, err
		}
		if err := d.Flip(); err != nil {
			return res, err
		}

		events, err := s.pollUI(d)
		res.Events = append(res.Events, events...)
		if err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		for _, ev := range events {
			if ev.IsEscape() {
				res.EndedBy = EndedByEscape
				break
			}
			if trial.OnEvent != nil && trial.OnEvent(ev) {
				res.EndedBy = EndedByCallback
				break
			}
		}
		if res.EndedBy != EndedByDuration {
			break
		}
		if trial.Duration > 0 && time.Since(start) >= trial.Duration {
			break
		}

		select {
		case <-ctx.Done():
			res.Duration = time.Since(start)
			return res, ctx.Err()
		case <-time.After(s.uiPoll()):
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}
