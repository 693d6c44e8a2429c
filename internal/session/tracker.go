package session

import (
	"fmt"

	"github.com/coal/gazelink/internal/link"
)

// maxStatusMessage is the longest status line the host screen shows.
const maxStatusMessage = 79

// SendCommand sends a configuration command to the tracker. Commands are not
// recorded in the data file.
func (s *Session) SendCommand(cmd string) error {
	l, err := s.liveLink()
	if err != nil {
		return err
	}
	return s.command(l, cmd)
}

// SendMessage writes a timestamped message into the data file.
func (s *Session) SendMessage(msg string) error {
	l, err := s.liveLink()
	if err != nil {
		return err
	}
	return s.message(l, msg)
}

// SetOfflineMode puts the tracker in idle mode.
func (s *Session) SetOfflineMode() error {
	l, err := s.liveLink()
	if err != nil {
		return err
	}
	return l.SetOfflineMode()
}

// TrackerVersion returns the tracker model version.
func (s *Session) TrackerVersion() (int, error) {
	l, err := s.liveLink()
	if err != nil {
		return 0, err
	}
	return l.TrackerVersion()
}

// EyeAvailable reports which eye the tracker is tracking.
func (s *Session) EyeAvailable() (link.Eye, error) {
	l, err := s.liveLink()
	if err != nil {
		return link.EyeNone, err
	}
	return l.EyeAvailable()
}

// SetStatusMessage shows msg on the host screen while recording.
func (s *Session) SetStatusMessage(msg string) error {
	if len(msg) > maxStatusMessage {
		return fmt.Errorf("status message is %d characters, the limit is %d", len(msg), maxStatusMessage)
	}
	return s.SendCommand(fmt.Sprintf("record_status_message '%s'", msg))
}

// SetTrialID marks the start of a trial in the data file.
func (s *Session) SetTrialID(id int) error {
	return s.SendMessage(fmt.Sprintf("TRIALID %d", id))
}

// SetTrialResult marks the end of a trial in the data file and clears the
// host screen to screenColor.
func (s *Session) SetTrialResult(result any, screenColor int) error {
	if err := s.SendMessage(fmt.Sprintf("TRIAL_RESULT %v", result)); err != nil {
		return err
	}
	return s.SendCommand(fmt.Sprintf("clear_screen %d", screenColor))
}

// DrawTextOnHost draws msg centred near the top of the host screen.
func (s *Session) DrawTextOnHost(msg string) error {
	x := s.cfg.Settings.ScreenRes[0] / 2
	return s.SendCommand(fmt.Sprintf("draw_text %d %d 15 %q", x, 50, msg))
}

// SetPupilOnlyMode tracks the pupil without a corneal reflection.
func (s *Session) SetPupilOnlyMode() error {
	l, err := s.liveLink()
	if err != nil {
		return err
	}
	return s.commands(l,
		"force_corneal_reflection = OFF",
		"allow_pupil_without_cr = ON",
		"elcl_hold_if_no_corneal = OFF",
		"elcl_search_if_no_corneal = OFF",
		"elcl_use_pcr_matching = OFF",
		"corneal_mode = NO",
	)
}
