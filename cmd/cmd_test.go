package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coal/gazelink/internal/link"
	"github.com/coal/gazelink/internal/session"
	"github.com/coal/gazelink/internal/settings"
)

func sampleRecording(t *testing.T) *link.Recording {
	t.Helper()
	var buf bytes.Buffer
	rw, err := link.NewRecordingWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	rw.WriteMessage(link.Message{Time: 1, Text: "TRIALID 1"})
	rw.WriteSample(link.Sample{Time: 10, Left: link.EyeData{Valid: true}})
	rw.WriteSample(link.Sample{Time: 11})
	rw.WriteSample(link.Sample{Time: 12, Right: link.EyeData{Valid: true}})
	rw.WriteEvent(link.GazeEvent{Time: 20, Type: link.EndFixation, StartTime: 0, EndTime: 200})
	rw.WriteEvent(link.GazeEvent{Time: 30, Type: link.EndFixation, StartTime: 300, EndTime: 400})
	rw.WriteEvent(link.GazeEvent{Time: 40, Type: link.StartSaccade, StartTime: 400})
	rw.WriteMessage(link.Message{Time: 50, Text: "TRIAL_RESULT escape"})

	rec, err := link.ReadRecording(&buf)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestSummarize(t *testing.T) {
	sum := summarize(sampleRecording(t), false)

	if sum.Samples != 3 || sum.ValidSamples != 2 {
		t.Errorf("samples = %d valid = %d, want 3 and 2", sum.Samples, sum.ValidSamples)
	}
	if sum.FirstTime != 10 || sum.LastTime != 12 {
		t.Errorf("span = %d..%d, want 10..12", sum.FirstTime, sum.LastTime)
	}
	if sum.Messages != 2 {
		t.Errorf("messages = %d, want 2", sum.Messages)
	}
	if sum.Events["fixation_end"] != 2 || sum.Events["saccade_start"] != 1 {
		t.Errorf("events = %v", sum.Events)
	}
	if sum.AvgFixation != 150 {
		t.Errorf("avg fixation = %v, want 150", sum.AvgFixation)
	}
	if len(sum.Trials) != 1 || sum.Trials[0] != "1" {
		t.Errorf("trials = %v", sum.Trials)
	}
	if sum.MessageLog != nil {
		t.Error("message log included without asking")
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, "sub01.edf", summarize(sampleRecording(t), true))

	got := out.String()
	for _, want := range []string{"sub01.edf", "Samples:  3 (66.7% valid, 10..12 ms)", "fixation_end", "TRIAL_RESULT escape"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestLoadSettings(t *testing.T) {
	s, err := loadSettings("")
	if err != nil {
		t.Fatal(err)
	}
	if s.SampleRate != settings.Default().SampleRate {
		t.Errorf("sample rate = %d", s.SampleRate)
	}

	path := filepath.Join(t.TempDir(), "gazelink.yaml")
	custom := settings.Default()
	custom.FileName = "sub07"
	custom.SampleRate = 500
	if err := settings.SaveToFile(custom, path); err != nil {
		t.Fatal(err)
	}
	s, err = loadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.FileName != "sub07" || s.SampleRate != 500 {
		t.Errorf("loaded %s at %d Hz", s.FileName, s.SampleRate)
	}

	if _, err := loadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEndedByShutdown(t *testing.T) {
	cfg, err := session.NewConfig(settings.Default(), session.WithSavePath(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	s := session.New(cfg)
	canceled := fmt.Errorf("waiting for calibration: %w", context.Canceled)

	if endedByShutdown(s, canceled) {
		t.Error("live session reported as shut down")
	}

	s.EndExperiment("")
	tests := []struct {
		err  error
		want bool
	}{
		{canceled, true},
		{session.ErrInterrupted, true},
		{errors.New("link lost"), false},
	}
	for _, tt := range tests {
		if got := endedByShutdown(s, tt.err); got != tt.want {
			t.Errorf("endedByShutdown(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
