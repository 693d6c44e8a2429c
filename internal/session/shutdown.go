package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EndExperiment stops recording, shuts down acquisition, closes the display,
// saves the data file to savePath (the session save path when empty) and
// disconnects. Every step runs even if an earlier one failed; failures are
// logged, never returned. Only the first call does anything; later calls
// block until it has finished.
func (s *Session) EndExperiment(savePath string) {
	if !s.cleanedUp.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("experiment already ending, waiting for cleanup")
		<-s.ended
		return
	}
	defer close(s.ended)
	// unblock whatever the caller's goroutine is waiting on before taking
	// the transition lock it may hold
	s.cancel()

	s.transMu.Lock()
	defer s.transMu.Unlock()

	if s.State() == Disconnected {
		s.setState(Closed)
		return
	}
	if savePath == "" {
		savePath = s.SavePath()
	}

	ctx, span := s.tracer.Start(context.Background(), "session.end_experiment",
		trace.WithAttributes(attribute.String("save_path", savePath)))
	defer span.End()

	s.setState(ShuttingDown)
	s.logger.Info().Msg("ending experiment, saving data file")

	failed := 0
	step := func(name string, fn func() error) {
		if err := s.runStep(ctx, name, fn); err != nil {
			failed++
		}
	}

	step("stop recording", s.stopRecordingLocked)
	step("shut down acquisition", func() error {
		return errors.Join(s.data.Shutdown(), s.events.Shutdown())
	})
	step("close display", func() error { return s.disp.Close() })
	step("save data file", func() error { return s.saveDataFile(savePath) })
	step("close link", func() error { return s.link.Close() })

	s.setState(Closed)
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d cleanup steps failed", failed))
		s.logger.Warn().Int("failed_steps", failed).Msg("experiment cleanup finished with errors")
		return
	}
	s.logger.Info().Msg("experiment cleanup complete")
}

// runStep runs one cleanup step, turning errors and panics into a logged
// CleanupStepError.
func (s *Session) runStep(ctx context.Context, name string, fn func() error) (stepErr error) {
	_, span := s.tracer.Start(ctx, "cleanup."+name)
	defer func() {
		if r := recover(); r != nil {
			stepErr = &CleanupStepError{Step: name, Err: fmt.Errorf("panic: %v", r)}
		}
		if stepErr != nil {
			span.RecordError(stepErr)
			span.SetStatus(codes.Error, stepErr.Error())
			s.logger.Error().Err(stepErr).Msg("cleanup step failed")
		}
		s.journal.Cleanup(name, stepErr)
		span.End()
	}()

	if err := fn(); err != nil {
		return &CleanupStepError{Step: name, Err: err}
	}
	return nil
}

// saveDataFile closes the data file on the tracker and copies it to dir.
// The pauses ignore shutdown cancellation; they are part of shutdown.
func (s *Session) saveDataFile(dir string) error {
	st := s.cfg.Settings
	t := s.cfg.Timings

	if err := s.link.SetOfflineMode(); err != nil {
		return fmt.Errorf("setting offline mode: %w", err)
	}
	time.Sleep(t.BeforeClose)

	if err := s.link.CloseDataFile(); err != nil {
		return fmt.Errorf("closing data file: %w", err)
	}
	s.logger.Info().Msg("data file closed")
	time.Sleep(t.BeforeTransfer)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating save directory: %w", err)
	}
	local := filepath.Join(dir, st.DataFileName())
	s.logger.Info().Str("remote", st.DataFileName()).Str("local", local).Msg("receiving data file")
	n, err := s.link.TransferDataFile(st.DataFileName(), local)
	if err != nil {
		return fmt.Errorf("transferring data file: %w", err)
	}
	s.logger.Info().Str("path", local).Int64("bytes", n).Msg("data file saved")
	return nil
}

// Ended reports whether EndExperiment has been called.
func (s *Session) Ended() bool { return s.cleanedUp.Load() }

// Close ends the experiment with the session save path. It always returns
// nil, so it can be deferred right after Connect.
func (s *Session) Close() error {
	s.EndExperiment("")
	return nil
}

// Interrupt handles Ctrl+C: it ends the experiment and exits the process with
// status 0.
func (s *Session) Interrupt() {
	s.logger.Warn().Msg("interrupt received, shutting down")
	s.EndExperiment("")
	s.logger.Warn().Msg("cleanup complete, exiting")
	s.cfg.exit(0)
}

// WatchSignals calls Interrupt on SIGINT or SIGTERM. The returned function
// stops watching.
func (s *Session) WatchSignals() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			s.logger.Warn().Str("signal", sig.String()).Msg("signal received")
			s.Interrupt()
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
