package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/coal/gazelink/internal/acquisition"
	"github.com/coal/gazelink/internal/display"
	"github.com/coal/gazelink/internal/journal"
	"github.com/coal/gazelink/internal/link"
	"github.com/coal/gazelink/internal/session"
	"github.com/coal/gazelink/internal/stream"
	"github.com/coal/gazelink/internal/telemetry"
)

var (
	recordConfigFile string
	recordDummy      bool
	recordDuration   time.Duration
	recordSavePath   string
	recordCalibrate  bool
	recordRaw        bool
	recordBuffer     int
	recordNewest     bool
	recordEvents     int
	recordDisplay    string
	journalFile      string
	listenAddr       string
	streamFilter     string
	exportTraces     bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Connect to the tracker and record one session",
	Long: `Connect to the tracker, optionally calibrate, then record until the duration
elapses or escape is pressed. The data file is transferred to the save path
on exit, including on Ctrl+C.`,
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordConfigFile, "config", "", "Path to settings YAML file (default: built-in defaults)")
	f.BoolVar(&recordDummy, "dummy", false, "Use the simulated tracker")
	f.DurationVar(&recordDuration, "duration", 0, "Stop recording after this long (0: until escape)")
	f.StringVar(&recordSavePath, "save", "", "Directory to save the data file to (default: settings filepath)")
	f.BoolVar(&recordCalibrate, "calibrate", false, "Run calibration before recording")
	f.BoolVar(&recordRaw, "raw", false, "Also record raw pupil/CR samples over the link")
	f.IntVar(&recordBuffer, "buffer", 0, "Sample buffer length (0: disabled)")
	f.BoolVar(&recordNewest, "newest-only", false, "Poll only the newest sample instead of draining the link queue")
	f.IntVar(&recordEvents, "event-buffer", 1000, "Gaze event buffer length")
	f.StringVar(&recordDisplay, "display", "", fmt.Sprintf("Display backend %v (default: settings backend)", display.Backends()))
	f.StringVar(&journalFile, "journal", "", "Path to session journal file (default: disabled)")
	f.StringVar(&listenAddr, "listen", "", "Serve the live gaze stream on this address (e.g. :8090)")
	f.StringVar(&streamFilter, "stream-filter", "", `Only stream events matching this expression (e.g. 'type == "fixation_end" && duration > 100')`)
	f.BoolVar(&exportTraces, "otlp", false, "Export session spans over OTLP/HTTP (configured by OTEL_* variables)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	ctx := cmd.Context()

	st, err := loadSettings(recordConfigFile)
	if err != nil {
		return err
	}
	if recordDummy {
		st.HostIP = link.DummyAddress
	}

	sessionID := uuid.NewString()
	jrnl := journal.Nop()
	if journalFile != "" {
		jrnl, err = journal.NewFile(journalFile, sessionID)
		if err != nil {
			return fmt.Errorf("creating journal: %w", err)
		}
		defer jrnl.Close()
		logger.Info().Str("path", journalFile).Msg("session journal enabled")
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithSessionID(sessionID),
		session.WithJournal(jrnl),
		session.WithSampleBuffer(recordBuffer, recordBuffer > 0),
		session.WithEventBuffer(recordEvents),
	}
	if recordNewest {
		opts = append(opts, session.WithFetchMode(acquisition.FetchNewest))
	}
	if recordRaw {
		opts = append(opts, session.WithRawData())
	}
	if recordSavePath != "" {
		opts = append(opts, session.WithSavePath(recordSavePath))
	}
	if recordDisplay != "" {
		opts = append(opts, session.WithDisplayBackend(recordDisplay))
	}

	if exportTraces {
		otelCfg, err := telemetry.ConfigFromEnv()
		if err != nil {
			return err
		}
		tp, err := telemetry.NewProvider(ctx, otelCfg, sessionID)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
				logger.Warn().Err(err).Msg("flushing traces")
			}
		}()
		otel.SetTracerProvider(tp)
		logger.Info().Str("endpoint", otelCfg.Endpoint()).Msg("trace export enabled")
	}

	if listenAddr != "" {
		hubOpts := stream.HubOptions{}
		if streamFilter != "" {
			hubOpts.Filter, err = stream.CompileFilter(streamFilter)
			if err != nil {
				return err
			}
		}
		hub := stream.NewHub(sessionID, hubOpts, logger)
		opts = append(opts,
			session.WithSampleObserver(hub.OnSample),
			session.WithEventObserver(hub.OnEvent),
		)

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stream.Run(streamCtx, hub)

		srv := &http.Server{Addr: listenAddr, Handler: stream.Handler(hub)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("gaze stream server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	cfg, err := session.NewConfig(st, opts...)
	if err != nil {
		return err
	}

	printBanner(st.HostIP, st.DataFileName(), cfg.SavePath)

	s := session.MustConnect(ctx, cfg)
	if s == nil {
		return errors.New("could not connect to the eye tracker")
	}
	defer s.Close()
	stop := s.WatchSignals()
	defer stop()

	if recordCalibrate {
		if err := s.Calibrate(ctx, true); err != nil {
			if endedByShutdown(s, err) {
				return nil
			}
			return fmt.Errorf("calibration: %w", err)
		}
	}

	if err := s.SetTrialID(1); err != nil {
		return err
	}
	prompt := "Recording. Press ESC to stop."
	if recordDuration > 0 {
		prompt = fmt.Sprintf("Recording for %s. Press ESC to stop early.", recordDuration)
	}
	res, err := s.RunTrial(ctx, session.Trial{
		Draw: func(d display.Display) error {
			d.Fill(display.Gray)
			d.DrawText(prompt, display.TextOptions{Size: 32, Color: display.White})
			return nil
		},
		Duration: recordDuration,
		Record:   true,
		SendLink: listenAddr != "",
	})
	if err != nil {
		if endedByShutdown(s, err) {
			return nil
		}
		return fmt.Errorf("recording: %w", err)
	}
	if err := s.SetTrialResult(res.EndedBy, 0); err != nil {
		logger.Warn().Err(err).Msg("marking trial result")
	}

	ev := logger.Info().
		Str("ended_by", res.EndedBy).
		Dur("duration", res.Duration)
	if data := s.Data(); data != nil {
		stats := data.Stats()
		ev = ev.Uint64("samples_fetched", stats.Samples.Fetched).
			Uint64("samples_stored", stats.Samples.Stored).
			Uint64("fetch_failures", stats.Samples.Failures)
	}
	if events := s.Events(); events != nil {
		ev = ev.Uint64("events", events.Stats().Stored)
	}
	ev.Msg("recording finished")
	return nil
}

// endedByShutdown reports whether err only says that the session was shut
// down under the caller, as on Ctrl+C. The shutdown owns the exit status then.
func endedByShutdown(s *session.Session, err error) bool {
	if !s.Ended() {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, session.ErrInterrupted)
}

func printBanner(host, file, savePath string) {
	fmt.Fprintf(os.Stderr, "\n  gazelink v%s\n", Version)
	fmt.Fprintf(os.Stderr, "  Tracker:   %s\n", host)
	fmt.Fprintf(os.Stderr, "  Data file: %s -> %s\n", file, savePath)
	if listenAddr != "" {
		addr := listenAddr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		fmt.Fprintf(os.Stderr, "  Stream:    ws://%s/_gazelink/ws\n", addr)
	}
	fmt.Fprintln(os.Stderr)
}
