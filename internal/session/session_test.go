package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/coal/gazelink/internal/acquisition"
	"github.com/coal/gazelink/internal/display"
	"github.com/coal/gazelink/internal/journal"
	"github.com/coal/gazelink/internal/link"
	"github.com/coal/gazelink/internal/settings"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	s       *Session
	link    *fakeLink
	disp    *display.Headless
	dir     string
	logs    *syncBuffer
	journal *syncBuffer

	exitMu sync.Mutex
	exits  []int
}

func (h *harness) exitCodes() []int {
	h.exitMu.Lock()
	defer h.exitMu.Unlock()
	return append([]int(nil), h.exits...)
}

func (h *harness) journalEntries(t *testing.T) []journal.Entry {
	t.Helper()
	var out []journal.Entry
	scanner := bufio.NewScanner(bytes.NewBufferString(h.journal.String()))
	for scanner.Scan() {
		var e journal.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

func newHarness(t *testing.T, mutate func(*settings.Settings), opts ...Option) *harness {
	t.Helper()
	h := &harness{
		link:    newFakeLink(),
		disp:    display.NewHeadless(display.Config{}),
		dir:     filepath.Join(t.TempDir(), "data", "sub01"),
		logs:    &syncBuffer{},
		journal: &syncBuffer{},
	}

	st := settings.Default()
	st.FileName = "sub01"
	if mutate != nil {
		mutate(&st)
	}

	base := []Option{
		WithDialer(dialerFor(h.link)),
		WithDisplay(h.disp),
		WithTimings(Timings{}),
		WithPolling(time.Millisecond, time.Second),
		WithSavePath(h.dir),
		WithLogger(zerolog.New(h.logs)),
		WithJournal(journal.New(h.journal, "test-session")),
		WithExitFunc(func(code int) {
			h.exitMu.Lock()
			h.exits = append(h.exits, code)
			h.exitMu.Unlock()
		}),
	}
	cfg, err := NewConfig(st, append(base, opts...)...)
	require.NoError(t, err)
	h.s = New(cfg)
	return h
}

func connected(t *testing.T, mutate func(*settings.Settings), opts ...Option) *harness {
	t.Helper()
	h := newHarness(t, mutate, opts...)
	require.NoError(t, h.s.Connect(context.Background()))
	t.Cleanup(func() { h.s.EndExperiment("") })
	return h
}

func opsAfter(ops []string, n int) []string {
	if n > len(ops) {
		return nil
	}
	return ops[n:]
}

func TestNewConfig(t *testing.T) {
	st := settings.Default()
	st.SampleRate = 300
	_, err := NewConfig(st)
	var cfgErr *settings.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewConfig(settings.Default(), WithSampleBuffer(-1, true))
	assert.Error(t, err)

	cfg, err := NewConfig(settings.Default())
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.SessionID())
	assert.Equal(t, ".", cfg.SavePath)
	assert.Equal(t, DefaultTimings(), cfg.Timings)
	assert.Equal(t, acquisition.FetchBuffered, cfg.FetchMode)
}

func TestConnect_ConfiguresTracker(t *testing.T) {
	h := connected(t, nil)
	assert.Equal(t, Connected, h.s.State())

	ops := h.link.calls()
	require.GreaterOrEqual(t, len(ops), 3)
	assert.Equal(t, []string{"stop_recording", "offline", "open_file sub01.edf"}, ops[:3])

	cmds := h.link.commands()
	for _, want := range []string{
		"binocular_enabled = YES",
		"elcl_tt_power 2",
		"screen_pixel_coords 0 0 1279 1023",
		"screen_phys_coords -188 150.5 188 -150.5",
		"screen_phys_coords = -188 150.5 188 -150.5",
		"screen_distance 960 1000",
		"camera_lens_focal_length = 25",
		"screen_distance = 490 490",
		"sample_rate = 1000",
		"pupil_size_diameter = AREA",
		"calibration_area_proportion = 0.9 0.9",
		"heuristic_filter 0 0",
		"use_ellipse_fitter = NO",
		"file_sample_raw_pcr = 0",
	} {
		assert.Contains(t, cmds, want)
	}
	assert.NotContains(t, cmds, "link_sample_raw_pcr = 1")
	assert.Equal(t, []string{"DISPLAY_COORDS 0 0 1279 1023"}, h.link.messages())
}

func TestConnect_RawDataAndEyeSelection(t *testing.T) {
	h := connected(t, func(s *settings.Settings) { s.EyeTracked = "Left" }, WithRawData())

	cmds := h.link.commands()
	assert.Contains(t, cmds, "binocular_enabled = NO")
	assert.Contains(t, cmds, "active_eye = LEFT")
	assert.Contains(t, cmds, "link_sample_raw_pcr = 1")
	assert.Contains(t, cmds, "raw_pcr_dual_corneal = 1")
}

func TestConnect_Idempotent(t *testing.T) {
	h := connected(t, nil)
	before := len(h.link.calls())

	require.NoError(t, h.s.Connect(context.Background()))
	assert.Equal(t, Connected, h.s.State())
	assert.Len(t, h.link.calls(), before, "second connect touches nothing")
	assert.Contains(t, h.logs.String(), "already connected")
}

func TestConnect_InvalidFileName(t *testing.T) {
	for _, name := range []string{"subject01", "sub-1", "süb"} {
		h := newHarness(t, func(s *settings.Settings) { s.FileName = name })

		err := h.s.Connect(context.Background())
		assert.ErrorIs(t, err, ErrInvalidFileName, name)
		assert.Equal(t, Disconnected, h.s.State())
		assert.Zero(t, h.link.count("open_file"), "file never opened")
		assert.Equal(t, 1, h.link.count("close"), "link released")
	}
}

func TestConnect_Failure(t *testing.T) {
	h := newHarness(t, nil, WithDialer(func(context.Context, string, link.Options) (link.Link, error) {
		return nil, errors.New("no route to host")
	}))

	err := h.s.Connect(context.Background())
	var connErr *link.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "100.1.1.1", connErr.Address)
	assert.Equal(t, Disconnected, h.s.State())
}

func TestMustConnect_ExitsWithRemediation(t *testing.T) {
	logs := &syncBuffer{}
	var exits []int
	cfg, err := NewConfig(settings.Default(),
		WithLogger(zerolog.New(logs)),
		WithDialer(func(context.Context, string, link.Options) (link.Link, error) {
			return nil, errors.New("no route to host")
		}),
		WithExitFunc(func(code int) { exits = append(exits, code) }),
	)
	require.NoError(t, err)

	s := MustConnect(context.Background(), cfg)
	assert.Nil(t, s)
	assert.Equal(t, []int{1}, exits)
	assert.Contains(t, logs.String(), "Ethernet cable")
	assert.Contains(t, logs.String(), "100.1.1.1")
}

func TestNotConnected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.s.SendCommand("x"), ErrNotConnected)
	assert.ErrorIs(t, h.s.SendMessage("x"), ErrNotConnected)
	assert.ErrorIs(t, h.s.StartRecording(ctx, true), ErrNotConnected)
	assert.ErrorIs(t, h.s.Calibrate(ctx, false), ErrNotConnected)
	assert.ErrorIs(t, h.s.ShowMessage("x", MessageStyle{}), ErrNotConnected)
	_, err := h.s.TrackerVersion()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, h.s.StopRecording(), "stop is always safe")

	h.s.EndExperiment("")
	assert.Equal(t, Closed, h.s.State())
	assert.Empty(t, h.link.calls())
	assert.ErrorIs(t, h.s.Connect(ctx), ErrNotConnected)
}

func TestStopRecording_WhenNotRecording(t *testing.T) {
	h := connected(t, nil, WithSampleBuffer(10, true))

	require.NoError(t, h.s.StopRecording())
	require.NoError(t, h.s.StopRecording())
	assert.Equal(t, 1, h.link.count("stop_recording"), "only the leftover stop from connect")
	assert.False(t, h.s.Data().SamplesRunning())
	assert.False(t, h.s.Events().Running())
	assert.Equal(t, Connected, h.s.State())
}

func TestStartRecording_RawSequence(t *testing.T) {
	h := connected(t, nil, WithRawData(), WithSampleBuffer(10, true))
	n := len(h.link.calls())

	require.NoError(t, h.s.StartRecording(context.Background(), false))
	assert.Equal(t, []string{
		"cmd heuristic_filter 0 0",
		"cmd set_idle_mode",
		"offline",
		"raw on",
		"start_recording link",
		"realtime on",
	}, opsAfter(h.link.calls(), n))
	assert.Equal(t, Recording, h.s.State())
	assert.True(t, h.s.IsRecording())
	assert.True(t, h.s.Data().RawRunning())
	assert.True(t, h.s.Data().SamplesRunning())
	assert.True(t, h.s.Events().Running())

	require.NoError(t, h.s.StartRecording(context.Background(), false))
	assert.Equal(t, 1, h.link.count("start_recording"), "second start is a no-op")

	n = len(h.link.calls())
	require.NoError(t, h.s.StopRecording())
	assert.Equal(t, []string{"realtime off", "stop_recording"}, opsAfter(h.link.calls(), n))
	assert.False(t, h.s.Data().RawRunning())
	assert.False(t, h.s.Data().SamplesRunning())
	assert.False(t, h.s.Events().Running())
	assert.Equal(t, Connected, h.s.State())
}

func TestStartRecording_FileOnly(t *testing.T) {
	h := connected(t, func(s *settings.Settings) { s.SetHeuristicFilter = false })
	n := len(h.link.calls())

	require.NoError(t, h.s.StartRecording(context.Background(), false))
	assert.Equal(t, []string{"cmd set_idle_mode", "start_recording"}, opsAfter(h.link.calls(), n))
	assert.False(t, h.s.Data().SamplesRunning())
	assert.False(t, h.s.Events().Running())
	require.NoError(t, h.s.StopRecording())
}

func TestStartRecording_LinkFailure(t *testing.T) {
	h := connected(t, nil)
	h.link.failOn("start_recording", errors.New("tracker busy"))

	err := h.s.StartRecording(context.Background(), true)
	assert.ErrorContains(t, err, "tracker busy")
	assert.False(t, h.s.IsRecording())
	assert.Equal(t, Connected, h.s.State())
}

func TestStartRecording_RawRollbackFailureIsLogged(t *testing.T) {
	h := connected(t, nil, WithRawData())
	h.link.failOn("start_recording", errors.New("tracker busy"))
	h.link.failOn("raw off", errors.New("raw toggle refused"))
	n := len(h.link.calls())

	err := h.s.StartRecording(context.Background(), true)
	assert.ErrorContains(t, err, "tracker busy")
	assert.Equal(t, []string{
		"cmd heuristic_filter 0 0",
		"cmd set_idle_mode",
		"offline",
		"raw on",
		"start_recording link",
		"raw off",
	}, opsAfter(h.link.calls(), n))
	assert.Contains(t, h.logs.String(), "raw toggle refused")
	assert.False(t, h.s.IsRecording())
}

func TestEndExperiment_SavesAndCloses(t *testing.T) {
	h := connected(t, nil, WithSampleBuffer(10, true))
	require.NoError(t, h.s.StartRecording(context.Background(), true))

	h.s.EndExperiment("")

	assert.Equal(t, Closed, h.s.State())
	assert.True(t, h.disp.Closed())
	assert.FileExists(t, filepath.Join(h.dir, "sub01.edf"))

	ops := h.link.calls()
	assert.Equal(t, []string{"stop_recording", "offline", "close_file", "transfer sub01.edf", "close"}, ops[len(ops)-5:])
	assert.False(t, h.s.Data().SamplesRunning())
	assert.False(t, h.s.Events().Running())

	var states []string
	for _, e := range h.journalEntries(t) {
		if e.Kind == journal.KindTransition {
			states = append(states, e.To)
		}
	}
	assert.Equal(t, []string{"connecting", "connected", "recording", "shutting_down", "closed"}, states)
}

func TestEndExperiment_Idempotent(t *testing.T) {
	h := connected(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.s.EndExperiment("")
		}()
	}
	wg.Wait()
	h.s.EndExperiment("")
	require.NoError(t, h.s.Close())

	assert.Equal(t, 1, h.link.count("transfer"))
	assert.Equal(t, 1, h.link.count("close"))
	assert.Equal(t, Closed, h.s.State())
	assert.NoError(t, h.s.StopRecording(), "stop after close is still safe")
}

func TestEndExperiment_StepFailuresDoNotStopLaterSteps(t *testing.T) {
	h := connected(t, nil)
	require.NoError(t, h.s.StartRecording(context.Background(), true))
	h.link.failOn("stop_recording", errors.New("link hiccup"))

	h.s.EndExperiment("")

	assert.Equal(t, 1, h.link.count("transfer"), "data file saved despite stop failure")
	assert.Equal(t, 1, h.link.count("close"))
	assert.True(t, h.disp.Closed())
	assert.Equal(t, Closed, h.s.State())

	var failed []string
	for _, e := range h.journalEntries(t) {
		if e.Kind == journal.KindCleanup && e.Error != "" {
			failed = append(failed, e.Step)
		}
	}
	assert.Equal(t, []string{"stop recording"}, failed)
	assert.Contains(t, h.logs.String(), "link hiccup")
}

func TestEndExperiment_PanicInStep(t *testing.T) {
	h := connected(t, nil)
	h.link.panicOn("close_file")

	assert.NotPanics(t, func() { h.s.EndExperiment("") })
	assert.Zero(t, h.link.count("transfer"))
	assert.Equal(t, 1, h.link.count("close"), "link closed after a panicking step")
	assert.Equal(t, Closed, h.s.State())
	assert.Contains(t, h.logs.String(), "close_file exploded")
}

func TestEndExperiment_ExplicitPath(t *testing.T) {
	h := connected(t, nil)
	other := filepath.Join(t.TempDir(), "elsewhere")

	h.s.EndExperiment(other)
	assert.FileExists(t, filepath.Join(other, "sub01.edf"))
	assert.NoFileExists(t, filepath.Join(h.dir, "sub01.edf"))
}

func TestEndExperiment_DuringCalibration(t *testing.T) {
	h := connected(t, nil)
	h.link.setup = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	errc := make(chan error, 1)
	go func() { errc <- h.s.Calibrate(context.Background(), true) }()
	require.Eventually(t, func() bool { return h.link.count("setup") == 1 }, 2*time.Second, time.Millisecond)

	h.s.EndExperiment("")

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("calibration still running after shutdown")
	}
	assert.Equal(t, 1, h.link.count("transfer"))
	assert.Equal(t, Closed, h.s.State())
}

func TestClose_WaitsForConcurrentInterrupt(t *testing.T) {
	h := connected(t, nil, WithTimings(Timings{BeforeTransfer: 200 * time.Millisecond}))
	h.link.setup = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	errc := make(chan error, 1)
	go func() { errc <- h.s.Calibrate(context.Background(), true) }()
	require.Eventually(t, func() bool { return h.link.count("setup") == 1 }, 2*time.Second, time.Millisecond)

	go h.s.Interrupt()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("calibration still running after interrupt")
	}

	// the interrupt is still pausing before the transfer here
	require.NoError(t, h.s.Close())
	assert.FileExists(t, filepath.Join(h.dir, "sub01.edf"))
	assert.Equal(t, Closed, h.s.State())
	assert.Equal(t, 1, h.link.count("transfer"))
}

func TestCalibrate_Commands(t *testing.T) {
	h := connected(t, nil)
	n := len(h.link.commands())

	require.NoError(t, h.s.Calibrate(context.Background(), true))
	assert.Equal(t, []string{
		"calibration_type = HV9",
		"automatic_calibration_pacing = 1000",
		"sticky_mode_data_enable DATA = 1 1 0 0",
		"sticky_mode_data_enable",
		"set_idle_mode",
		"setup_menu_mode",
		"set_idle_mode",
	}, h.link.commands()[n:])
	assert.Equal(t, 1, h.link.count("setup"))
}

func TestCalibrate_DummyInterrupt(t *testing.T) {
	h := connected(t, func(s *settings.Settings) { s.HostIP = "dummy" })
	assert.True(t, h.s.IsDummy())
	h.disp.Inject(display.UIEvent{Kind: display.KeyDown, Key: "c", Ctrl: true})

	err := h.s.Calibrate(context.Background(), false)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, []int{0}, h.exitCodes())
	assert.Equal(t, Closed, h.s.State())
	assert.FileExists(t, filepath.Join(h.dir, "sub01.edf"))
}

func TestHelpers(t *testing.T) {
	h := connected(t, nil)
	msgs, cmds := len(h.link.messages()), len(h.link.commands())

	require.NoError(t, h.s.SetTrialID(3))
	require.NoError(t, h.s.SetTrialResult(1, 0))
	require.NoError(t, h.s.SetStatusMessage("trial 3/40"))
	require.NoError(t, h.s.DrawTextOnHost("hello"))
	require.NoError(t, h.s.SetPupilOnlyMode())
	assert.Error(t, h.s.SetStatusMessage(string(make([]byte, 80))))

	assert.Equal(t, []string{"TRIALID 3", "TRIAL_RESULT 1"}, h.link.messages()[msgs:])
	newCmds := h.link.commands()[cmds:]
	assert.Equal(t, "clear_screen 0", newCmds[0])
	assert.Equal(t, "record_status_message 'trial 3/40'", newCmds[1])
	assert.Equal(t, `draw_text 640 50 15 "hello"`, newCmds[2])
	assert.Equal(t, "corneal_mode = NO", newCmds[len(newCmds)-1])

	v, err := h.s.TrackerVersion()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	eye, err := h.s.EyeAvailable()
	require.NoError(t, err)
	assert.Equal(t, link.EyeLeft, eye)

	h.s.SetSavePath("/tmp/x")
	assert.Equal(t, "/tmp/x", h.s.SavePath())
}

func TestWaitForKey(t *testing.T) {
	h := connected(t, nil)
	ctx := context.Background()

	h.disp.Inject(display.UIEvent{Kind: display.KeyDown, Key: "a"}, display.UIEvent{Kind: display.KeyDown, Key: "space"})
	key, err := h.s.WaitForKey(ctx, "space", 0)
	require.NoError(t, err)
	assert.Equal(t, "space", key)

	key, err = h.s.WaitForKey(ctx, "", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, key, "timeout")

	h.disp.Inject(display.UIEvent{Kind: display.KeyDown, Key: "c", Ctrl: true})
	_, err = h.s.WaitForKey(ctx, "", 0)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, []int{0}, h.exitCodes())
	assert.Equal(t, Closed, h.s.State())
}

func TestWait_CancelledByShutdown(t *testing.T) {
	h := connected(t, nil)

	errc := make(chan error, 1)
	go func() { errc <- h.s.Wait(context.Background(), time.Minute) }()
	time.Sleep(5 * time.Millisecond)
	h.s.EndExperiment("")

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("wait not cancelled by shutdown")
	}
}

func TestShowMessage(t *testing.T) {
	h := connected(t, nil)
	require.NoError(t, h.s.ShowMessage("Press SPACE", MessageStyle{}))

	frame, ok := h.disp.LastFrame()
	require.True(t, ok)
	assert.Equal(t, display.Gray, frame.Background)
	require.Len(t, frame.Texts, 1)
	assert.Equal(t, "Press SPACE", frame.Texts[0].Text)
	assert.Equal(t, 32, frame.Texts[0].Options.Size)
}

func TestRunTrial(t *testing.T) {
	h := connected(t, nil)
	ctx := context.Background()
	draw := func(d display.Display) error {
		d.Fill(display.Black)
		return nil
	}

	h.disp.Inject(display.UIEvent{Kind: display.KeyDown, Key: "escape"})
	res, err := h.s.RunTrial(ctx, Trial{Draw: draw, Record: true})
	require.NoError(t, err)
	assert.Equal(t, EndedByEscape, res.EndedBy)
	assert.Equal(t, 1, h.link.count("start_recording"))
	assert.False(t, h.s.IsRecording(), "recording stopped after the trial")

	h.disp.Inject(display.UIEvent{Kind: display.KeyDown, Key: "n"}, display.UIEvent{Kind: display.KeyDown, Key: "y"})
	res, err = h.s.RunTrial(ctx, Trial{Draw: draw, OnEvent: func(ev display.UIEvent) bool { return ev.Key == "y" }})
	require.NoError(t, err)
	assert.Equal(t, EndedByCallback, res.EndedBy)
	assert.Len(t, res.Events, 2)

	res, err = h.s.RunTrial(ctx, Trial{Draw: draw, Duration: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, EndedByDuration, res.EndedBy)
	assert.GreaterOrEqual(t, res.Duration, 20*time.Millisecond)

	_, err = h.s.RunTrial(ctx, Trial{})
	assert.Error(t, err)
}

func TestWatchSignals(t *testing.T) {
	h := connected(t, nil)
	stop := h.s.WatchSignals()
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	require.Eventually(t, func() bool { return len(h.exitCodes()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []int{0}, h.exitCodes())
	assert.Equal(t, Closed, h.s.State())
	assert.Equal(t, 1, h.link.count("transfer"))
}

func TestDummySession_EndToEnd(t *testing.T) {
	var seen sync.Map
	h := connected(t, func(s *settings.Settings) { s.HostIP = "dummy" },
		WithSampleBuffer(500, true),
		WithEventBuffer(50),
		WithSampleObserver(func(s link.Sample) { seen.Store(s.Time, true) }),
	)
	ctx := context.Background()

	require.NoError(t, h.s.StartRecording(ctx, true))
	require.NoError(t, h.s.SetTrialID(1))
	require.Eventually(t, func() bool { return len(h.s.Data().Samples()) >= 20 }, 2*time.Second, time.Millisecond)
	latest, ok := h.s.Data().Latest()
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, observed := seen.Load(latest.Time)
		return observed
	}, time.Second, time.Millisecond, "observer sees buffered samples")
	require.NoError(t, h.s.StopRecording())

	h.s.EndExperiment("")

	f, err := os.Open(filepath.Join(h.dir, "sub01.edf"))
	require.NoError(t, err)
	defer f.Close()
	rec, err := link.ReadRecording(f)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Samples)

	var texts []string
	for _, m := range rec.Messages {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "TRIALID 1")
}

func TestEndExperiment_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	h := connected(t, nil, WithTracer(tp.Tracer("test")))
	h.link.failOn("transfer", errors.New("disk full"))

	h.s.EndExperiment("")

	status := map[string]codes.Code{}
	for _, span := range rec.Ended() {
		status[span.Name()] = span.Status().Code
	}
	assert.Contains(t, status, "session.connect")
	assert.Equal(t, codes.Unset, status["cleanup.stop recording"])
	assert.Equal(t, codes.Unset, status["cleanup.close link"])
	assert.Equal(t, codes.Error, status["cleanup.save data file"])
	assert.Equal(t, codes.Error, status["session.end_experiment"])
}
