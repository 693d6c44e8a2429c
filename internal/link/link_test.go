package link

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestDummy(rate int) (*Dummy, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	d := newDummy(Options{SampleRate: rate, Logger: zerolog.Nop()}, clock.Now)
	return d, clock
}

var allFlags = RecordFlags{FileSamples: true, FileEvents: true, LinkSamples: true, LinkEvents: true}

func TestDial_Dummy(t *testing.T) {
	for _, addr := range []string{"", "dummy", "DUMMY", " dummy "} {
		l, err := Dial(context.Background(), addr, Options{Logger: zerolog.Nop()})
		require.NoError(t, err, addr)
		assert.True(t, l.IsDummy())
		assert.True(t, l.IsConnected())
	}
}

func TestDial_NoDriver(t *testing.T) {
	RegisterDriver(nil)

	_, err := Dial(context.Background(), "100.1.1.1", Options{})
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "100.1.1.1", connErr.Address)
	assert.ErrorIs(t, err, ErrNoDriver)
}

func TestDial_DriverFailureWrapped(t *testing.T) {
	boom := errors.New("host unreachable")
	RegisterDriver(func(ctx context.Context, address string, opts Options) (Link, error) {
		return nil, boom
	})
	defer RegisterDriver(nil)

	_, err := Dial(context.Background(), "100.1.1.1", Options{})
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, boom)
}

func TestDial_DriverNotConnected(t *testing.T) {
	d, _ := newTestDummy(1000)
	require.NoError(t, d.Close())
	RegisterDriver(func(ctx context.Context, address string, opts Options) (Link, error) {
		return d, nil
	})
	defer RegisterDriver(nil)

	_, err := Dial(context.Background(), "100.1.1.1", Options{})
	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestDummy_NoDataBeforeRecording(t *testing.T) {
	d, _ := newTestDummy(1000)

	_, err := d.NextSample()
	assert.ErrorIs(t, err, ErrNoData)
	_, err = d.NewestSample()
	assert.ErrorIs(t, err, ErrNoData)
	_, err = d.NextEvent()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestDummy_GeneratesSamplesAtRate(t *testing.T) {
	d, clock := newTestDummy(500)
	require.NoError(t, d.StartRecording(allFlags))

	clock.Advance(100 * time.Millisecond)

	var got []Sample
	for {
		s, err := d.NextSample()
		if errors.Is(err, ErrNoData) {
			break
		}
		require.NoError(t, err)
		got = append(got, s)
	}

	// 0ms..100ms inclusive every 2ms
	assert.Len(t, got, 51)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Time+2, got[i].Time)
	}

	newest, err := d.NewestSample()
	require.NoError(t, err)
	assert.Equal(t, got[len(got)-1], newest)
}

func TestDummy_LinkFlagsGateQueues(t *testing.T) {
	d, clock := newTestDummy(1000)
	require.NoError(t, d.StartRecording(RecordFlags{FileSamples: true, FileEvents: true}))
	clock.Advance(50 * time.Millisecond)

	_, err := d.NextSample()
	assert.ErrorIs(t, err, ErrNoData)
	_, err = d.NextEvent()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestDummy_EventsAreOrdered(t *testing.T) {
	d, clock := newTestDummy(1000)
	require.NoError(t, d.StartRecording(allFlags))
	clock.Advance(5 * time.Second)

	var events []GazeEvent
	for {
		e, err := d.NextEvent()
		if errors.Is(err, ErrNoData) {
			break
		}
		require.NoError(t, err)
		events = append(events, e)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, StartFixation, events[0].Type)
	seen := map[EventType]bool{}
	for i, e := range events {
		seen[e.Type] = true
		if i > 0 {
			assert.GreaterOrEqual(t, e.Time, events[i-1].Time)
		}
	}
	assert.True(t, seen[EndFixation])
	assert.True(t, seen[StartSaccade])
	assert.True(t, seen[EndSaccade])
	assert.True(t, seen[StartBlink], "a blink is due every 4s")
}

func TestDummy_RawSamplesRequireEnable(t *testing.T) {
	d, clock := newTestDummy(1000)
	require.NoError(t, d.StartRecording(allFlags))
	clock.Advance(10 * time.Millisecond)
	_, err := d.NextRawSample()
	assert.ErrorIs(t, err, ErrNoData)

	require.NoError(t, d.EnableRawData(true))
	clock.Advance(10 * time.Millisecond)
	r, err := d.NextRawSample()
	require.NoError(t, err)
	assert.NotZero(t, r.Time)
}

func TestDummy_TransferDataFile(t *testing.T) {
	d, clock := newTestDummy(1000)
	require.NoError(t, d.OpenDataFile("sub01.edf"))
	require.NoError(t, d.StartRecording(allFlags))
	require.NoError(t, d.SendMessage("TRIALID 1"))
	clock.Advance(20 * time.Millisecond)
	require.NoError(t, d.StopRecording())
	require.NoError(t, d.SendMessage("TRIAL_RESULT 0"))
	require.NoError(t, d.CloseDataFile())

	dest := filepath.Join(t.TempDir(), "nested", "dir", "sub01.edf")
	n, err := d.TransferDataFile("sub01.edf", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	rec, err := ReadRecording(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, "TRIALID 1", rec.Messages[0].Text)
	assert.Equal(t, "TRIAL_RESULT 0", rec.Messages[1].Text)
	assert.Len(t, rec.Samples, 21)
	assert.NotEmpty(t, rec.Events)
}

func TestDummy_TransferUnknownFile(t *testing.T) {
	d, _ := newTestDummy(1000)
	_, err := d.TransferDataFile("missing.edf", filepath.Join(t.TempDir(), "x.edf"))
	assert.Error(t, err)
}

func TestDummy_ClosedLinkFails(t *testing.T) {
	d, _ := newTestDummy(1000)
	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())
	assert.ErrorIs(t, d.SendCommand("x"), ErrClosed)
	_, err := d.NextSample()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadRecording_Malformed(t *testing.T) {
	_, err := ReadRecording(bytes.NewReader([]byte("nope")))
	assert.ErrorIs(t, err, ErrBadRecording)

	var buf bytes.Buffer
	w, err := NewRecordingWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteSample(Sample{Time: 1}))
	buf.WriteByte(99)

	_, err = ReadRecording(&buf)
	assert.ErrorIs(t, err, ErrBadRecording)
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "saccade_end", EndSaccade.String())
	assert.Equal(t, "event_42", EventType(42).String())
}
