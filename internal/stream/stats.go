package stream

import (
	"sync"
	"time"

	"github.com/coal/gazelink/internal/link"
)

const timeSeriesMinutes = 60

// Stats accumulates statistics from the live sample and event streams.
type Stats struct {
	mu  sync.RWMutex
	now func() time.Time

	totalSamples   uint64
	validSamples   uint64
	lastSampleTime uint64

	totalEvents   uint64
	eventCounts   map[string]uint64
	fixations     uint64
	fixationMsSum uint64
	saccades      uint64
	amplitudeSum  float64
	blinks        uint64

	// Per-minute buckets for the last 60 minutes
	timeBuckets [timeSeriesMinutes]timeBucket
}

type timeBucket struct {
	minute  time.Time // truncated to minute
	samples uint64
	events  uint64
}

// NewStats creates a new stats accumulator.
func NewStats() *Stats {
	return &Stats{
		now:         time.Now,
		eventCounts: make(map[string]uint64),
	}
}

func (s *Stats) bucket() *timeBucket {
	now := s.now().UTC().Truncate(time.Minute)
	idx := now.Minute() % timeSeriesMinutes
	if s.timeBuckets[idx].minute != now {
		s.timeBuckets[idx] = timeBucket{minute: now}
	}
	return &s.timeBuckets[idx]
}

// RecordSample ingests a single sample.
func (s *Stats) RecordSample(sample link.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalSamples++
	if sample.Left.Valid || sample.Right.Valid {
		s.validSamples++
	}
	s.lastSampleTime = sample.Time
	s.bucket().samples++
}

// RecordEvent ingests a single gaze event. Durations and amplitudes are taken
// from end events, which carry the summary of the whole fixation or saccade.
func (s *Stats) RecordEvent(ev link.GazeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalEvents++
	s.eventCounts[ev.Type.String()]++

	switch ev.Type {
	case link.EndFixation:
		s.fixations++
		s.fixationMsSum += ev.Duration()
	case link.EndSaccade:
		s.saccades++
		s.amplitudeSum += ev.Amplitude
	case link.EndBlink:
		s.blinks++
	}
	s.bucket().events++
}

// Snapshot returns a point-in-time copy of the stats.
func (s *Stats) Snapshot() *StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &StatsSnapshot{
		TotalSamples:   s.totalSamples,
		ValidSamples:   s.validSamples,
		LastSampleTime: s.lastSampleTime,
		TotalEvents:    s.totalEvents,
		EventCounts:    copyMap(s.eventCounts),
		Fixations:      s.fixations,
		Saccades:       s.saccades,
		Blinks:         s.blinks,
	}
	if s.fixations > 0 {
		snap.AvgFixationMs = float64(s.fixationMsSum) / float64(s.fixations)
	}
	if s.saccades > 0 {
		snap.AvgAmplitude = s.amplitudeSum / float64(s.saccades)
	}

	// Build time series from buckets (last 60 minutes, chronological)
	now := s.now().UTC().Truncate(time.Minute)
	cutoff := now.Add(-timeSeriesMinutes * time.Minute)
	for i := 0; i < timeSeriesMinutes; i++ {
		t := cutoff.Add(time.Duration(i+1) * time.Minute)
		b := s.timeBuckets[t.Minute()%timeSeriesMinutes]
		point := TimeSeriesPoint{Timestamp: t}
		if b.minute == t {
			point.Samples = b.samples
			point.Events = b.events
		}
		snap.TimeSeries = append(snap.TimeSeries, point)
	}

	return snap
}

func copyMap(m map[string]uint64) map[string]uint64 {
	c := make(map[string]uint64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
