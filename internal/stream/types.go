package stream

import (
	"time"

	"github.com/coal/gazelink/internal/link"
)

// Event wraps a gaze event with a stream-unique ID.
type Event struct {
	ID string `json:"id"`
	link.GazeEvent
}

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// StatsSnapshot is a point-in-time snapshot of accumulated statistics.
type StatsSnapshot struct {
	SessionID      string            `json:"session_id"`
	TotalSamples   uint64            `json:"total_samples"`
	ValidSamples   uint64            `json:"valid_samples"`
	LastSampleTime uint64            `json:"last_sample_time"`
	TotalEvents    uint64            `json:"total_events"`
	EventCounts    map[string]uint64 `json:"event_counts"`
	Fixations      uint64            `json:"fixations"`
	AvgFixationMs  float64           `json:"avg_fixation_ms"`
	Saccades       uint64            `json:"saccades"`
	AvgAmplitude   float64           `json:"avg_saccade_amplitude"`
	Blinks         uint64            `json:"blinks"`
	TimeSeries     []TimeSeriesPoint `json:"time_series"`
}

// TimeSeriesPoint is a single point in the 60-minute time series.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Samples   uint64    `json:"samples"`
	Events    uint64    `json:"events"`
}

// InitialState is sent to clients on WebSocket connect.
type InitialState struct {
	Events  []*Event       `json:"events"`
	Samples []link.Sample  `json:"samples"`
	Stats   *StatsSnapshot `json:"stats"`
}
