package link

import "fmt"

// Eye identifies which eye a measurement belongs to.
type Eye int

const (
	EyeLeft Eye = iota
	EyeRight
	EyeBinocular
	EyeNone Eye = -1
)

func (e Eye) String() string {
	switch e {
	case EyeLeft:
		return "left"
	case EyeRight:
		return "right"
	case EyeBinocular:
		return "binocular"
	default:
		return "none"
	}
}

// EyeData is the gaze measurement of a single eye.
type EyeData struct {
	Valid     bool    `json:"valid"`
	GazeX     float64 `json:"gaze_x"`
	GazeY     float64 `json:"gaze_y"`
	PupilSize float64 `json:"pupil_size"`
}

// Sample is one timestamped gaze/pupil measurement. Time is the tracker clock
// in milliseconds.
type Sample struct {
	Time  uint64  `json:"time"`
	Left  EyeData `json:"left"`
	Right EyeData `json:"right"`
}

// Eye returns the measurement for the given eye.
func (s Sample) Eye(e Eye) EyeData {
	if e == EyeRight {
		return s.Right
	}
	return s.Left
}

// RawEye holds raw camera coordinates of the pupil and up to two corneal
// reflections.
type RawEye struct {
	Valid     bool    `json:"valid"`
	PupilX    float64 `json:"pupil_x"`
	PupilY    float64 `json:"pupil_y"`
	PupilArea float64 `json:"pupil_area"`
	CRX       float64 `json:"cr_x"`
	CRY       float64 `json:"cr_y"`
	CR2X      float64 `json:"cr2_x"`
	CR2Y      float64 `json:"cr2_y"`
}

// RawSample is one timestamped raw pupil/corneal-reflection measurement.
type RawSample struct {
	Time  uint64 `json:"time"`
	Left  RawEye `json:"left"`
	Right RawEye `json:"right"`
}

// EventType classifies a discrete gaze event.
type EventType int

const (
	StartFixation EventType = iota + 1
	EndFixation
	StartSaccade
	EndSaccade
	StartBlink
	EndBlink
)

var eventTypeNames = map[EventType]string{
	StartFixation: "fixation_start",
	EndFixation:   "fixation_end",
	StartSaccade:  "saccade_start",
	EndSaccade:    "saccade_end",
	StartBlink:    "blink_start",
	EndBlink:      "blink_end",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event_%d", int(t))
}

// MarshalText encodes the event type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Point is a gaze position in screen pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GazeEvent is one discrete event reported by the tracker. Fields that do not
// apply to the event type are left zero.
type GazeEvent struct {
	Time      uint64    `json:"time"`
	Type      EventType `json:"type"`
	Eye       Eye       `json:"eye"`
	StartTime uint64    `json:"start_time"`
	EndTime   uint64    `json:"end_time,omitempty"`
	Start     Point     `json:"start"`
	End       Point     `json:"end"`
	Average   Point     `json:"average"`
	// Amplitude in degrees, saccades only
	Amplitude    float64 `json:"amplitude,omitempty"`
	PeakVelocity float64 `json:"peak_velocity,omitempty"`
	AvgPupilSize float64 `json:"avg_pupil_size,omitempty"`
}

// Duration returns the event duration in milliseconds, or 0 for start events.
func (e GazeEvent) Duration() uint64 {
	if e.EndTime < e.StartTime {
		return 0
	}
	return e.EndTime - e.StartTime
}

// RecordFlags selects which streams the tracker records to file and sends
// over the link.
type RecordFlags struct {
	FileSamples bool
	FileEvents  bool
	LinkSamples bool
	LinkEvents  bool
}
