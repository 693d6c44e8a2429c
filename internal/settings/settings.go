// Package settings holds the validated tracker configuration snapshot.
package settings

import "fmt"

// RGB is an 8-bit colour.
type RGB [3]int

// RGBA is an 8-bit colour with alpha.
type RGBA [4]int

// Settings configures the tracker, the calibration and the display. A
// Settings value is only ever handed out by Validate, Load or Parse; the rest
// of gazelink receives copies and never mutates them.
type Settings struct {
	// File
	FileName string `yaml:"filename" json:"filename" env:"GAZELINK_FILENAME"`
	FilePath string `yaml:"filepath" json:"filepath" env:"GAZELINK_FILEPATH"`

	// Sampling
	SampleRate int `yaml:"sample_rate" json:"sample_rate" env:"GAZELINK_SAMPLE_RATE"`

	// Calibration
	CalibrationTargets        int        `yaml:"n_cal_targets" json:"n_cal_targets"`
	PacingInterval            int        `yaml:"pacing_interval" json:"pacing_interval"`
	CalibrationCornerScaling  float64    `yaml:"calibration_corner_scaling" json:"calibration_corner_scaling"`
	ValidationCornerScaling   float64    `yaml:"validation_corner_scaling" json:"validation_corner_scaling"`
	CalibrationAreaProportion [2]float64 `yaml:"calibration_area_proportion" json:"calibration_area_proportion"`
	ValidationAreaProportion  [2]float64 `yaml:"validation_area_proportion" json:"validation_area_proportion"`

	// Calibration targets
	TargetType         string `yaml:"target_type" json:"target_type"`
	TargetImagePath    string `yaml:"target_image_path,omitempty" json:"target_image_path,omitempty"`
	CalBackgroundColor RGB    `yaml:"cal_background_color" json:"cal_background_color"`

	FixationCenterDiameter float64 `yaml:"fixation_center_diameter" json:"fixation_center_diameter"`
	FixationOuterDiameter  float64 `yaml:"fixation_outer_diameter" json:"fixation_outer_diameter"`
	FixationCrossWidth     float64 `yaml:"fixation_cross_width" json:"fixation_cross_width"`
	FixationCenterColor    RGBA    `yaml:"fixation_center_color" json:"fixation_center_color"`
	FixationOuterColor     RGBA    `yaml:"fixation_outer_color" json:"fixation_outer_color"`
	FixationCrossColor     RGBA    `yaml:"fixation_cross_color" json:"fixation_cross_color"`

	CircleOuterRadius int `yaml:"circle_outer_radius" json:"circle_outer_radius"`
	CircleInnerRadius int `yaml:"circle_inner_radius" json:"circle_inner_radius"`
	CircleOuterColor  RGB `yaml:"circle_outer_color" json:"circle_outer_color"`
	CircleInnerColor  RGB `yaml:"circle_inner_color" json:"circle_inner_color"`

	// Screen geometry, physical sizes in millimetres
	ScreenRes              [2]int  `yaml:"screen_res" json:"screen_res"`
	ScreenWidth            float64 `yaml:"screen_width" json:"screen_width"`
	ScreenHeight           float64 `yaml:"screen_height" json:"screen_height"`
	CameraToScreenDistance float64 `yaml:"camera_to_screen_distance" json:"camera_to_screen_distance"`
	ViewingDistTopBottom   []int   `yaml:"viewing_dist_top_bottom,omitempty" json:"viewing_dist_top_bottom,omitempty"`
	RemoteLens             *int    `yaml:"remote_lens,omitempty" json:"remote_lens,omitempty"`

	// Display
	Backend      string `yaml:"backend" json:"backend" env:"GAZELINK_BACKEND"`
	Fullscreen   bool   `yaml:"fullscreen" json:"fullscreen"`
	DisplayIndex int    `yaml:"display_index" json:"display_index"`

	// Tracking
	PupilTrackingMode  string `yaml:"pupil_tracking_mode" json:"pupil_tracking_mode"`
	PupilSizeMode      string `yaml:"pupil_size_mode" json:"pupil_size_mode"`
	HeuristicFilter    [2]int `yaml:"heuristic_filter" json:"heuristic_filter"`
	SetHeuristicFilter bool   `yaml:"set_heuristic_filter" json:"set_heuristic_filter"`

	// Data filters
	FileEventFilter string `yaml:"file_event_filter" json:"file_event_filter"`
	LinkEventFilter string `yaml:"link_event_filter" json:"link_event_filter"`
	LinkSampleData  string `yaml:"link_sample_data" json:"link_sample_data"`
	FileSampleData  string `yaml:"file_sample_data" json:"file_sample_data"`

	// Recording
	RecordSamplesToFile  bool `yaml:"record_samples_to_file" json:"record_samples_to_file"`
	RecordEventsToFile   bool `yaml:"record_events_to_file" json:"record_events_to_file"`
	RecordSampleOverLink bool `yaml:"record_sample_over_link" json:"record_sample_over_link"`
	RecordEventOverLink  bool `yaml:"record_event_over_link" json:"record_event_over_link"`

	// Hardware
	EnableSearchLimits string `yaml:"enable_search_limits" json:"enable_search_limits"`
	IlluminationPower  int    `yaml:"illumination_power" json:"illumination_power"`
	HostIP             string `yaml:"host_ip" json:"host_ip" env:"GAZELINK_HOST_IP"`
	Configuration      string `yaml:"el_configuration" json:"el_configuration"`
	EyeTracked         string `yaml:"eye_tracked" json:"eye_tracked" env:"GAZELINK_EYE_TRACKED"`
}

// Default returns the default settings.
func Default() Settings {
	remoteLens := 25
	return Settings{
		FileName:   "test",
		SampleRate: 1000,

		CalibrationTargets:        9,
		PacingInterval:            1000,
		CalibrationCornerScaling:  1,
		ValidationCornerScaling:   1,
		CalibrationAreaProportion: [2]float64{0.9, 0.9},
		ValidationAreaProportion:  [2]float64{0.9, 0.9},

		TargetType:         "ABC",
		CalBackgroundColor: RGB{128, 128, 128},

		FixationCenterDiameter: 0.1,
		FixationOuterDiameter:  0.6,
		FixationCrossWidth:     0.17,
		FixationCenterColor:    RGBA{0, 0, 0, 255},
		FixationOuterColor:     RGBA{0, 0, 0, 255},
		FixationCrossColor:     RGBA{255, 255, 255, 255},

		CircleOuterRadius: 15,
		CircleInnerRadius: 5,
		CircleOuterColor:  RGB{0, 0, 0},
		CircleInnerColor:  RGB{128, 128, 128},

		ScreenRes:              [2]int{1280, 1024},
		ScreenWidth:            376.0,
		ScreenHeight:           301.0,
		CameraToScreenDistance: 490.0,
		ViewingDistTopBottom:   []int{960, 1000},
		RemoteLens:             &remoteLens,

		Backend: "headless",

		PupilTrackingMode:  "CENTROID",
		PupilSizeMode:      "AREA",
		HeuristicFilter:    [2]int{0, 0},
		SetHeuristicFilter: true,

		FileEventFilter: "LEFT,RIGHT,MESSAGE,BUTTON,INPUT",
		LinkEventFilter: "LEFT,RIGHT,FIXATION,SACCADE,BLINK,MESSAGE,BUTTON,INPUT",
		LinkSampleData:  "LEFT,RIGHT,GAZE,GAZERES,AREA,STATUS,HTARGET",
		FileSampleData:  "LEFT,RIGHT,GAZE,GAZERES,AREA,HREF,PUPIL,STATUS,INPUT,HMARKER,HTARGET",

		RecordSamplesToFile:  true,
		RecordEventsToFile:   true,
		RecordSampleOverLink: true,
		RecordEventOverLink:  true,

		EnableSearchLimits: "OFF",
		IlluminationPower:  2,
		HostIP:             "100.1.1.1",
		Configuration:      "BTABLER",
		EyeTracked:         "Both",
	}
}

// DataFileName returns the name of the recording file on the tracker.
func (s Settings) DataFileName() string {
	return s.FileName + ".edf"
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	if s.ViewingDistTopBottom != nil {
		c.ViewingDistTopBottom = append([]int(nil), s.ViewingDistTopBottom...)
	}
	if s.RemoteLens != nil {
		v := *s.RemoteLens
		c.RemoteLens = &v
	}
	return c
}

// ConfigurationError reports an invalid settings value.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}
