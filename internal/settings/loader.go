package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var (
	validSampleRates      = []int{250, 500, 1000, 2000}
	validCalTargets       = []int{3, 5, 9, 13}
	validEyes             = []string{"Left", "Right", "Both"}
	validTrackingModes    = []string{"CENTROID", "ELLIPSE"}
	validPupilSizeModes   = []string{"AREA", "DIAMETER"}
	validIllumination     = []int{1, 2, 3}
	validTargetTypes      = []string{"A", "AB", "ABC", "B", "C", "CIRCLE", "IMAGE"}
	validConfigurations   = []string{"AMTABLER", "ARTABLER", "BTABLER", "BTOWER", "MTABLER", "RBTABLER", "RTABLER"}
	validSearchLimitFlags = []string{"ON", "OFF"}
)

// Backends lists the display backends settings may name. The display
// package registers an implementation for each.
var Backends = []string{"console", "headless"}

// LoadFromFile loads settings from a YAML file on top of the defaults, applies
// environment overrides and validates the result.
func LoadFromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML bytes on top of the defaults, applies environment
// overrides and validates the result.
func Parse(data []byte) (Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parsing settings YAML: %w", err)
	}
	if err := ApplyEnv(&s); err != nil {
		return Settings{}, err
	}
	return Validate(s)
}

// ApplyEnv overrides fields from GAZELINK_* environment variables.
func ApplyEnv(s *Settings) error {
	if err := env.Parse(s); err != nil {
		return fmt.Errorf("parsing settings environment: %w", err)
	}
	return nil
}

// SaveToFile writes settings as YAML, creating parent directories.
func SaveToFile(s Settings, path string) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating settings directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

// Marshal encodes settings as YAML.
func Marshal(s Settings) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	return data, nil
}

// Validate checks every field and returns a private copy of s. On failure it
// returns the zero Settings and a *ConfigurationError, so callers never see
// partially valid settings.
func Validate(s Settings) (Settings, error) {
	if err := validate(&s); err != nil {
		return Settings{}, err
	}
	return s.Clone(), nil
}

func invalid(field string, value any, reason string) error {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

func oneOf[T comparable](field string, value T, allowed []T) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	parts := make([]string, len(allowed))
	for i, a := range allowed {
		parts[i] = fmt.Sprint(a)
	}
	return invalid(field, value, "must be one of: "+strings.Join(parts, ", "))
}

func positive(field string, v float64) error {
	if v <= 0 {
		return invalid(field, v, "must be positive")
	}
	return nil
}

func validColor(field string, c []int) error {
	for _, v := range c {
		if v < 0 || v > 255 {
			return invalid(field, c, "values must be integers 0-255")
		}
	}
	return nil
}

func validProportion(field string, p [2]float64) error {
	for _, v := range p {
		if v <= 0 || v > 1 {
			return invalid(field, p, "values must be in (0, 1]")
		}
	}
	return nil
}

func validate(s *Settings) error {
	if s.FileName == "" {
		return invalid("filename", s.FileName, "is required")
	}
	if err := oneOf("sample_rate", s.SampleRate, validSampleRates); err != nil {
		return err
	}
	if err := oneOf("n_cal_targets", s.CalibrationTargets, validCalTargets); err != nil {
		return err
	}
	if s.PacingInterval <= 0 {
		return invalid("pacing_interval", s.PacingInterval, "must be positive")
	}
	if s.ScreenRes[0] <= 0 || s.ScreenRes[1] <= 0 {
		return invalid("screen_res", s.ScreenRes, "values must be positive integers")
	}
	if err := positive("screen_width", s.ScreenWidth); err != nil {
		return err
	}
	if err := positive("screen_height", s.ScreenHeight); err != nil {
		return err
	}
	if err := positive("camera_to_screen_distance", s.CameraToScreenDistance); err != nil {
		return err
	}
	if s.ViewingDistTopBottom != nil {
		if len(s.ViewingDistTopBottom) != 2 {
			return invalid("viewing_dist_top_bottom", s.ViewingDistTopBottom, "must be empty or a list of 2 numbers")
		}
		for _, v := range s.ViewingDistTopBottom {
			if v <= 0 {
				return invalid("viewing_dist_top_bottom", s.ViewingDistTopBottom, "values must be positive")
			}
		}
	}
	if err := validProportion("calibration_area_proportion", s.CalibrationAreaProportion); err != nil {
		return err
	}
	if err := validProportion("validation_area_proportion", s.ValidationAreaProportion); err != nil {
		return err
	}
	if err := oneOf("eye_tracked", s.EyeTracked, validEyes); err != nil {
		return err
	}
	if err := oneOf("pupil_tracking_mode", s.PupilTrackingMode, validTrackingModes); err != nil {
		return err
	}
	if err := oneOf("pupil_size_mode", s.PupilSizeMode, validPupilSizeModes); err != nil {
		return err
	}
	for _, v := range s.HeuristicFilter {
		if v < 0 || v > 2 {
			return invalid("heuristic_filter", s.HeuristicFilter, "values must be integers 0-2")
		}
	}
	if err := oneOf("illumination_power", s.IlluminationPower, validIllumination); err != nil {
		return err
	}
	if err := oneOf("enable_search_limits", s.EnableSearchLimits, validSearchLimitFlags); err != nil {
		return err
	}
	if err := oneOf("target_type", s.TargetType, validTargetTypes); err != nil {
		return err
	}
	if s.TargetType == "IMAGE" && s.TargetImagePath == "" {
		return invalid("target_image_path", s.TargetImagePath, "must be provided when target_type is IMAGE")
	}
	if err := oneOf("el_configuration", s.Configuration, validConfigurations); err != nil {
		return err
	}

	for field, c := range map[string][]int{
		"fixation_center_color": s.FixationCenterColor[:],
		"fixation_outer_color":  s.FixationOuterColor[:],
		"fixation_cross_color":  s.FixationCrossColor[:],
		"circle_outer_color":    s.CircleOuterColor[:],
		"circle_inner_color":    s.CircleInnerColor[:],
		"cal_background_color":  s.CalBackgroundColor[:],
	} {
		if err := validColor(field, c); err != nil {
			return err
		}
	}

	if err := positive("fixation_center_diameter", s.FixationCenterDiameter); err != nil {
		return err
	}
	if err := positive("fixation_outer_diameter", s.FixationOuterDiameter); err != nil {
		return err
	}
	if err := positive("fixation_cross_width", s.FixationCrossWidth); err != nil {
		return err
	}
	if s.CircleOuterRadius <= 0 {
		return invalid("circle_outer_radius", s.CircleOuterRadius, "must be positive")
	}
	if s.CircleInnerRadius <= 0 {
		return invalid("circle_inner_radius", s.CircleInnerRadius, "must be positive")
	}
	if s.CircleInnerRadius >= s.CircleOuterRadius {
		return invalid("circle_inner_radius", s.CircleInnerRadius,
			fmt.Sprintf("must be less than circle_outer_radius (%d)", s.CircleOuterRadius))
	}
	if s.RemoteLens != nil && *s.RemoteLens <= 0 {
		return invalid("remote_lens", *s.RemoteLens, "must be positive or unset")
	}
	if err := oneOf("backend", s.Backend, Backends); err != nil {
		return err
	}
	if s.DisplayIndex < 0 {
		return invalid("display_index", s.DisplayIndex, "must be a non-negative integer")
	}
	return nil
}
