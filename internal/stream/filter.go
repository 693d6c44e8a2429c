package stream

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/coal/gazelink/internal/link"
)

// EventFilter selects which gaze events the hub buffers and broadcasts. The
// expression sees:
//
//	type       string   e.g. "fixation_end", "saccade_end"
//	eye        string   "left", "right", "binocular"
//	time       int      tracker time in ms
//	duration   int      ms, 0 for start events
//	amplitude  float    degrees, saccades only
//	velocity   float    peak velocity, saccades only
//	pupil      float    average pupil size
//	x, y       float    average gaze position
type EventFilter struct {
	source  string
	program *vm.Program
}

func filterEnv(ev link.GazeEvent) map[string]any {
	return map[string]any{
		"type":      ev.Type.String(),
		"eye":       ev.Eye.String(),
		"time":      int(ev.Time),
		"duration":  int(ev.Duration()),
		"amplitude": ev.Amplitude,
		"velocity":  ev.PeakVelocity,
		"pupil":     ev.AvgPupilSize,
		"x":         ev.Average.X,
		"y":         ev.Average.Y,
	}
}

// CompileFilter compiles a boolean expression such as
// `type == "fixation_end" && duration > 100`.
func CompileFilter(source string) (*EventFilter, error) {
	program, err := expr.Compile(source, expr.Env(filterEnv(link.GazeEvent{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling event filter %q: %w", source, err)
	}
	return &EventFilter{source: source, program: program}, nil
}

// String returns the filter expression.
func (f *EventFilter) String() string { return f.source }

// Match reports whether ev passes the filter.
func (f *EventFilter) Match(ev link.GazeEvent) (bool, error) {
	out, err := expr.Run(f.program, filterEnv(ev))
	if err != nil {
		return false, fmt.Errorf("evaluating event filter: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
