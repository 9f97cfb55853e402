package tracing

import (
	"github.com/sarchlab/cadence/sim/id"
	"github.com/sarchlab/cadence/sim/timing"
)

// Task kinds.
const (
	KindCommand = "command"
	KindDriver  = "driver"
)

// A TaskStep is a milestone while a command runs, such as an error.
type TaskStep struct {
	Position timing.VTimeInBar `json:"position"`
	What     string            `json:"what"`
	Detail   string            `json:"detail,omitempty"`
}

// A Task is one command run by a sequencer.
type Task struct {
	ID          string            `json:"id"`
	ControlID   id.ID             `json:"control_id"`
	Kind        string            `json:"kind"`
	What        string            `json:"what"`
	Where       string            `json:"where"`
	Position    timing.VTimeInBar `json:"position"`
	FastForward bool              `json:"fast_forward"`
	Steps       []TaskStep        `json:"steps"`
	Err         string            `json:"error,omitempty"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

func accept(filter TaskFilter, t Task) bool {
	return filter == nil || filter(t)
}
