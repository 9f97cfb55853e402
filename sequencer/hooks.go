package sequencer

import (
	"github.com/sarchlab/cadence/sim/hooking"
	"github.com/sarchlab/cadence/sim/id"
	"github.com/sarchlab/cadence/sim/timing"
)

// Hook positions raised by the sequencer.
var (
	// HookPosBeforeCommand is raised before a due command runs.
	HookPosBeforeCommand = &hooking.HookPos{Name: "BeforeCommand"}

	// HookPosAfterCommand is raised after a due command runs.
	HookPosAfterCommand = &hooking.HookPos{Name: "AfterCommand"}

	// HookPosError is raised with the *CallbackError of a failed command.
	HookPosError = &hooking.HookPos{Name: "Error"}

	// HookPosFastForward is raised with true when a seek starts and false
	// when it ends.
	HookPosFastForward = &hooking.HookPos{Name: "FastForward"}

	// HookPosTick is raised with the position a tick moved to.
	HookPosTick = &hooking.HookPos{Name: "Tick"}
)

// CommandInfo describes a command to hooks.
type CommandInfo struct {
	Position  timing.VTimeInBar
	Label     string
	ControlID id.ID
	Driver    bool
	Err       error
}
