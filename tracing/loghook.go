package tracing

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/hooking"
)

// CommandLogger is a hook that logs the commands a sequencer runs at debug
// level, and seeks at info level.
type CommandLogger struct {
	log logrus.FieldLogger
}

// NewCommandLogger returns a CommandLogger writing to logger.
func NewCommandLogger(logger logrus.FieldLogger) *CommandLogger {
	return &CommandLogger{log: logger}
}

// Func writes the hook information into the logger.
func (h *CommandLogger) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case sequencer.HookPosAfterCommand:
		info, ok := ctx.Item.(sequencer.CommandInfo)
		if !ok || info.Driver {
			return
		}

		entry := h.log.WithFields(logrus.Fields{
			"position": info.Position.String(),
			"control":  info.ControlID,
		})
		if info.Label != "" {
			entry = entry.WithField("label", info.Label)
		}

		if info.Err != nil {
			entry.WithError(info.Err).Debug("command failed")
			return
		}

		entry.Debug("command")
	case sequencer.HookPosFastForward:
		if active, _ := ctx.Item.(bool); active {
			h.log.Info("seek started")
		} else {
			h.log.Info("seek finished")
		}
	}
}
