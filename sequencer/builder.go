package sequencer

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cadence/sim/hooking"
	"github.com/sarchlab/cadence/sim/id"
	"github.com/sarchlab/cadence/sim/timing"
)

// Builder can build sequencers.
type Builder struct {
	beatsPerBar  int64
	ticksPerBeat int64
	offset       timing.VTimeInBar
	logger       logrus.FieldLogger
	ids          id.Generator
}

// MakeBuilder creates a Builder for a tickless sequencer starting at 0.
func MakeBuilder() Builder {
	return Builder{}
}

// WithBeatsPerBar sets the number of beats in a bar. It must be given
// together with WithTicksPerBeat to get a tick-based sequencer.
func (b Builder) WithBeatsPerBar(n int64) Builder {
	b.beatsPerBar = n
	return b
}

// WithTicksPerBeat sets the number of ticks in a beat.
func (b Builder) WithTicksPerBeat(n int64) Builder {
	b.ticksPerBeat = n
	return b
}

// WithOffset sets the position the sequencer starts at. On a tick-based
// sequencer the offset is rounded to the grid.
func (b Builder) WithOffset(offset timing.VTimeInBar) Builder {
	b.offset = offset
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger logrus.FieldLogger) Builder {
	b.logger = logger
	return b
}

// WithIDGenerator sets the generator that numbers the controls.
func (b Builder) WithIDGenerator(g id.Generator) Builder {
	b.ids = g
	return b
}

// Build creates the sequencer.
func (b Builder) Build(name string) (*Sequencer, error) {
	tm, err := b.timing()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.InfoLevel)
		logger = l
	}
	log := logger.WithField("seq", name)

	offset, exact := tm.Quantize(b.offset)
	if !exact {
		log.WithFields(logrus.Fields{
			"offset":    b.offset.String(),
			"quantized": offset.String(),
			"timing":    tm.Name(),
		}).Warn("offset is not on the grid, rounding")
	}

	s := &Sequencer{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		log:          log,
		timing:       tm,
		offset:       offset,
		now:          offset,
		ids:          b.ids,
		slots:        timing.NewTimeslots[*command](),
	}

	if s.ids == nil {
		s.ids = id.NewSequentialGenerator()
	}

	s.root = s.newHandler(nil, nil)

	return s, nil
}

func (b Builder) timing() (timing.Timing, error) {
	switch {
	case b.beatsPerBar == 0 && b.ticksPerBeat == 0:
		return timing.Tickless(), nil
	case b.beatsPerBar == 0 || b.ticksPerBeat == 0:
		return nil, invalidf(
			"beats per bar (%d) and ticks per beat (%d) must be given together",
			b.beatsPerBar, b.ticksPerBeat)
	}

	tm, err := timing.TickBased(b.beatsPerBar, b.ticksPerBeat)
	if err != nil {
		return nil, invalidf("%v", err)
	}

	return tm, nil
}
