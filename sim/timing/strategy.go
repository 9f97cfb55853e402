package timing

import (
	"fmt"
	"math/big"
)

// PendingPositions is what a timing strategy needs to know about the queue.
type PendingPositions interface {
	FirstAfter(pos VTimeInBar) (VTimeInBar, bool)
}

// Timing decides which positions are representable and where the next tick
// lands.
type Timing interface {
	Name() string

	// TicksPerBar returns false when the timeline has no tick grid.
	TicksPerBar() (int64, bool)
	TickDuration() VTimeInBar

	// Quantize snaps pos to the grid. exact is false when pos was moved.
	Quantize(pos VTimeInBar) (q VTimeInBar, exact bool)

	// Next returns the position the next tick processes.
	Next(now VTimeInBar, pending PendingPositions) (VTimeInBar, bool)
}

type tickBased struct {
	beatsPerBar  int64
	ticksPerBeat int64
	ticksPerBar  int64
	tick         VTimeInBar
}

// TickBased creates a timing whose grid has beatsPerBar × ticksPerBeat ticks
// per bar.
func TickBased(beatsPerBar, ticksPerBeat int64) (Timing, error) {
	if beatsPerBar <= 0 || ticksPerBeat <= 0 {
		return nil, fmt.Errorf(
			"timing: beats per bar (%d) and ticks per beat (%d) must be positive",
			beatsPerBar, ticksPerBeat)
	}

	ticksPerBar := beatsPerBar * ticksPerBeat

	return &tickBased{
		beatsPerBar:  beatsPerBar,
		ticksPerBeat: ticksPerBeat,
		ticksPerBar:  ticksPerBar,
		tick:         Frac(1, ticksPerBar),
	}, nil
}

func (t *tickBased) Name() string {
	return fmt.Sprintf("tick-based(%d×%d)", t.beatsPerBar, t.ticksPerBeat)
}

func (t *tickBased) TicksPerBar() (int64, bool) {
	return t.ticksPerBar, true
}

func (t *tickBased) TickDuration() VTimeInBar {
	return t.tick
}

func (t *tickBased) Quantize(pos VTimeInBar) (VTimeInBar, bool) {
	ticks := pos.MulInt(t.ticksPerBar).Round()
	q := VTimeInBar{r: new(big.Rat).SetFrac(ticks, big.NewInt(t.ticksPerBar))}

	return q, q.Equal(pos)
}

func (t *tickBased) Next(now VTimeInBar, _ PendingPositions) (VTimeInBar, bool) {
	return now.Add(t.tick), true
}

type tickless struct{}

// Tickless creates a timing with unbounded precision. Ticks jump to the next
// pending position.
func Tickless() Timing {
	return tickless{}
}

func (tickless) Name() string {
	return "tickless"
}

func (tickless) TicksPerBar() (int64, bool) {
	return 0, false
}

func (tickless) TickDuration() VTimeInBar {
	return VTimeInBar{}
}

func (tickless) Quantize(pos VTimeInBar) (VTimeInBar, bool) {
	return pos, true
}

func (tickless) Next(now VTimeInBar, pending PendingPositions) (VTimeInBar, bool) {
	return pending.FirstAfter(now)
}
