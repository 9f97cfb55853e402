// Package realtime plays a tick-based sequencer against the wall clock.
package realtime

import (
	"context"
	"math"
	"math/big"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/sarchlab/cadence/sim/timing"
)

// A Tickable is what the driver drives. *sequencer.Sequencer implements it.
type Tickable interface {
	Tick()
	Empty() bool
	Position() timing.VTimeInBar
	TickDuration() timing.VTimeInBar
	TicksPerBar() (int64, bool)
}

// PeriodFor returns the wall-clock length of one tick of tickDuration bars at
// bpm beats per minute and beatsPerBar beats per bar.
func PeriodFor(bpm float64, beatsPerBar int64, tickDuration timing.VTimeInBar) (time.Duration, error) {
	if bpm <= 0 {
		return 0, errors.Errorf("bpm must be positive, got %v", bpm)
	}

	if beatsPerBar <= 0 {
		return 0, errors.Errorf("beats per bar must be positive, got %d", beatsPerBar)
	}

	if tickDuration.Sign() <= 0 {
		return 0, errors.New("tick duration must be positive")
	}

	tempo, ok := new(big.Rat).SetString(strconv.FormatFloat(bpm, 'g', -1, 64))
	if !ok {
		return 0, errors.Errorf("bpm %v is not a finite number", bpm)
	}

	bar := new(big.Rat).SetInt64(beatsPerBar * 60 * int64(time.Second))
	bar.Quo(bar, tempo)
	ns, _ := bar.Mul(bar, tickDuration.Rat()).Float64()

	return time.Duration(math.Round(ns)), nil
}

// Driver ticks a sequencer once per period.
type Driver struct {
	seq    Tickable
	clock  clock.WithTicker
	period time.Duration
	log    logrus.FieldLogger

	stopWhenEmpty bool
	paused        atomic.Bool

	lock  sync.Mutex
	ticks uint64
}

// Builder can build drivers.
type Builder struct {
	clock         clock.WithTicker
	bpm           float64
	beatsPerBar   int64
	logger        logrus.FieldLogger
	stopWhenEmpty bool
}

// MakeBuilder creates a Builder with a real clock at 120 BPM in 4/4.
func MakeBuilder() Builder {
	return Builder{
		clock:       clock.RealClock{},
		bpm:         120,
		beatsPerBar: 4,
	}
}

// WithClock sets the clock that paces the ticks.
func (b Builder) WithClock(c clock.WithTicker) Builder {
	b.clock = c
	return b
}

// WithBPM sets the tempo.
func (b Builder) WithBPM(bpm float64) Builder {
	b.bpm = bpm
	return b
}

// WithBeatsPerBar sets the number of beats in a bar.
func (b Builder) WithBeatsPerBar(n int64) Builder {
	b.beatsPerBar = n
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger logrus.FieldLogger) Builder {
	b.logger = logger
	return b
}

// WithStopWhenEmpty makes Run return once nothing is pending.
func (b Builder) WithStopWhenEmpty() Builder {
	b.stopWhenEmpty = true
	return b
}

// Build creates a driver for seq, which must be tick-based.
func (b Builder) Build(seq Tickable) (*Driver, error) {
	if _, ok := seq.TicksPerBar(); !ok {
		return nil, errors.New("the realtime driver needs a tick-based sequencer")
	}

	period, err := PeriodFor(b.bpm, b.beatsPerBar, seq.TickDuration())
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Driver{
		seq:           seq,
		clock:         b.clock,
		period:        period,
		log:           logger,
		stopWhenEmpty: b.stopWhenEmpty,
	}, nil
}

// Period returns the time between two ticks.
func (d *Driver) Period() time.Duration {
	return d.period
}

// Pause holds the ticks until Continue.
func (d *Driver) Pause() {
	if d.paused.CompareAndSwap(false, true) {
		d.log.WithField("position", d.seq.Position().String()).Info("paused")
	}
}

// Continue releases the ticks.
func (d *Driver) Continue() {
	if d.paused.CompareAndSwap(true, false) {
		d.log.WithField("position", d.seq.Position().String()).Info("continued")
	}
}

// Paused tells whether the driver holds the ticks.
func (d *Driver) Paused() bool {
	return d.paused.Load()
}

// Ticks returns the number of ticks issued so far.
func (d *Driver) Ticks() uint64 {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.ticks
}

// Run ticks the sequencer until ctx is done, or until nothing is pending when
// built WithStopWhenEmpty.
func (d *Driver) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.period)
	defer ticker.Stop()

	d.log.WithField("period", d.period.String()).Debug("realtime driver started")

	for {
		if d.stopWhenEmpty && d.seq.Empty() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if d.Paused() {
				continue
			}

			d.seq.Tick()

			d.lock.Lock()
			d.ticks++
			d.lock.Unlock()
		}
	}
}
