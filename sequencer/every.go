package sequencer

import (
	"sync"

	"github.com/sarchlab/cadence/sim/scope"
	"github.com/sarchlab/cadence/sim/timing"
)

type everyState int

const (
	everyScheduled everyState = iota
	everyRunning
	everyStopped
)

// EveryFunc is the body of an Every loop.
type EveryFunc func(c *EveryControl) error

// EveryControl controls a repeating callback.
type EveryControl struct {
	*scope.EventHandler

	seq  *Sequencer
	body EveryFunc

	once        bool
	interval    timing.VTimeInBar
	hasDuration bool
	duration    timing.VTimeInBar
	hasTill     bool
	till        timing.VTimeInBar
	condition   func() bool

	lock    sync.Mutex
	state   everyState
	start   timing.VTimeInBar
	counter int64
	onStop  []Callback
	after   []afterEntry
}

// Every runs fn now and then every interval bars. Options: Duration, Till,
// While, OnStop, After.
func (s *Sequencer) Every(
	interval timing.VTimeInBar,
	fn EveryFunc,
	opts ...Option,
) (*EveryControl, error) {
	if interval.Sign() <= 0 {
		return nil, invalidf("every interval must be positive, got %s", interval)
	}

	return s.every(interval, false, fn, opts)
}

// EveryOnce runs fn a single time at the current position, with the
// stopping and after semantics of Every.
func (s *Sequencer) EveryOnce(fn EveryFunc, opts ...Option) (*EveryControl, error) {
	return s.every(timing.VTimeInBar{}, true, fn, opts)
}

func (s *Sequencer) every(
	interval timing.VTimeInBar,
	once bool,
	fn EveryFunc,
	opts []Option,
) (*EveryControl, error) {
	cfg, err := newConfig(opts, "every",
		optDuration, optTill, optWhile, optOnStop, optAfter)
	if err != nil {
		return nil, err
	}

	if cfg.has(optDuration) && cfg.has(optTill) {
		return nil, invalidf("every cannot take both a duration and a till")
	}

	c := s.newEvery(s.CurrentScope(), interval, once, fn, cfg)
	c.begin()

	return c, nil
}

func (s *Sequencer) newEvery(
	parent scope.Scope,
	interval timing.VTimeInBar,
	once bool,
	fn EveryFunc,
	cfg *config,
) *EveryControl {
	c := &EveryControl{
		seq:         s,
		body:        fn,
		once:        once,
		interval:    interval,
		hasDuration: cfg.has(optDuration),
		duration:    cfg.duration,
		hasTill:     cfg.has(optTill),
		till:        cfg.till,
		condition:   cfg.condition,
		onStop:      cfg.onStop,
		after:       cfg.after,
	}
	c.EventHandler = s.newHandler(parent, c)

	return c
}

func (c *EveryControl) begin() {
	c.lock.Lock()
	c.start = c.seq.readNow()
	c.lock.Unlock()

	c.seq.numericAt(c.start, c.driverCommand())
}

func (c *EveryControl) driverCommand() *command {
	return &command{fn: c.fire, control: c, driver: true}
}

func (c *EveryControl) fire() error {
	pos := c.seq.readNow()

	c.lock.Lock()
	if c.state == everyStopped {
		c.lock.Unlock()
		return nil
	}
	c.state = everyRunning
	start := c.start
	c.lock.Unlock()

	durationExceeded := c.hasDuration &&
		start.Add(c.duration).Sub(c.interval).LessEq(pos)
	tillExceeded := c.hasTill && c.till.Sub(c.interval).LessEq(pos)
	conditionFailed := c.condition != nil && !c.condition()

	stopped := c.Stopped()

	var err error
	if !stopped && !conditionFailed && !tillExceeded {
		err = protect(func() error { return c.body(c) })

		c.lock.Lock()
		c.counter++
		c.lock.Unlock()

		stopped = c.Stopped()
	}

	if !stopped && !durationExceeded && !tillExceeded && !conditionFailed && !c.once {
		c.lock.Lock()
		next := start.Add(c.interval.MulInt(c.counter))
		c.state = everyScheduled
		c.lock.Unlock()

		c.seq.numericAt(next, c.driverCommand())

		return err
	}

	c.finish(pos)

	return err
}

func (c *EveryControl) finish(pos timing.VTimeInBar) {
	c.lock.Lock()
	c.state = everyStopped
	onStop := append([]Callback{}, c.onStop...)
	after := append([]afterEntry{}, c.after...)
	c.lock.Unlock()

	c.EventHandler.Stop()

	for _, fn := range onStop {
		c.seq.runGuarded("every on stop", fn)
	}

	for _, a := range after {
		c.seq.numericAt(pos.Add(c.interval).Add(a.offset), &command{
			fn:      a.fn,
			control: c.Parent(),
			label:   "every after",
		})
	}
}

// Counter returns how many times the body ran.
func (c *EveryControl) Counter() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.counter
}

// Interval returns the repetition interval. It is zero for EveryOnce.
func (c *EveryControl) Interval() timing.VTimeInBar {
	return c.interval
}

// StartPosition returns where the loop started.
func (c *EveryControl) StartPosition() timing.VTimeInBar {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.start
}

// Done tells if the loop has finished and run its on-stop callbacks.
func (c *EveryControl) Done() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.state == everyStopped
}

// OnStop registers a callback run when the loop stops.
func (c *EveryControl) OnStop(fn Callback) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onStop = append(c.onStop, fn)
}

// After registers a callback run offset bars after the loop's last interval.
func (c *EveryControl) After(offset timing.VTimeInBar, fn Callback) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.after = append(c.after, afterEntry{offset: offset, fn: fn})
}
