package sequencer

import (
	"fmt"
	"sync"

	"github.com/sarchlab/cadence/quantize"
	"github.com/sarchlab/cadence/serie"
	"github.com/sarchlab/cadence/sim/scope"
	"github.com/sarchlab/cadence/sim/timing"
)

// lookahead is how many elements PlayTimed reads ahead looking for the end
// of a held value before cutting it.
const lookahead = 64

// TimedValue is an element of a timed serie.
type TimedValue struct {
	// Time is relative to the start of the play, or to the previous element
	// when Relative is set.
	Time     timing.VTimeInBar
	Relative bool

	Value Components

	Duration    timing.VTimeInBar
	HasDuration bool
}

// PlayTimedFunc receives the frames of a PlayTimed.
type PlayTimedFunc func(f *Frame, c *PlayTimedControl) error

// PlayTimedControl controls a PlayTimed.
type PlayTimedControl struct {
	*scope.EventHandler

	seq *Sequencer

	lock   sync.Mutex
	done   bool
	onStop []Callback
	after  []afterEntry
}

type timedPlayer struct {
	seq *Sequencer
	c   *PlayTimedControl
	fn  PlayTimedFunc

	source    serie.Serie
	shape     Components
	streams   []*quantize.Stream
	exhausted bool

	start     timing.VTimeInBar
	lastTime  timing.VTimeInBar
	lastFired []*timing.VTimeInBar
}

// PlayTimed plays a serie of TimedValue. Each component is quantized on its
// own value grid; components whose points fall on the same grid position
// fire in the same frame. Options: Reference, QuantizeStep, NoValueQuantization, OnStop,
// After.
func (s *Sequencer) PlayTimed(
	src serie.Serie,
	fn PlayTimedFunc,
	opts ...Option,
) (*PlayTimedControl, error) {
	cfg, err := newConfig(opts, "play timed",
		optReference, optQuantizeStep, optNoValueQuantization, optOnStop, optAfter)
	if err != nil {
		return nil, err
	}

	if src == nil {
		return nil, invalidf("play timed requires a serie")
	}

	if cfg.has(optNoValueQuantization) &&
		(cfg.has(optReference) || cfg.has(optQuantizeStep)) {
		return nil, invalidf("NoValueQuantization excludes Reference and QuantizeStep")
	}

	c := &PlayTimedControl{seq: s, onStop: cfg.onStop, after: cfg.after}
	c.EventHandler = s.newHandler(s.CurrentScope(), c)

	p := &timedPlayer{
		seq:    s,
		c:      c,
		fn:     fn,
		source: src,
		start:  s.readNow(),
	}

	first, ok := src.PeekNextValue()
	if !ok {
		c.finish(true)
		return c, nil
	}

	tv, ok := first.(TimedValue)
	if !ok {
		return nil, invalidf("play timed serie must yield TimedValue, got %T", first)
	}

	p.shape = tv.Value
	if err := p.buildStreams(cfg); err != nil {
		return nil, err
	}

	p.schedule()

	return c, nil
}

func (p *timedPlayer) buildStreams(cfg *config) error {
	n := p.shape.Len()
	p.streams = make([]*quantize.Stream, n)
	p.lastFired = make([]*timing.VTimeInBar, n)

	if cfg.has(optNoValueQuantization) {
		for i := range p.streams {
			p.streams[i] = quantize.NewStream(quantize.Passthrough())
		}

		return nil
	}

	refs, err := resolveOr(cfg.reference, p.shape, "Reference", 0.0)
	if err != nil {
		return err
	}

	steps, err := resolveOr(cfg.quantizeStep, p.shape, "QuantizeStep", 1.0)
	if err != nil {
		return err
	}

	for i := range p.streams {
		q, err := quantize.New(refs[i], steps[i])
		if err != nil {
			return invalidf("%v", err)
		}

		p.streams[i] = quantize.NewStream(q)
	}

	return nil
}

func (p *timedPlayer) pull() error {
	v, ok := p.source.NextValue()
	if !ok {
		p.exhausted = true
		for _, st := range p.streams {
			st.Flush()
		}

		return nil
	}

	tv, ok := v.(TimedValue)
	if !ok {
		return fmt.Errorf("play timed serie yielded %T", v)
	}

	if !tv.Value.sameShape(p.shape) {
		return fmt.Errorf("play timed element at %s does not match the first element's components", tv.Time)
	}

	t := tv.Time
	if tv.Relative {
		t = p.lastTime.Add(tv.Time)
	}
	p.lastTime = t

	for i, st := range p.streams {
		err := st.Push(quantize.Sample{
			Time:        t,
			Value:       tv.Value.At(i),
			Duration:    tv.Duration,
			HasDuration: tv.HasDuration,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *timedPlayer) needsMore() bool {
	anyReady := false
	for _, st := range p.streams {
		if st.Ready() {
			anyReady = true
			continue
		}

		if st.Pending() {
			return true
		}
	}

	return !anyReady
}

func (p *timedPlayer) fill() error {
	for pulls := 0; !p.exhausted && p.needsMore(); pulls++ {
		if pulls >= lookahead && p.cut() {
			return nil
		}

		if err := p.pull(); err != nil {
			return err
		}
	}

	return nil
}

// cut releases held points after a long lookahead. It returns false when
// nothing could be released and the serie is finite, so reading goes on.
func (p *timedPlayer) cut() bool {
	released := false
	for _, st := range p.streams {
		if !st.Ready() {
			st.Cut()
		}

		released = released || st.Ready()
	}

	return released || p.source.Infinite()
}

// at returns the grid position of a stream point.
func (p *timedPlayer) at(pt quantize.Point) timing.VTimeInBar {
	return p.seq.Quantize(p.start.Add(pt.Time))
}

// next returns the grid position of the earliest ready point.
func (p *timedPlayer) next() (timing.VTimeInBar, bool) {
	var (
		earliest timing.VTimeInBar
		found    bool
	)

	for _, st := range p.streams {
		pt, ok := st.Peek()
		if !ok {
			continue
		}

		if q := p.at(pt); !found || q.Less(earliest) {
			earliest = q
			found = true
		}
	}

	return earliest, found
}

// take pops the points of st that land on pos and returns the last one.
func (p *timedPlayer) take(st *quantize.Stream, pos timing.VTimeInBar) (quantize.Point, bool) {
	var (
		last  quantize.Point
		found bool
	)

	for {
		pt, ok := st.Peek()
		if !ok || !p.at(pt).Equal(pos) {
			return last, found
		}

		st.Pop()
		last, found = pt, true
	}
}

func (p *timedPlayer) schedule() {
	if err := p.fill(); err != nil {
		p.seq.reportError(p.seq.readNow(), "play timed", err)
		p.c.finish(false)

		return
	}

	at, ok := p.next()
	if !ok {
		p.c.finish(true)
		return
	}

	p.seq.numericAt(at, &command{
		fn:      func() error { return p.fire(at) },
		control: p.c,
		driver:  true,
	})
}

func (p *timedPlayer) fire(at timing.VTimeInBar) error {
	if p.c.Stopped() {
		p.c.finish(false)
		return nil
	}

	pos := p.seq.readNow()
	f := newFrame(pos, p.shape)

	for i, st := range p.streams {
		pt, ok := p.take(st, at)
		if !ok {
			if p.lastFired[i] != nil {
				ago := pos.Sub(*p.lastFired[i])
				f.StartedAgo[i] = &ago
			}

			continue
		}

		ideal := p.start.Add(pt.Time)

		value := pt.Value
		f.Values[i] = &value

		if pt.HasNext {
			next := pt.Next
			f.NextValues[i] = &next
		}

		if pt.HasDuration {
			end := p.seq.Quantize(ideal.Add(pt.Duration))
			f.Durations[i] = pt.Duration
			f.QuantizedDurations[i] = end.Sub(pos)
			f.DurationJitters[i] = f.QuantizedDurations[i].Sub(pt.Duration)
		}

		f.PositionJitters[i] = pos.Sub(ideal)

		firedAt := pos
		p.lastFired[i] = &firedAt
	}

	err := protect(func() error { return p.fn(f, p.c) })

	if p.c.Stopped() {
		p.c.finish(false)
		return err
	}

	p.schedule()

	return err
}

func (c *PlayTimedControl) finish(exhausted bool) {
	pos := c.seq.readNow()

	c.lock.Lock()
	if c.done {
		c.lock.Unlock()
		return
	}
	c.done = true
	onStop := append([]Callback{}, c.onStop...)
	after := append([]afterEntry{}, c.after...)
	c.lock.Unlock()

	for _, fn := range onStop {
		c.seq.runGuarded("play timed on stop", fn)
	}

	if !exhausted {
		return
	}

	for _, a := range after {
		c.seq.numericAt(pos.Add(a.offset), &command{
			fn:      a.fn,
			control: c.Parent(),
			label:   "play timed after",
		})
	}
}

// Done tells if the timed play has ended.
func (c *PlayTimedControl) Done() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.done
}

// OnStop registers a callback run when the timed play stops.
func (c *PlayTimedControl) OnStop(fn Callback) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onStop = append(c.onStop, fn)
}

// After registers a callback run offset bars after the serie is exhausted.
func (c *PlayTimedControl) After(offset timing.VTimeInBar, fn Callback) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.after = append(c.after, afterEntry{offset: offset, fn: fn})
}
