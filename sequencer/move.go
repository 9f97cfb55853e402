package sequencer

import (
	"math"
	"sync"

	"github.com/fogleman/ease"

	"github.com/sarchlab/cadence/sim/scope"
	"github.com/sarchlab/cadence/sim/timing"
)

// floatSlack absorbs float error when counting steps.
const floatSlack = 1e-9

// MoveFunc receives every frame of a Move.
type MoveFunc func(f *Frame, c *MoveControl) error

// MoveControl controls a Move. It wraps the Every loop that drives it.
type MoveControl struct {
	*scope.EventHandler

	seq        *Sequencer
	every      *EveryControl
	common     timing.VTimeInBar
	components []*moveComponent

	lock   sync.Mutex
	done   bool
	onStop []Callback
	after  []afterEntry

	// end is where the last value sent stops holding.
	end    timing.VTimeInBar
	hasEnd bool
}

type moveComponent struct {
	from      float64
	to        float64
	hasTo     bool
	step      float64
	interval  timing.VTimeInBar
	ratio     int64
	easing    ease.Function
	rightOpen bool

	bounded   bool
	lastIndex int64

	index     int64
	last      *float64
	lastFired *timing.VTimeInBar
	done      bool
}

func (m *moveComponent) value(k int64) float64 {
	if !m.hasTo {
		return m.from + float64(k)*m.step
	}

	span := m.to - m.from
	if span == 0 {
		return m.to
	}

	if !m.rightOpen && k == m.lastIndex {
		return m.to
	}

	if m.easing == nil {
		return m.from + float64(k)*m.step
	}

	ratio := math.Min(float64(k)*math.Abs(m.step)/math.Abs(span), 1)

	return m.from + span*m.easing(ratio)
}

func (m *moveComponent) hasIndex(k int64) bool {
	return !m.bounded || k <= m.lastIndex
}

// Move animates numeric components from their From values. Options: From
// (required), To, Step, Interval, Duration, Till, Easing, RightOpen, OnStop,
// After.
func (s *Sequencer) Move(fn MoveFunc, opts ...Option) (*MoveControl, error) {
	cfg, err := newConfig(opts, "move",
		optFrom, optTo, optStep, optInterval, optDuration, optTill,
		optEasing, optRightOpen, optOnStop, optAfter)
	if err != nil {
		return nil, err
	}

	components, err := s.deriveMove(cfg)
	if err != nil {
		return nil, err
	}

	intervals := make([]timing.VTimeInBar, len(components))
	for i, m := range components {
		intervals[i] = m.interval
	}

	common, ok := timing.CommonInterval(intervals...)
	if !ok {
		return nil, invalidf("move has no positive interval")
	}

	for _, m := range components {
		m.ratio = m.interval.Div(common).Floor().Int64()
	}

	mc := &MoveControl{
		seq:        s,
		common:     common,
		components: components,
		onStop:     cfg.onStop,
		after:      cfg.after,
	}
	mc.EventHandler = s.newHandler(s.CurrentScope(), mc)

	everyCfg := &config{given: map[optionKind]bool{}}
	mc.every = s.newEvery(mc, common, false, func(e *EveryControl) error {
		return mc.frame(cfg.from, e, fn)
	}, everyCfg)
	mc.every.OnStop(func() error {
		mc.finish()
		return nil
	})
	mc.every.begin()

	return mc, nil
}

func (s *Sequencer) deriveMove(cfg *config) ([]*moveComponent, error) {
	if !cfg.has(optFrom) || cfg.from.Len() == 0 {
		return nil, invalidf("move requires From values")
	}

	if cfg.has(optDuration) && cfg.has(optTill) {
		return nil, invalidf("move cannot take both a duration and a till")
	}

	if cfg.has(optEasing) && cfg.has(optStep) {
		return nil, invalidf("move easing cannot be combined with a step")
	}

	if cfg.has(optEasing) && !cfg.has(optTo) {
		return nil, invalidf("move easing requires a target")
	}

	hasDuration := cfg.has(optDuration) || cfg.has(optTill)
	duration := cfg.duration
	if cfg.has(optTill) {
		duration = cfg.till.Sub(s.readNow())
	}

	if hasDuration && duration.Sign() <= 0 {
		return nil, invalidf("move duration must be positive, got %s", duration)
	}

	from := cfg.from
	n := from.Len()

	tos, err := resolveOr(cfg.to, from, "To", 0.0)
	if err != nil {
		return nil, err
	}

	steps, err := resolveOr(cfg.step, from, "Step", 0.0)
	if err != nil {
		return nil, err
	}

	intervals, err := resolveOr(cfg.interval, from, "Interval", timing.VTimeInBar{})
	if err != nil {
		return nil, err
	}

	easings, err := resolveOr(cfg.easing, from, "Easing", ease.Function(nil))
	if err != nil {
		return nil, err
	}

	rightOpens, err := resolveOr(cfg.rightOpen, from, "RightOpen", false)
	if err != nil {
		return nil, err
	}

	components := make([]*moveComponent, n)
	for i := 0; i < n; i++ {
		m := &moveComponent{
			from:      from.At(i),
			to:        tos[i],
			hasTo:     cfg.has(optTo),
			step:      steps[i],
			interval:  intervals[i],
			easing:    easings[i],
			rightOpen: rightOpens[i],
		}

		err := s.deriveComponent(m, cfg.has(optStep), cfg.has(optInterval),
			hasDuration, duration)
		if err != nil {
			return nil, err
		}

		components[i] = m
	}

	return components, nil
}

func resolveOr[T any](s Spread[T], c Components, what string, zero T) ([]T, error) {
	if !s.IsSet() {
		out := make([]T, c.Len())
		for i := range out {
			out[i] = zero
		}

		return out, nil
	}

	return s.resolve(c, what)
}

func (s *Sequencer) deriveComponent(
	m *moveComponent,
	hasStep, hasInterval, hasDuration bool,
	duration timing.VTimeInBar,
) error {
	if hasStep && m.step == 0 {
		return invalidf("move step cannot be zero")
	}

	if hasInterval && m.interval.Sign() <= 0 {
		return invalidf("move interval must be positive, got %s", m.interval)
	}

	tick := s.timing.TickDuration()
	_, tickBased := s.timing.TicksPerBar()
	span := m.to - m.from

	switch {
	case m.hasTo && hasStep && hasInterval:
		if hasDuration {
			return invalidf("move with a target, a step and an interval " +
				"cannot also take a duration")
		}

	case m.hasTo && hasStep:
		moves := math.Ceil(countSteps(span, m.step) - floatSlack)
		switch {
		case hasDuration && moves > 0:
			m.interval = duration.Div(timing.FromFloat(moves))
		case hasDuration:
			m.interval = duration
		case tickBased:
			m.interval = tick
		default:
			return invalidf("move cannot derive an interval on a tickless " +
				"sequencer without a duration")
		}

	case m.hasTo && hasInterval:
		if hasDuration {
			moves := duration.Div(m.interval).Floor().Int64()
			if moves == 0 {
				return invalidf("move duration %s is shorter than the interval %s",
					duration, m.interval)
			}

			m.step = span / float64(moves)
		} else {
			m.step = 1
		}

	case m.hasTo:
		if !hasDuration {
			return invalidf("move with a target needs a step, an interval or " +
				"a duration")
		}

		if !tickBased {
			return invalidf("move cannot derive an interval on a tickless " +
				"sequencer, give an interval")
		}

		m.interval = tick
		moves := duration.Div(tick).Floor().Int64()
		if moves == 0 {
			return invalidf("move duration %s is shorter than a tick", duration)
		}

		m.step = span / float64(moves)

	case hasInterval:
		if !hasStep {
			m.step = 1
		}

		if hasDuration {
			count := duration.Div(m.interval).Floor().Int64()
			if count == 0 {
				return invalidf("move duration %s is shorter than the interval %s",
					duration, m.interval)
			}

			m.bounded = true
			m.lastIndex = count - 1
		}

		return nil

	case hasStep:
		return invalidf("move step needs a target or an interval")

	default:
		return invalidf("move needs an interval, or a target with a duration")
	}

	if m.step == 0 {
		// from equals to and the step was derived from the span
		m.step = 1
	}

	if span*m.step < 0 {
		m.step = -m.step
	}

	total := countSteps(span, m.step)
	if r := math.Round(total); math.Abs(total-r) < floatSlack {
		total = r
	}

	m.bounded = true
	m.lastIndex = int64(math.Ceil(total))
	if m.rightOpen {
		m.lastIndex--
	}

	return nil
}

func countSteps(span, step float64) float64 {
	if span == 0 {
		return 0
	}

	return math.Abs(span) / math.Abs(step)
}

func (mc *MoveControl) frame(from Components, e *EveryControl, fn MoveFunc) error {
	j := e.Counter()
	pos := mc.seq.readNow()
	start := e.StartPosition()
	f := newFrame(pos, from)

	fired := false
	allDone := true

	for i, m := range mc.components {
		f.RightOpen[i] = m.rightOpen

		if m.done || (m.bounded && m.lastIndex < 0) {
			m.done = true
			continue
		}

		if j%m.ratio != 0 {
			if m.lastFired != nil {
				ago := pos.Sub(*m.lastFired)
				f.StartedAgo[i] = &ago
			}

			allDone = false

			continue
		}

		fired = true
		k := m.index

		v := m.value(k)
		if m.last == nil || *m.last != v {
			f.Values[i] = &v
			m.last = &v
		}

		if m.hasIndex(k + 1) {
			next := m.value(k + 1)
			f.NextValues[i] = &next
		}

		ideal := start.Add(m.interval.MulInt(k))
		quantizedEnd := mc.seq.Quantize(ideal.Add(m.interval))

		f.Durations[i] = m.interval
		f.QuantizedDurations[i] = quantizedEnd.Sub(pos)
		f.PositionJitters[i] = pos.Sub(ideal)
		f.DurationJitters[i] = f.QuantizedDurations[i].Sub(m.interval)

		firedAt := pos
		m.lastFired = &firedAt
		m.index++

		mc.holdUntil(pos.Add(m.interval))

		if m.hasIndex(m.index) {
			allDone = false
		} else {
			m.done = true
		}
	}

	var err error
	if fired {
		err = fn(f, mc)
	}

	if allDone {
		e.Stop()
	}

	return err
}

func (mc *MoveControl) holdUntil(end timing.VTimeInBar) {
	mc.lock.Lock()
	defer mc.lock.Unlock()

	if !mc.hasEnd || mc.end.Less(end) {
		mc.end = end
		mc.hasEnd = true
	}
}

// finish runs the on-stop callbacks, and schedules the after callbacks from
// the end of the last value.
func (mc *MoveControl) finish() {
	pos := mc.seq.readNow()

	mc.lock.Lock()
	if mc.done {
		mc.lock.Unlock()
		return
	}
	mc.done = true
	if mc.hasEnd {
		pos = timing.Max(pos, mc.end)
	}
	onStop := append([]Callback{}, mc.onStop...)
	after := append([]afterEntry{}, mc.after...)
	mc.lock.Unlock()

	mc.EventHandler.Stop()

	for _, fn := range onStop {
		mc.seq.runGuarded("move on stop", fn)
	}

	for _, a := range after {
		mc.seq.numericAt(pos.Add(a.offset), &command{
			fn:      a.fn,
			control: mc.Parent(),
			label:   "move after",
		})
	}
}

// Stop stops the move. Its on-stop callbacks run when the driving loop
// notices.
func (mc *MoveControl) Stop() {
	mc.EventHandler.Stop()
	mc.every.Stop()
}

// Interval returns the common interval the move is driven at.
func (mc *MoveControl) Interval() timing.VTimeInBar {
	return mc.common
}

// Every returns the loop driving the move.
func (mc *MoveControl) Every() *EveryControl {
	return mc.every
}

// Done tells if the move has finished.
func (mc *MoveControl) Done() bool {
	mc.lock.Lock()
	defer mc.lock.Unlock()

	return mc.done
}

// OnStop registers a callback run when the move stops.
func (mc *MoveControl) OnStop(fn Callback) {
	mc.lock.Lock()
	defer mc.lock.Unlock()

	mc.onStop = append(mc.onStop, fn)
}

// After registers a callback run offset bars after the move stops.
func (mc *MoveControl) After(offset timing.VTimeInBar, fn Callback) {
	mc.lock.Lock()
	defer mc.lock.Unlock()

	mc.after = append(mc.after, afterEntry{offset: offset, fn: fn})
}
