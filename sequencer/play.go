package sequencer

import (
	"sync"

	"github.com/sarchlab/cadence/serie"
	"github.com/sarchlab/cadence/sim/scope"
	"github.com/sarchlab/cadence/sim/timing"
)

// PlayMode selects how Play reads the elements of its serie.
type PlayMode int

// Play modes.
const (
	// ModeWait hands each element to the callback, then waits for the
	// element's duration or event.
	ModeWait PlayMode = iota

	// ModeAt fires each element at the position it carries, relative to the
	// start of the play.
	ModeAt

	// ModeNeumalang reads neumalang elements.
	ModeNeumalang
)

func (m PlayMode) String() string {
	switch m {
	case ModeWait:
		return "wait"
	case ModeAt:
		return "at"
	case ModeNeumalang:
		return "neumalang"
	default:
		return "unknown"
	}
}

// syncEvent is launched by finished sub-plays on their synchronizing scope.
const syncEvent = "cadence.sync"

// PlayFunc receives the values of a Play.
type PlayFunc func(value any, c *PlayControl) error

type currentOp int

const (
	opNone currentOp = iota
	opBlock
	opEvent
	opPlay
	opParallel
)

type continueOp int

const (
	contNow continueOp = iota
	contAt
	contWait
	contOn
)

type operation struct {
	current currentOp
	value   any
	event   string
	args    []any
	subs    []serie.Serie

	// when is where the current part runs, for timed operations.
	timed bool
	when  timing.VTimeInBar

	cont    continueOp
	at      timing.VTimeInBar
	onEvent string
}

type interpreter interface {
	eval(element any) (operation, error)
	subcontext(now timing.VTimeInBar) interpreter
}

// playContinuation is everything needed to resume a paused play.
type playContinuation struct {
	serie   serie.Serie
	control *PlayControl
	interp  interpreter
	fn      PlayFunc
}

// PlayControl controls a Play.
type PlayControl struct {
	*scope.EventHandler

	seq *Sequencer

	lock      sync.Mutex
	after     []afterEntry
	suspended *playContinuation
	done      bool
}

// Play reads the serie element by element and schedules what each element
// asks for. Options: Mode, Parameter, WithDecoder, After.
func (s *Sequencer) Play(src serie.Serie, fn PlayFunc, opts ...Option) (*PlayControl, error) {
	cfg, err := newConfig(opts, "play", optMode, optParameter, optDecoder, optAfter)
	if err != nil {
		return nil, err
	}

	if src == nil {
		return nil, invalidf("play requires a serie")
	}

	interp, err := s.newInterpreter(cfg)
	if err != nil {
		return nil, err
	}

	c := s.newPlayControl(s.CurrentScope(), cfg.after)
	s.startPlay(&playContinuation{serie: src, control: c, interp: interp, fn: fn})

	return c, nil
}

func (s *Sequencer) newInterpreter(cfg *config) (interpreter, error) {
	switch cfg.mode {
	case ModeWait:
		return newWaitMode(cfg.parameter), nil
	case ModeAt:
		return newAtMode(cfg.parameter, s.readNow()), nil
	case ModeNeumalang:
		return newNeumalangMode(cfg.decoder), nil
	default:
		return nil, invalidf("unknown play mode %d", cfg.mode)
	}
}

func (s *Sequencer) newPlayControl(parent scope.Scope, after []afterEntry) *PlayControl {
	c := &PlayControl{seq: s, after: after}
	c.EventHandler = s.newHandler(parent, c)

	return c
}

func (s *Sequencer) startPlay(k *playContinuation) {
	s.numericAt(s.readNow(), &command{
		fn:      func() error { return s.play(k) },
		control: k.control,
		driver:  true,
	})
}

// play is the driver. Steps that continue at the current position loop here
// instead of recursing.
func (s *Sequencer) play(k *playContinuation) error {
	for {
		c := k.control
		if c.Stopped() {
			return nil
		}

		if c.Paused() {
			c.suspend(k)
			return nil
		}

		element, ok := k.serie.NextValue()
		if !ok {
			c.finish()
			return nil
		}

		op, err := k.interp.eval(element)
		if err != nil {
			s.reportError(s.readNow(), "play", err)
			continue
		}

		if op.timed && s.deferTo(k, op) {
			return nil
		}

		if !s.perform(k, op) {
			return nil
		}
	}
}

// perform runs the current part of op, then its continue part. It returns
// true when the driver must go on at the current position.
func (s *Sequencer) perform(k *playContinuation, op operation) bool {
	c := k.control

	switch op.current {
	case opBlock:
		if err := protect(func() error { return k.fn(op.value, c) }); err != nil {
			s.reportError(s.readNow(), "play", err)
		}
	case opEvent:
		c.Launch(op.event, op.args...)
	case opPlay, opParallel:
		if len(op.subs) > 0 {
			s.playSubs(k, op)
			return false
		}
	}

	return s.advance(k, op)
}

// deferTo schedules op at its own position. It returns false when that
// position is not in the future and op must be performed now.
func (s *Sequencer) deferTo(k *playContinuation, op operation) bool {
	now := s.readNow()

	q := s.Quantize(op.when)
	if q.LessEq(now) {
		if q.Less(now) {
			s.log.WithField("position", op.when.String()).
				Warn("play element is in the past, playing it now")
		}

		return false
	}

	s.numericAt(q, &command{
		fn: func() error {
			if k.control.Stopped() {
				return nil
			}

			if s.perform(k, op) {
				return s.play(k)
			}

			return nil
		},
		control: k.control,
		driver:  true,
	})

	return true
}

// advance applies the continue part of op. It returns true when the driver
// must go on at the current position.
func (s *Sequencer) advance(k *playContinuation, op operation) bool {
	now := s.readNow()

	var target timing.VTimeInBar

	switch op.cont {
	case contNow:
		return true
	case contAt:
		target = op.at
	case contWait:
		target = now.Add(op.at)
	case contOn:
		k.control.On(op.onEvent, func(args ...any) error {
			s.startPlay(k)
			return nil
		}, scope.Once())

		return false
	}

	if q := s.Quantize(target); q.LessEq(now) {
		if q.Less(now) {
			s.log.WithField("position", target.String()).
				Warn("play element is in the past, playing it now")
		}

		return true
	}

	s.numericAt(target, &command{
		fn:      func() error { return s.play(k) },
		control: k.control,
		driver:  true,
	})

	return false
}

// playSubs plays nested series inside a synchronizing scope, and resumes
// the outer serie once all of them have finished.
func (s *Sequencer) playSubs(k *playContinuation, op operation) {
	group := s.newPlayControl(k.control, nil)
	remaining := len(op.subs)

	group.On(syncEvent, func(args ...any) error {
		remaining--
		if remaining > 0 {
			return nil
		}

		group.Stop()
		if s.advance(k, op) {
			s.startPlay(k)
		}

		return nil
	}, scope.Name(syncEvent))

	for _, sub := range op.subs {
		child := s.newPlayControl(group, []afterEntry{{
			fn: func() error {
				group.Launch(syncEvent)
				return nil
			},
		}})

		s.startPlay(&playContinuation{
			serie:   serie.Instance(sub),
			control: child,
			interp:  k.interp.subcontext(s.readNow()),
			fn:      k.fn,
		})
	}
}

func (c *PlayControl) suspend(k *playContinuation) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.suspended = k
}

func (c *PlayControl) finish() {
	pos := c.seq.readNow()

	c.lock.Lock()
	if c.done {
		c.lock.Unlock()
		return
	}
	c.done = true
	after := append([]afterEntry{}, c.after...)
	c.lock.Unlock()

	for _, a := range after {
		c.seq.numericAt(pos.Add(a.offset), &command{
			fn:      a.fn,
			control: c.Parent(),
			label:   "play after",
		})
	}
}

// Continue resumes a paused play at the current position.
func (c *PlayControl) Continue() {
	c.EventHandler.Continue()

	c.lock.Lock()
	k := c.suspended
	c.suspended = nil
	c.lock.Unlock()

	if k != nil {
		c.seq.startPlay(k)
	}
}

// Suspended tells if the play is paused and waiting for Continue.
func (c *PlayControl) Suspended() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.suspended != nil
}

// Done tells if the serie has been played to its end.
func (c *PlayControl) Done() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.done
}

// After registers a callback run offset bars after the serie ends.
func (c *PlayControl) After(offset timing.VTimeInBar, fn Callback) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.after = append(c.after, afterEntry{offset: offset, fn: fn})
}
