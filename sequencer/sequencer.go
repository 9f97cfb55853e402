// Package sequencer schedules musical callbacks on an exact rational
// timeline.
//
// Work is registered to run at a position, every interval, interpolated
// across a span (Move), or driven by a serie of values (Play, PlayTimed).
// Time advances only when the sequencer is ticked. A tick-based sequencer
// moves one grid step per tick; a tickless one jumps to the next pending
// position.
package sequencer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cadence/serie"
	"github.com/sarchlab/cadence/sim/hooking"
	"github.com/sarchlab/cadence/sim/id"
	"github.com/sarchlab/cadence/sim/scope"
	"github.com/sarchlab/cadence/sim/timing"
)

// Callback is the body of a scheduled command.
type Callback func() error

type command struct {
	fn      Callback
	control scope.Scope
	label   string

	// Driver commands belong to the control algorithms. They run even when
	// their control is stopped, so that they can notice the stop.
	driver bool

	// warn asks for a warning when the position is not on the grid.
	warn bool
}

func (c *command) info(pos timing.VTimeInBar) CommandInfo {
	info := CommandInfo{Position: pos, Label: c.label, Driver: c.driver}
	if c.control != nil {
		info.ControlID = c.control.ID()
	}

	return info
}

// Sequencer owns the timeline, the pending commands and the scope stack.
type Sequencer struct {
	*hooking.HookableBase

	name   string
	log    logrus.FieldLogger
	ids    id.Generator
	timing timing.Timing
	offset timing.VTimeInBar

	timeLock sync.RWMutex
	now      timing.VTimeInBar

	tickLock sync.Mutex
	slots    *timing.Timeslots[*command]

	// dueLock guards due, the commands scheduled at the current position.
	// The holder of tickLock runs them before releasing it.
	dueLock sync.Mutex
	due     []*command

	scopeLock sync.Mutex
	root      *scope.EventHandler
	stack     []scope.Scope

	holdTicks atomic.Bool

	observerLock  sync.Mutex
	onError       []func(err *CallbackError)
	onFastForward []func(active bool)
	beforeTick    []func(next timing.VTimeInBar)
}

// Name returns the name given at build time.
func (s *Sequencer) Name() string {
	return s.name
}

// Logger returns the logger the sequencer writes to.
func (s *Sequencer) Logger() logrus.FieldLogger {
	return s.log
}

func (s *Sequencer) readNow() timing.VTimeInBar {
	s.timeLock.RLock()
	defer s.timeLock.RUnlock()

	return s.now
}

func (s *Sequencer) writeNow(t timing.VTimeInBar) {
	s.timeLock.Lock()
	defer s.timeLock.Unlock()

	s.now = t
}

// Position returns the current position.
func (s *Sequencer) Position() timing.VTimeInBar {
	return s.readNow()
}

// TicksPerBar returns the grid size, or false for a tickless sequencer.
func (s *Sequencer) TicksPerBar() (int64, bool) {
	return s.timing.TicksPerBar()
}

// TickDuration returns the length of one tick. It is zero when tickless.
func (s *Sequencer) TickDuration() timing.VTimeInBar {
	return s.timing.TickDuration()
}

// Timing returns the active timing strategy.
func (s *Sequencer) Timing() timing.Timing {
	return s.timing
}

// Quantize snaps a position onto the grid.
func (s *Sequencer) Quantize(pos timing.VTimeInBar) timing.VTimeInBar {
	q, _ := s.timing.Quantize(pos)
	return q
}

// Size returns the number of pending commands.
func (s *Sequencer) Size() int {
	return s.slots.Len()
}

// Empty tells if nothing is pending.
func (s *Sequencer) Empty() bool {
	return s.slots.Empty()
}

// PendingCommand describes a queued command.
type PendingCommand struct {
	Position timing.VTimeInBar
	Label    string
	Driver   bool
	Control  scope.Scope
}

// Pending lists the queued commands in the order they will run.
func (s *Sequencer) Pending() []PendingCommand {
	var list []PendingCommand

	for _, pos := range s.slots.Positions() {
		for _, c := range s.slots.Items(pos) {
			list = append(list, PendingCommand{
				Position: pos,
				Label:    c.label,
				Driver:   c.driver,
				Control:  c.control,
			})
		}
	}

	return list
}

func (s *Sequencer) newHandler(parent, self scope.Scope) *scope.EventHandler {
	return scope.NewEventHandler(parent, s, s.ids.Generate(), self)
}

// CurrentScope returns the scope new work attaches to: the control whose
// command is running, or the root scope.
func (s *Sequencer) CurrentScope() scope.Scope {
	s.scopeLock.Lock()
	defer s.scopeLock.Unlock()

	if len(s.stack) == 0 {
		return s.root
	}

	return s.stack[len(s.stack)-1]
}

func (s *Sequencer) pushScope(sc scope.Scope) {
	s.scopeLock.Lock()
	defer s.scopeLock.Unlock()

	s.stack = append(s.stack, sc)
}

func (s *Sequencer) popScope() {
	s.scopeLock.Lock()
	defer s.scopeLock.Unlock()

	s.stack = s.stack[:len(s.stack)-1]
}

// Invoke runs an event handler body within scope sc.
func (s *Sequencer) Invoke(sc scope.Scope, label string, fn func() error) {
	s.execute(s.readNow(), &command{
		fn:      fn,
		control: sc,
		label:   label,
		driver:  true,
	})
}

func (s *Sequencer) execute(pos timing.VTimeInBar, c *command) {
	if !c.driver && c.control != nil && c.control.Stopped() {
		return
	}

	if c.control != nil {
		s.pushScope(c.control)
		defer s.popScope()
	}

	s.invokeCommandHook(HookPosBeforeCommand, pos, c, nil)

	err := protect(c.fn)
	if err != nil {
		s.reportError(pos, c.label, err)
	}

	s.invokeCommandHook(HookPosAfterCommand, pos, c, err)
}

func (s *Sequencer) invokeCommandHook(
	pos *hooking.HookPos,
	at timing.VTimeInBar,
	c *command,
	err error,
) {
	if s.NumHooks() == 0 {
		return
	}

	info := c.info(at)
	info.Err = err

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   info,
	})
}

func (s *Sequencer) reportError(pos timing.VTimeInBar, label string, err error) {
	cbErr, ok := err.(*CallbackError)
	if !ok {
		cbErr = &CallbackError{Position: pos, Label: label, Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"position": cbErr.Position.String(),
		"label":    cbErr.Label,
	}).WithError(cbErr.Err).Error("callback failed")

	s.observerLock.Lock()
	observers := append([]func(*CallbackError){}, s.onError...)
	s.observerLock.Unlock()

	for _, o := range observers {
		o(cbErr)
	}

	if s.NumHooks() > 0 {
		s.InvokeHook(hooking.HookCtx{
			Domain: s,
			Pos:    HookPosError,
			Item:   cbErr,
		})
	}
}

// runGuarded runs a user callback outside of a command and reports its
// failure. It is used for on-stop and similar notifications.
func (s *Sequencer) runGuarded(label string, fn Callback) {
	if err := protect(fn); err != nil {
		s.reportError(s.readNow(), label, err)
	}
}

func (s *Sequencer) numericAt(pos timing.VTimeInBar, c *command) {
	q, exact := s.timing.Quantize(pos)
	if !exact && c.warn {
		s.log.WithFields(logrus.Fields{
			"position":  pos.String(),
			"quantized": q.String(),
			"timing":    s.timing.Name(),
		}).Warn("position is not on the grid, rounding")
	}

	now := s.readNow()

	switch q.Cmp(now) {
	case 0:
		s.runNow(c)
	case 1:
		s.slots.Put(q, c)
	default:
		s.log.WithFields(logrus.Fields{
			"position": q.String(),
			"now":      now.String(),
			"label":    c.label,
		}).Warn("ignoring command scheduled in the past")
	}
}

// runNow queues c at the current position. A caller outside any tick runs
// it right away; inside a tick it runs once the current command returns.
func (s *Sequencer) runNow(c *command) {
	s.dueLock.Lock()
	s.due = append(s.due, c)
	s.dueLock.Unlock()

	s.settle()
}

func (s *Sequencer) popDue() (*command, bool) {
	s.dueLock.Lock()
	defer s.dueLock.Unlock()

	if len(s.due) == 0 {
		return nil, false
	}

	c := s.due[0]
	s.due = s.due[1:]

	return c, true
}

func (s *Sequencer) hasDue() bool {
	s.dueLock.Lock()
	defer s.dueLock.Unlock()

	return len(s.due) > 0
}

// drainDue runs the commands queued at the current position. tickLock must
// be held.
func (s *Sequencer) drainDue() {
	for {
		c, ok := s.popDue()
		if !ok {
			return
		}

		s.execute(s.readNow(), c)
	}
}

// settle drains the queued commands unless another caller holds tickLock.
// That caller drains them, and settles again after releasing the lock.
func (s *Sequencer) settle() {
	for s.hasDue() && s.tickLock.TryLock() {
		s.drainDue()
		s.tickLock.Unlock()
	}
}

func (s *Sequencer) serieAt(
	positions serie.Serie,
	control scope.Scope,
	label string,
	fn Callback,
) {
	for {
		if control.Stopped() {
			return
		}

		v, ok := positions.NextValue()
		if !ok {
			return
		}

		pos, err := timing.Coerce(v)
		if err != nil {
			s.reportError(s.readNow(), label, err)
			return
		}

		q, exact := s.timing.Quantize(pos)
		if !exact {
			s.log.WithFields(logrus.Fields{
				"position":  pos.String(),
				"quantized": q.String(),
			}).Warn("position is not on the grid, rounding")
		}

		now := s.readNow()
		if q.Cmp(now) <= 0 {
			s.numericAt(q, &command{fn: fn, control: control, label: label})
			continue
		}

		s.numericAt(q, &command{fn: fn, control: control, label: label})
		s.numericAt(q, &command{
			fn: func() error {
				s.serieAt(positions, control, label, fn)
				return nil
			},
			control: control,
			label:   label,
			driver:  true,
		})

		return
	}
}

// Control is the scope returned by the plain scheduling operations.
type Control struct {
	*scope.EventHandler
}

func (s *Sequencer) newControl() *Control {
	c := &Control{}
	c.EventHandler = s.newHandler(s.CurrentScope(), c)

	return c
}

// At runs fn when the timeline reaches pos. A position equal to the current
// one runs immediately; a past position is ignored with a warning.
func (s *Sequencer) At(pos timing.VTimeInBar, fn Callback) *Control {
	c := s.newControl()
	s.numericAt(pos, &command{fn: fn, control: c, warn: true})

	return c
}

// AtSerie runs fn at every position the serie yields.
func (s *Sequencer) AtSerie(positions serie.Serie, fn Callback) *Control {
	c := s.newControl()
	s.serieAt(positions, c, "", fn)

	return c
}

// Debug is At with a label that is logged when the command runs.
func (s *Sequencer) Debug(pos timing.VTimeInBar, label string, fn Callback) *Control {
	c := s.newControl()
	s.numericAt(pos, &command{fn: fn, control: c, label: label, warn: true})

	return c
}

// Wait runs fn offset bars after the current position.
func (s *Sequencer) Wait(offset timing.VTimeInBar, fn Callback) *Control {
	return s.At(s.readNow().Add(offset), fn)
}

// WaitSerie runs fn after each offset of the serie, every offset being
// relative to the previous firing.
func (s *Sequencer) WaitSerie(offsets serie.Serie, fn Callback) *Control {
	return s.AtSerie(&cumulative{base: s.readNow(), offsets: offsets}, fn)
}

// Now runs fn at the current position.
func (s *Sequencer) Now(fn Callback) *Control {
	return s.At(s.readNow(), fn)
}

// On registers an event handler on the current scope.
func (s *Sequencer) On(event string, h scope.Handler, opts ...scope.OnOption) {
	s.CurrentScope().On(event, h, opts...)
}

// Launch launches an event from the current scope.
func (s *Sequencer) Launch(event string, args ...any) {
	s.CurrentScope().Launch(event, args...)
}

// OnError registers an observer of failed callbacks.
func (s *Sequencer) OnError(fn func(err *CallbackError)) {
	s.observerLock.Lock()
	defer s.observerLock.Unlock()

	s.onError = append(s.onError, fn)
}

// OnFastForward registers an observer told when a seek starts and ends.
func (s *Sequencer) OnFastForward(fn func(active bool)) {
	s.observerLock.Lock()
	defer s.observerLock.Unlock()

	s.onFastForward = append(s.onFastForward, fn)
}

// BeforeTick registers an observer told where each tick is going. Observers
// run under the tick lock and must not call Tick.
func (s *Sequencer) BeforeTick(fn func(next timing.VTimeInBar)) {
	s.observerLock.Lock()
	defer s.observerLock.Unlock()

	s.beforeTick = append(s.beforeTick, fn)
}

func (s *Sequencer) notifyFastForward(active bool) {
	s.observerLock.Lock()
	observers := append([]func(bool){}, s.onFastForward...)
	s.observerLock.Unlock()

	for _, o := range observers {
		o(active)
	}

	if s.NumHooks() > 0 {
		s.InvokeHook(hooking.HookCtx{
			Domain: s,
			Pos:    HookPosFastForward,
			Item:   active,
		})
	}
}

func (s *Sequencer) notifyBeforeTick(next timing.VTimeInBar) {
	s.observerLock.Lock()
	observers := append([]func(timing.VTimeInBar){}, s.beforeTick...)
	s.observerLock.Unlock()

	for _, o := range observers {
		o(next)
	}
}

// Tick advances the timeline and runs what is due. It does nothing while a
// seek is in progress.
func (s *Sequencer) Tick() {
	if s.holdTicks.Load() {
		return
	}

	s.tick()
}

func (s *Sequencer) tick() bool {
	s.tickLock.Lock()
	defer s.settle()
	defer s.tickLock.Unlock()

	s.drainDue()

	next, ok := s.timing.Next(s.readNow(), s.slots)
	if !ok {
		return false
	}

	s.notifyBeforeTick(next)
	s.writeNow(next)

	if s.NumHooks() > 0 {
		s.InvokeHook(hooking.HookCtx{
			Domain: s,
			Pos:    HookPosTick,
			Item:   next,
		})
	}

	for _, c := range s.slots.PopDue(next) {
		s.execute(next, c)
		s.drainDue()
	}

	return true
}

// Run ticks until nothing is pending.
func (s *Sequencer) Run() {
	_ = s.RunContext(context.Background())
}

// RunContext ticks until nothing is pending or ctx is done.
func (s *Sequencer) RunContext(ctx context.Context) error {
	for !s.slots.Empty() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.holdTicks.Load() {
			return invalidf("cannot run while a seek is in progress")
		}

		s.tick()
	}

	return nil
}

// SetPosition fast-forwards to pos, running everything due on the way.
// Public ticks are ignored meanwhile. Seeking backwards is an error.
func (s *Sequencer) SetPosition(pos timing.VTimeInBar) error {
	q, exact := s.timing.Quantize(pos)
	if !exact {
		s.log.WithFields(logrus.Fields{
			"position":  pos.String(),
			"quantized": q.String(),
		}).Warn("seek position is not on the grid, rounding")
	}

	now := s.readNow()
	if q.Less(now) {
		return invalidf("cannot seek back from %s to %s", now, q)
	}

	if !s.holdTicks.CompareAndSwap(false, true) {
		return invalidf("a seek is already in progress")
	}
	defer s.holdTicks.Store(false)

	s.notifyFastForward(true)

	if _, tickBased := s.timing.TicksPerBar(); tickBased {
		for s.readNow().Less(q) {
			s.tick()
		}
	} else {
		for {
			next, ok := s.slots.FirstAfter(s.readNow())
			if !ok || q.Less(next) {
				break
			}

			s.tick()
		}

		s.tickLock.Lock()
		s.writeNow(q)
		s.tickLock.Unlock()
	}

	s.notifyFastForward(false)

	return nil
}

// Reset drops everything pending and goes back to the start offset.
func (s *Sequencer) Reset() {
	s.tickLock.Lock()
	defer s.tickLock.Unlock()

	s.slots.Clear()
	s.writeNow(s.offset)

	s.dueLock.Lock()
	s.due = nil
	s.dueLock.Unlock()

	root := s.newHandler(nil, nil)

	s.scopeLock.Lock()
	s.stack = nil
	s.root = root
	s.scopeLock.Unlock()
}

type cumulative struct {
	base    timing.VTimeInBar
	offsets serie.Serie
	start   timing.VTimeInBar
	started bool
}

func (c *cumulative) Restart() {
	c.offsets.Restart()
	c.base = c.start
}

func (c *cumulative) NextValue() (any, bool) {
	if !c.started {
		c.start = c.base
		c.started = true
	}

	v, ok := c.offsets.NextValue()
	if !ok {
		return nil, false
	}

	offset, err := timing.Coerce(v)
	if err != nil {
		return v, true
	}

	c.base = c.base.Add(offset)

	return c.base, true
}

func (c *cumulative) PeekNextValue() (any, bool) {
	v, ok := c.offsets.PeekNextValue()
	if !ok {
		return nil, false
	}

	offset, err := timing.Coerce(v)
	if err != nil {
		return v, true
	}

	return c.base.Add(offset), true
}

func (c *cumulative) Infinite() bool {
	return c.offsets.Infinite()
}
