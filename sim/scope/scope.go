// Package scope provides the tree of cancellable, pausable execution scopes
// that every sequencer control lives in.
//
// Events launched on a scope are delivered to the nearest scope, walking from
// the leaf to the root, that has a handler registered for the event. Only the
// handlers of that scope fire.
package scope

import (
	"fmt"
	"sync"

	"github.com/sarchlab/cadence/sim/id"
)

// Handler is a procedure registered for a named event.
type Handler func(args ...any) error

// Invoker runs handler bodies on behalf of a scope. The sequencer implements
// it so that handlers run with the scope on its stack and their errors are
// reported like any other callback error.
type Invoker interface {
	Invoke(s Scope, label string, fn func() error)
}

// Scope is the capability every control exposes.
type Scope interface {
	ID() id.ID
	Parent() Scope

	On(event string, h Handler, opts ...OnOption)
	Launch(event string, args ...any)
	Listening(event string) bool

	Stop()
	Stopped() bool

	Pause()
	Continue()
	Paused() bool
}

// OnOption customizes a registration.
type OnOption func(r *registration)

// Name sets the registration name. Registering a handler under a name that is
// already present for the event replaces the previous handler.
func Name(name string) OnOption {
	return func(r *registration) {
		r.name = name
	}
}

// Once removes the handler after it fires for the first time.
func Once() OnOption {
	return func(r *registration) {
		r.once = true
	}
}

type registration struct {
	name string
	fn   Handler
	once bool
}

// EventHandler is the base Scope implementation. Controls embed it.
type EventHandler struct {
	id      id.ID
	parent  Scope
	self    Scope
	invoker Invoker

	lock      sync.Mutex
	stopped   bool
	paused    bool
	anonymous int
	handlers  map[string][]*registration
}

// NewEventHandler creates an EventHandler. Self is the outer control that
// embeds the handler; it is the scope handlers run in. A nil self makes the
// EventHandler its own scope.
func NewEventHandler(
	parent Scope,
	invoker Invoker,
	handlerID id.ID,
	self Scope,
) *EventHandler {
	h := &EventHandler{
		id:       handlerID,
		parent:   parent,
		self:     self,
		invoker:  invoker,
		handlers: make(map[string][]*registration),
	}

	if h.self == nil {
		h.self = h
	}

	return h
}

// ID returns the identifier assigned at construction.
func (h *EventHandler) ID() id.ID {
	return h.id
}

// Parent returns the enclosing scope, or nil for a root.
func (h *EventHandler) Parent() Scope {
	return h.parent
}

// On registers a handler for the event.
func (h *EventHandler) On(event string, fn Handler, opts ...OnOption) {
	h.lock.Lock()
	defer h.lock.Unlock()

	r := &registration{fn: fn}
	for _, o := range opts {
		o(r)
	}

	if r.name == "" {
		h.anonymous++
		r.name = fmt.Sprintf("#%d", h.anonymous)
	}

	list := h.handlers[event]
	for i, existing := range list {
		if existing.name == r.name {
			list[i] = r
			return
		}
	}

	h.handlers[event] = append(list, r)
}

// Listening tells if this scope itself has a handler for the event.
func (h *EventHandler) Listening(event string) bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.handlers[event]) > 0
}

// Launch delivers the event to this scope's handlers, or bubbles it to the
// parent if there are none.
func (h *EventHandler) Launch(event string, args ...any) {
	fired := h.take(event)

	if len(fired) == 0 {
		if h.parent != nil {
			h.parent.Launch(event, args...)
		}

		return
	}

	for _, r := range fired {
		fn := r.fn
		h.invoker.Invoke(h.self, "on "+event, func() error {
			return fn(args...)
		})
	}
}

// take returns the registrations to fire and drops the once ones.
func (h *EventHandler) take(event string) []*registration {
	h.lock.Lock()
	defer h.lock.Unlock()

	list := h.handlers[event]
	if len(list) == 0 {
		return nil
	}

	fired := make([]*registration, len(list))
	copy(fired, list)

	kept := list[:0]
	for _, r := range list {
		if !r.once {
			kept = append(kept, r)
		}
	}

	if len(kept) == 0 {
		delete(h.handlers, event)
	} else {
		h.handlers[event] = kept
	}

	return fired
}

// Stop marks the scope as stopped. Pending commands of a stopped scope are
// skipped when they come due.
func (h *EventHandler) Stop() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.stopped = true
}

// Stopped tells if this scope or any of its ancestors is stopped.
func (h *EventHandler) Stopped() bool {
	h.lock.Lock()
	stopped := h.stopped
	h.lock.Unlock()

	if stopped {
		return true
	}

	if h.parent != nil {
		return h.parent.Stopped()
	}

	return false
}

// Pause marks the scope as paused.
func (h *EventHandler) Pause() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.paused = true
}

// Continue clears the paused mark.
func (h *EventHandler) Continue() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.paused = false
}

// Paused tells if the scope is paused.
func (h *EventHandler) Paused() bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.paused
}

// String identifies the scope in logs.
func (h *EventHandler) String() string {
	return fmt.Sprintf("scope#%d", h.id)
}

// Ancestors returns the chain of scopes from the root down to s.
func Ancestors(s Scope) []Scope {
	var chain []Scope
	for cur := s; cur != nil; cur = cur.Parent() {
		chain = append(chain, cur)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain
}
