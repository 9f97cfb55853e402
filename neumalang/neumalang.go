// Package neumalang holds the element vocabulary of the scripted play mode:
// values, neumas to decode, launched events, nested series, parallel series,
// commands and variables.
package neumalang

import (
	"fmt"
	"sync"

	"github.com/sarchlab/cadence/serie"
	"github.com/sarchlab/cadence/sim/timing"
)

// Element is one item of a neumalang serie.
type Element interface {
	element()
}

// Value hands Value to the play callback, then waits Duration.
type Value struct {
	Value    any
	Duration timing.VTimeInBar
}

// Neuma is decoded by the play decoder into a value and a duration.
type Neuma struct {
	Neuma any
}

// Event launches a named event on the play control.
type Event struct {
	Name string
	Args []any
}

// Serie plays a nested serie to completion before the outer serie resumes.
type Serie struct {
	Serie serie.Serie
}

// Parallel plays all series together and resumes once each has finished.
type Parallel struct {
	Series []serie.Serie
}

// Command computes an element when it is reached.
type Command struct {
	Run func(ctx *Context) (any, error)
}

// Variable defines a variable in the current context.
type Variable struct {
	Name  string
	Value any
}

// UseVariable evaluates the element stored in a variable.
type UseVariable struct {
	Name string
}

func (Value) element()       {}
func (Neuma) element()       {}
func (Event) element()       {}
func (Serie) element()       {}
func (Parallel) element()    {}
func (Command) element()     {}
func (Variable) element()    {}
func (UseVariable) element() {}

// Context is the variable scope a neumalang serie is evaluated in. Nested and
// parallel series evaluate in child contexts that see their parent's
// variables.
type Context struct {
	lock   sync.RWMutex
	parent *Context
	vars   map[string]any
}

// NewContext creates a root context.
func NewContext() *Context {
	return &Context{vars: make(map[string]any)}
}

// Child creates a context that falls back to c for lookups.
func (c *Context) Child() *Context {
	return &Context{parent: c, vars: make(map[string]any)}
}

// Set defines name in this context.
func (c *Context) Set(name string, value any) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.vars[name] = value
}

// Get looks name up in this context and its ancestors.
func (c *Context) Get(name string) (any, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.lock.RLock()
		v, ok := cur.vars[name]
		cur.lock.RUnlock()

		if ok {
			return v, true
		}
	}

	return nil, false
}

// MustGet is like Get but returns an error for undefined names.
func (c *Context) MustGet(name string) (any, error) {
	v, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("neumalang: undefined variable %q", name)
	}

	return v, nil
}

// Decoder turns a neuma into what the play callback receives and how long to
// wait afterwards.
type Decoder interface {
	Decode(neuma any) (value any, duration timing.VTimeInBar, err error)
}

// SubcontextDecoder is a Decoder that keeps state across neumas and can fork
// that state for nested series.
type SubcontextDecoder interface {
	Decoder
	Subcontext() Decoder
}

// Subcontext forks d when it supports it and returns d otherwise.
func Subcontext(d Decoder) Decoder {
	if s, ok := d.(SubcontextDecoder); ok {
		return s.Subcontext()
	}

	return d
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(neuma any) (any, timing.VTimeInBar, error)

// Decode calls f.
func (f DecoderFunc) Decode(neuma any) (any, timing.VTimeInBar, error) {
	return f(neuma)
}
