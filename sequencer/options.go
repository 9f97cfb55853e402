package sequencer

import (
	"sort"
	"strings"

	"github.com/fogleman/ease"

	"github.com/sarchlab/cadence/neumalang"
	"github.com/sarchlab/cadence/sim/timing"
)

type optionKind int

const (
	optDuration optionKind = iota
	optTill
	optWhile
	optOnStop
	optAfter
	optFrom
	optTo
	optStep
	optInterval
	optEasing
	optRightOpen
	optMode
	optParameter
	optDecoder
	optReference
	optQuantizeStep
	optNoValueQuantization
)

var optionNames = map[optionKind]string{
	optDuration:            "Duration",
	optTill:                "Till",
	optWhile:               "While",
	optOnStop:              "OnStop",
	optAfter:               "After",
	optFrom:                "From",
	optTo:                  "To",
	optStep:                "Step",
	optInterval:            "Interval",
	optEasing:              "Easing",
	optRightOpen:           "RightOpen",
	optMode:                "Mode",
	optParameter:           "Parameter",
	optDecoder:             "WithDecoder",
	optReference:           "Reference",
	optQuantizeStep:        "QuantizeStep",
	optNoValueQuantization: "NoValueQuantization",
}

type afterEntry struct {
	offset timing.VTimeInBar
	fn     Callback
}

type config struct {
	given map[optionKind]bool

	duration  timing.VTimeInBar
	till      timing.VTimeInBar
	condition func() bool
	onStop    []Callback
	after     []afterEntry

	from      Components
	to        Spread[float64]
	step      Spread[float64]
	interval  Spread[timing.VTimeInBar]
	easing    Spread[ease.Function]
	rightOpen Spread[bool]

	mode      PlayMode
	parameter string
	decoder   neumalang.Decoder

	reference    Spread[float64]
	quantizeStep Spread[float64]
}

// Option configures Every, Move, Play and PlayTimed. Each operation accepts
// only the options that make sense for it.
type Option func(c *config)

func mark(kind optionKind, fn func(c *config)) Option {
	return func(c *config) {
		c.given[kind] = true
		fn(c)
	}
}

func newConfig(opts []Option, op string, allowed ...optionKind) (*config, error) {
	c := &config{given: make(map[optionKind]bool)}
	for _, o := range opts {
		o(c)
	}

	permitted := make(map[optionKind]bool, len(allowed))
	for _, k := range allowed {
		permitted[k] = true
	}

	var rejected []string
	for k := range c.given {
		if !permitted[k] {
			rejected = append(rejected, optionNames[k])
		}
	}

	if len(rejected) > 0 {
		sort.Strings(rejected)
		return nil, invalidf("%s does not accept %s", op, strings.Join(rejected, ", "))
	}

	return c, nil
}

func (c *config) has(kind optionKind) bool {
	return c.given[kind]
}

// Duration bounds how long a control runs.
func Duration(d timing.VTimeInBar) Option {
	return mark(optDuration, func(c *config) { c.duration = d })
}

// Till stops a control at an absolute position.
func Till(pos timing.VTimeInBar) Option {
	return mark(optTill, func(c *config) { c.till = pos })
}

// While keeps a control running as long as condition holds.
func While(condition func() bool) Option {
	return mark(optWhile, func(c *config) { c.condition = condition })
}

// OnStop registers a callback run when the control stops.
func OnStop(fn Callback) Option {
	return mark(optOnStop, func(c *config) { c.onStop = append(c.onStop, fn) })
}

// After registers a callback run offset bars after the control ends.
func After(offset timing.VTimeInBar, fn Callback) Option {
	return mark(optAfter, func(c *config) {
		c.after = append(c.after, afterEntry{offset: offset, fn: fn})
	})
}

// From sets the start values of a Move.
func From(values Components) Option {
	return mark(optFrom, func(c *config) { c.from = values })
}

// To sets the target values of a Move.
func To(values Spread[float64]) Option {
	return mark(optTo, func(c *config) { c.to = values })
}

// Step sets how much each component changes per firing.
func Step(steps Spread[float64]) Option {
	return mark(optStep, func(c *config) { c.step = steps })
}

// Interval sets the time between firings of each component.
func Interval(intervals Spread[timing.VTimeInBar]) Option {
	return mark(optInterval, func(c *config) { c.interval = intervals })
}

// Easing shapes the progress of each component from its start to its
// target.
func Easing(fns Spread[ease.Function]) Option {
	return mark(optEasing, func(c *config) { c.easing = fns })
}

// RightOpen excludes the target value from what a component emits.
func RightOpen(open Spread[bool]) Option {
	return mark(optRightOpen, func(c *config) { c.rightOpen = open })
}

// Mode selects how Play reads its serie.
func Mode(m PlayMode) Option {
	return mark(optMode, func(c *config) { c.mode = m })
}

// Parameter names the element field that carries the time in at and wait
// modes.
func Parameter(name string) Option {
	return mark(optParameter, func(c *config) { c.parameter = name })
}

// WithDecoder sets the decoder of neumas in neumalang mode.
func WithDecoder(d neumalang.Decoder) Option {
	return mark(optDecoder, func(c *config) { c.decoder = d })
}

// Reference sets the value every quantization grid is aligned to.
func Reference(refs Spread[float64]) Option {
	return mark(optReference, func(c *config) { c.reference = refs })
}

// QuantizeStep sets the value grid step of each component.
func QuantizeStep(steps Spread[float64]) Option {
	return mark(optQuantizeStep, func(c *config) { c.quantizeStep = steps })
}

// NoValueQuantization passes timed values through unchanged.
func NoValueQuantization() Option {
	return mark(optNoValueQuantization, func(c *config) {})
}
