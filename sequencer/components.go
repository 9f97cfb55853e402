package sequencer

import (
	"sort"

	"github.com/sarchlab/cadence/sim/timing"
)

type shape int

const (
	shapeScalar shape = iota
	shapeIndexed
	shapeKeyed
)

// Components is a scalar, an ordered list or a keyed set of numeric values.
// Internally every shape is handled as a list indexed from 0; keyed
// components are ordered by key.
type Components struct {
	shape  shape
	values []float64
	keys   []string
}

// Scalar creates a single component.
func Scalar(v float64) Components {
	return Components{shape: shapeScalar, values: []float64{v}}
}

// Indexed creates positional components.
func Indexed(values ...float64) Components {
	return Components{shape: shapeIndexed, values: append([]float64{}, values...)}
}

// Keyed creates named components.
func Keyed(values map[string]float64) Components {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := Components{shape: shapeKeyed, keys: keys, values: make([]float64, len(keys))}
	for i, k := range keys {
		c.values[i] = values[k]
	}

	return c
}

// Len returns the number of components.
func (c Components) Len() int {
	return len(c.values)
}

// IsScalar tells if c holds a single unnamed component.
func (c Components) IsScalar() bool {
	return c.shape == shapeScalar
}

// IsKeyed tells if components are named.
func (c Components) IsKeyed() bool {
	return c.shape == shapeKeyed
}

// Keys returns the sorted names of keyed components.
func (c Components) Keys() []string {
	return append([]string{}, c.keys...)
}

// At returns the i-th component.
func (c Components) At(i int) float64 {
	return c.values[i]
}

// Values returns a copy of all components.
func (c Components) Values() []float64 {
	return append([]float64{}, c.values...)
}

// Get returns the component named key.
func (c Components) Get(key string) (float64, bool) {
	i := sort.SearchStrings(c.keys, key)
	if i < len(c.keys) && c.keys[i] == key {
		return c.values[i], true
	}

	return 0, false
}

func (c Components) sameShape(o Components) bool {
	if c.shape != o.shape || len(c.values) != len(o.values) {
		return false
	}

	for i := range c.keys {
		if c.keys[i] != o.keys[i] {
			return false
		}
	}

	return true
}

// Spread gives a per-component parameter: one value for all components, a
// positional list, or a value per key.
type Spread[T any] struct {
	set   bool
	all   *T
	list  []T
	keyed map[string]T
}

// All applies v to every component.
func All[T any](v T) Spread[T] {
	return Spread[T]{set: true, all: &v}
}

// Each gives one value per positional component. A single value applies to
// all components.
func Each[T any](values ...T) Spread[T] {
	return Spread[T]{set: true, list: append([]T{}, values...)}
}

// PerKey gives one value per keyed component.
func PerKey[T any](values map[string]T) Spread[T] {
	return Spread[T]{set: true, keyed: values}
}

// IsSet tells if the spread holds anything.
func (s Spread[T]) IsSet() bool {
	return s.set
}

func (s Spread[T]) resolve(c Components, what string) ([]T, error) {
	out := make([]T, c.Len())

	switch {
	case s.all != nil:
		for i := range out {
			out[i] = *s.all
		}
	case s.keyed != nil:
		if !c.IsKeyed() {
			return nil, invalidf("%s is keyed but the components are not", what)
		}

		if len(s.keyed) != c.Len() {
			return nil, invalidf("%s must give exactly the keys %v", what, c.keys)
		}

		for i, k := range c.keys {
			v, ok := s.keyed[k]
			if !ok {
				return nil, invalidf("%s is missing key %q", what, k)
			}
			out[i] = v
		}
	case len(s.list) == 1:
		for i := range out {
			out[i] = s.list[0]
		}
	case len(s.list) == c.Len():
		copy(out, s.list)
	default:
		return nil, invalidf("%s has %d values for %d components",
			what, len(s.list), c.Len())
	}

	return out, nil
}

// Frame is one firing delivered to Move and PlayTimed callbacks. All slices
// are indexed like the components; entries of components that do not fire
// in this frame are nil or zero.
type Frame struct {
	Position timing.VTimeInBar

	// Values holds the new value of each component, or nil when the
	// component does not change in this frame.
	Values     []*float64
	NextValues []*float64

	Durations          []timing.VTimeInBar
	QuantizedDurations []timing.VTimeInBar
	PositionJitters    []timing.VTimeInBar
	DurationJitters    []timing.VTimeInBar

	// StartedAgo is how long ago a component that does not fire in this frame
	// last fired. It is nil for firing components.
	StartedAgo []*timing.VTimeInBar

	RightOpen []bool

	components Components
}

func newFrame(pos timing.VTimeInBar, c Components) *Frame {
	n := c.Len()

	return &Frame{
		Position:           pos,
		Values:             make([]*float64, n),
		NextValues:         make([]*float64, n),
		Durations:          make([]timing.VTimeInBar, n),
		QuantizedDurations: make([]timing.VTimeInBar, n),
		PositionJitters:    make([]timing.VTimeInBar, n),
		DurationJitters:    make([]timing.VTimeInBar, n),
		StartedAgo:         make([]*timing.VTimeInBar, n),
		RightOpen:          make([]bool, n),
		components:         c,
	}
}

// Len returns the number of components.
func (f *Frame) Len() int {
	return len(f.Values)
}

// Key returns the name of the i-th component, or "" when not keyed.
func (f *Frame) Key(i int) string {
	if !f.components.IsKeyed() {
		return ""
	}

	return f.components.keys[i]
}

// Scalar returns the value of the first component.
func (f *Frame) Scalar() (float64, bool) {
	if len(f.Values) == 0 || f.Values[0] == nil {
		return 0, false
	}

	return *f.Values[0], true
}

// ByKey returns the values indexed by component name.
func (f *Frame) ByKey() map[string]*float64 {
	m := make(map[string]*float64, len(f.Values))
	for i, v := range f.Values {
		m[f.Key(i)] = v
	}

	return m
}

// Changed tells if at least one component has a value in this frame.
func (f *Frame) Changed() bool {
	for _, v := range f.Values {
		if v != nil {
			return true
		}
	}

	return false
}
