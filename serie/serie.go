// Package serie defines the pull-based, restartable value sequences the
// sequencer consumes, and a few concrete ones.
package serie

// Serie is a lazy sequence of values.
type Serie interface {
	// Restart rewinds the serie to its first value.
	Restart()

	// NextValue returns the next value and advances. It returns false once the
	// serie is exhausted.
	NextValue() (any, bool)

	// PeekNextValue returns the next value without advancing.
	PeekNextValue() (any, bool)

	// Infinite tells if the serie never ends.
	Infinite() bool
}

// Instancer is implemented by series that can produce an independent copy of
// themselves.
type Instancer interface {
	Instance() Serie
}

// Instance returns an independent copy of s when s supports it. Otherwise it
// restarts s and returns it.
func Instance(s Serie) Serie {
	if i, ok := s.(Instancer); ok {
		return i.Instance()
	}

	s.Restart()

	return s
}

type values struct {
	items []any
	index int
}

// FromValues creates a finite serie over the given values.
func FromValues(items ...any) Serie {
	return &values{items: items}
}

func (s *values) Restart() {
	s.index = 0
}

func (s *values) NextValue() (any, bool) {
	v, ok := s.PeekNextValue()
	if ok {
		s.index++
	}

	return v, ok
}

func (s *values) PeekNextValue() (any, bool) {
	if s.index >= len(s.items) {
		return nil, false
	}

	return s.items[s.index], true
}

func (s *values) Infinite() bool {
	return false
}

func (s *values) Instance() Serie {
	return &values{items: s.items}
}

// FromSlice creates a finite serie over a typed slice.
func FromSlice[T any](items []T) Serie {
	converted := make([]any, len(items))
	for i, v := range items {
		converted[i] = v
	}

	return &values{items: converted}
}

type cycle struct {
	source Serie
	peeked bool
	next   any
}

// Cycle repeats source forever. An empty source makes an empty serie.
func Cycle(source Serie) Serie {
	return &cycle{source: source}
}

func (s *cycle) Restart() {
	s.source.Restart()
	s.peeked = false
	s.next = nil
}

func (s *cycle) pull() (any, bool) {
	v, ok := s.source.NextValue()
	if ok {
		return v, true
	}

	s.source.Restart()

	return s.source.NextValue()
}

func (s *cycle) NextValue() (any, bool) {
	if s.peeked {
		s.peeked = false
		v := s.next
		s.next = nil

		return v, true
	}

	return s.pull()
}

func (s *cycle) PeekNextValue() (any, bool) {
	if s.peeked {
		return s.next, true
	}

	v, ok := s.pull()
	if ok {
		s.peeked = true
		s.next = v
	}

	return v, ok
}

func (s *cycle) Infinite() bool {
	return true
}

func (s *cycle) Instance() Serie {
	return &cycle{source: Instance(s.source)}
}

// Generator produces the i-th value of a serie, or false when done.
type Generator func(i int) (any, bool)

type generated struct {
	gen      Generator
	index    int
	infinite bool
}

// FromFunc creates a serie computing each value from its index.
func FromFunc(gen Generator, infinite bool) Serie {
	return &generated{gen: gen, infinite: infinite}
}

func (s *generated) Restart() {
	s.index = 0
}

func (s *generated) NextValue() (any, bool) {
	v, ok := s.gen(s.index)
	if ok {
		s.index++
	}

	return v, ok
}

func (s *generated) PeekNextValue() (any, bool) {
	return s.gen(s.index)
}

func (s *generated) Infinite() bool {
	return s.infinite
}

func (s *generated) Instance() Serie {
	return &generated{gen: s.gen, infinite: s.infinite}
}

// Take returns a finite serie with at most n values of source.
func Take(source Serie, n int) Serie {
	return &take{source: source, limit: n}
}

type take struct {
	source Serie
	limit  int
	count  int
}

func (s *take) Restart() {
	s.source.Restart()
	s.count = 0
}

func (s *take) NextValue() (any, bool) {
	if s.count >= s.limit {
		return nil, false
	}

	v, ok := s.source.NextValue()
	if ok {
		s.count++
	}

	return v, ok
}

func (s *take) PeekNextValue() (any, bool) {
	if s.count >= s.limit {
		return nil, false
	}

	return s.source.PeekNextValue()
}

func (s *take) Infinite() bool {
	return false
}

func (s *take) Instance() Serie {
	return &take{source: Instance(s.source), limit: s.limit}
}

// Collect drains a finite serie into a slice.
func Collect(s Serie) []any {
	var out []any
	for {
		v, ok := s.NextValue()
		if !ok {
			return out
		}

		out = append(out, v)
	}
}
