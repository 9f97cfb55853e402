// Package quantize snaps timed numeric samples onto a value grid and turns
// them into the points a timed play schedules.
package quantize

import (
	"fmt"
	"math"

	"github.com/sarchlab/cadence/sim/timing"
)

// Quantizer rounds values to the nearest reference + k·step.
type Quantizer struct {
	reference float64
	step      float64
	enabled   bool
}

// New creates a Quantizer. Step must be positive.
func New(reference, step float64) (Quantizer, error) {
	if math.IsNaN(step) || math.IsInf(step, 0) || step <= 0 {
		return Quantizer{}, fmt.Errorf("quantize: step must be positive, got %v", step)
	}

	if math.IsNaN(reference) || math.IsInf(reference, 0) {
		return Quantizer{}, fmt.Errorf("quantize: invalid reference %v", reference)
	}

	return Quantizer{reference: reference, step: step, enabled: true}, nil
}

// Passthrough creates a Quantizer that leaves values untouched.
func Passthrough() Quantizer {
	return Quantizer{}
}

// Enabled tells if values are snapped.
func (q Quantizer) Enabled() bool {
	return q.enabled
}

// Level returns the index of the grid point nearest to v. Halves round away
// from zero.
func (q Quantizer) Level(v float64) int64 {
	return int64(math.Round((v - q.reference) / q.step))
}

// ValueAt returns the value of the grid point with the given index.
func (q Quantizer) ValueAt(level int64) float64 {
	return q.reference + float64(level)*q.step
}

// Snap returns the grid value nearest to v, or v when disabled.
func (q Quantizer) Snap(v float64) float64 {
	if !q.enabled {
		return v
	}

	return q.ValueAt(q.Level(v))
}

// Sample is one timed source value.
type Sample struct {
	Time        timing.VTimeInBar
	Value       float64
	Duration    timing.VTimeInBar
	HasDuration bool
}

// Point is a quantized value and how long it holds.
type Point struct {
	Time        timing.VTimeInBar
	Value       float64
	Duration    timing.VTimeInBar
	HasDuration bool
	Next        float64
	HasNext     bool
}

// Stream quantizes samples incrementally. A point becomes ready once the
// point after it is known, or when the stream is flushed or cut.
type Stream struct {
	q Quantizer

	started   bool
	last      Sample
	lastLevel int64
	pending   *Point
	ready     []Point
}

// NewStream creates a Stream.
func NewStream(q Quantizer) *Stream {
	return &Stream{q: q}
}

// Push adds the next sample. Sample times must not decrease.
func (s *Stream) Push(sample Sample) error {
	if s.started && sample.Time.Less(s.last.Time) {
		return fmt.Errorf("quantize: sample at %s is before %s",
			sample.Time, s.last.Time)
	}

	if !s.started || !s.q.enabled {
		s.started = true
		s.last = sample
		if s.q.enabled {
			s.lastLevel = s.q.Level(sample.Value)
		}
		s.emit(sample.Time, s.q.Snap(sample.Value))

		return nil
	}

	to := s.q.Level(sample.Value)
	if to == s.lastLevel {
		s.last = sample
		return nil
	}

	dir := int64(1)
	if to < s.lastLevel {
		dir = -1
	}

	span := sample.Time.Sub(s.last.Time)
	for k := s.lastLevel + dir; k != to; k += dir {
		ratio := (s.q.ValueAt(k) - s.last.Value) / (sample.Value - s.last.Value)
		s.emit(s.last.Time.Add(span.Mul(timing.FromFloat(ratio))), s.q.ValueAt(k))
	}

	s.emit(sample.Time, s.q.ValueAt(to))
	s.last = sample
	s.lastLevel = to

	return nil
}

func (s *Stream) emit(t timing.VTimeInBar, v float64) {
	if s.pending != nil && t.Equal(s.pending.Time) {
		s.pending.Value = v
		return
	}

	if s.pending != nil {
		p := *s.pending
		p.Duration = t.Sub(p.Time)
		p.HasDuration = true
		p.Next = v
		p.HasNext = true
		s.ready = append(s.ready, p)
	}

	s.pending = &Point{Time: t, Value: v}
}

// Flush releases the last point. Its duration is the one of the last sample,
// if any.
func (s *Stream) Flush() {
	if s.pending == nil {
		return
	}

	p := *s.pending
	if s.last.HasDuration {
		p.Duration = s.last.Time.Add(s.last.Duration).Sub(p.Time)
		p.HasDuration = true
	}

	s.ready = append(s.ready, p)
	s.pending = nil
}

// Cut releases the last point without waiting for its successor. Its
// duration is the time elapsed until the last sample.
func (s *Stream) Cut() {
	if s.pending == nil {
		return
	}

	p := *s.pending
	if held := s.last.Time.Sub(p.Time); held.Sign() > 0 {
		p.Duration = held
		p.HasDuration = true
	}

	s.ready = append(s.ready, p)
	s.pending = nil
}

// Ready tells if a point can be popped.
func (s *Stream) Ready() bool {
	return len(s.ready) > 0
}

// Pending tells if a point is waiting for its successor.
func (s *Stream) Pending() bool {
	return s.pending != nil
}

// Peek returns the first ready point.
func (s *Stream) Peek() (Point, bool) {
	if len(s.ready) == 0 {
		return Point{}, false
	}

	return s.ready[0], true
}

// Pop removes and returns the first ready point.
func (s *Stream) Pop() (Point, bool) {
	p, ok := s.Peek()
	if ok {
		s.ready = s.ready[1:]
	}

	return p, ok
}

// Quantize runs a whole sample list through a Stream.
func Quantize(q Quantizer, samples []Sample) ([]Point, error) {
	s := NewStream(q)
	for _, sample := range samples {
		if err := s.Push(sample); err != nil {
			return nil, err
		}
	}

	s.Flush()

	points := make([]Point, 0, len(s.ready))
	for {
		p, ok := s.Pop()
		if !ok {
			return points, nil
		}

		points = append(points, p)
	}
}
