package timing

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Timeslots is a time-keyed multimap from position to the ordered list of
// items pending there. It is safe for concurrent use.
type Timeslots[C any] struct {
	lock      sync.Mutex
	positions []VTimeInBar
	slots     map[string][]C
	count     int
}

// NewTimeslots creates an empty Timeslots.
func NewTimeslots[C any]() *Timeslots[C] {
	return &Timeslots[C]{
		slots: make(map[string][]C),
	}
}

func (s *Timeslots[C]) search(pos VTimeInBar) (int, bool) {
	return slices.BinarySearchFunc(s.positions, pos,
		func(e, target VTimeInBar) int { return e.Cmp(target) })
}

// Put appends item to the list at pos, creating the slot if absent.
func (s *Timeslots[C]) Put(pos VTimeInBar, item C) {
	s.lock.Lock()
	defer s.lock.Unlock()

	key := pos.Key()
	if _, ok := s.slots[key]; !ok {
		i, _ := s.search(pos)
		s.positions = slices.Insert(s.positions, i, pos)
	}

	s.slots[key] = append(s.slots[key], item)
	s.count++
}

// PopDue removes and returns the items scheduled at exactly pos.
func (s *Timeslots[C]) PopDue(pos VTimeInBar) []C {
	s.lock.Lock()
	defer s.lock.Unlock()

	key := pos.Key()
	items, ok := s.slots[key]
	if !ok {
		return nil
	}

	delete(s.slots, key)
	if i, found := s.search(pos); found {
		s.positions = slices.Delete(s.positions, i, i+1)
	}
	s.count -= len(items)

	return items
}

// FirstAfter returns the smallest pending position that is not before pos.
func (s *Timeslots[C]) FirstAfter(pos VTimeInBar) (VTimeInBar, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	i, _ := s.search(pos)
	if i >= len(s.positions) {
		return VTimeInBar{}, false
	}

	return s.positions[i], true
}

// First returns the smallest pending position.
func (s *Timeslots[C]) First() (VTimeInBar, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.positions) == 0 {
		return VTimeInBar{}, false
	}

	return s.positions[0], true
}

// Len returns the number of pending items across all positions.
func (s *Timeslots[C]) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.count
}

// Empty tells if nothing is pending.
func (s *Timeslots[C]) Empty() bool {
	return s.Len() == 0
}

// Positions returns the pending positions in ascending order.
func (s *Timeslots[C]) Positions() []VTimeInBar {
	s.lock.Lock()
	defer s.lock.Unlock()

	return slices.Clone(s.positions)
}

// Items returns a copy of the items pending at pos.
func (s *Timeslots[C]) Items(pos VTimeInBar) []C {
	s.lock.Lock()
	defer s.lock.Unlock()

	return slices.Clone(s.slots[pos.Key()])
}

// Clear drops everything.
func (s *Timeslots[C]) Clear() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.positions = nil
	s.slots = make(map[string][]C)
	s.count = 0
}
