package tracing

import (
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// LabelCount sums up the commands run under one label.
type LabelCount struct {
	Label       string
	Ended       uint64
	Failed      uint64
	Errors      uint64
	FastForward uint64
}

// CountTracer counts the commands of each label, and the steps they take.
type CountTracer struct {
	filter TaskFilter

	lock      sync.Mutex
	inflight  map[string]string
	labels    map[string]*LabelCount
	stepCount map[string]uint64
}

// NewCountTracer creates a CountTracer. A nil filter accepts all tasks.
func NewCountTracer(filter TaskFilter) *CountTracer {
	return &CountTracer{
		filter:    filter,
		inflight:  make(map[string]string),
		labels:    make(map[string]*LabelCount),
		stepCount: make(map[string]uint64),
	}
}

func (t *CountTracer) label(what string) *LabelCount {
	c, ok := t.labels[what]
	if !ok {
		c = &LabelCount{Label: what}
		t.labels[what] = c
	}

	return c
}

// StartTask starts counting the task.
func (t *CountTracer) StartTask(task Task) {
	if !accept(t.filter, task) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.inflight[task.ID] = task.What
	t.label(task.What)
}

// StepTask counts the steps of a counted task.
func (t *CountTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	what, ok := t.inflight[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		t.stepCount[step.What]++
		if step.What == "error" {
			t.label(what).Errors++
		}
	}
}

// EndTask counts the task as ended.
func (t *CountTracer) EndTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.inflight[task.ID]; !ok {
		return
	}
	delete(t.inflight, task.ID)

	c := t.label(task.What)
	c.Ended++

	if task.Err != "" {
		c.Failed++
	}

	if task.FastForward {
		c.FastForward++
	}
}

// StepCount returns how many steps with the given name were taken.
func (t *CountTracer) StepCount(what string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.stepCount[what]
}

// Count returns the counts of one label.
func (t *CountTracer) Count(label string) LabelCount {
	t.lock.Lock()
	defer t.lock.Unlock()

	if c, ok := t.labels[label]; ok {
		return *c
	}

	return LabelCount{Label: label}
}

// Counts returns the counts of every label seen, sorted by label.
func (t *CountTracer) Counts() []LabelCount {
	t.lock.Lock()
	defer t.lock.Unlock()

	list := make([]LabelCount, 0, len(t.labels))
	for _, c := range t.labels {
		list = append(list, *c)
	}

	slices.SortFunc(list, func(a, b LabelCount) int {
		return strings.Compare(a.Label, b.Label)
	})

	return list
}
