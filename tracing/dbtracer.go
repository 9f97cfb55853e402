package tracing

import (
	"sync"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/cadence/sim/timing"
)

// TraceWriter is a backend that can store tasks.
type TraceWriter interface {
	// Write writes a task to the storage.
	Write(task Task) error

	// Flush flushes the tasks to the storage, in case if the backend buffers
	// the tasks.
	Flush() error
}

// DBTracer is a tracer that can store tasks into a database.
// DBTracers can connect with different backends so that the tasks can be
// stored in different types of databases.
type DBTracer struct {
	lock    sync.Mutex
	backend TraceWriter

	hasRange         bool
	startPos, endPos timing.VTimeInBar
	tracingTasks     map[string]Task
	err              error
}

// NewDBTracer creates a new DBTracer. Tasks still in flight are written when
// the program exits through atexit.
func NewDBTracer(backend TraceWriter) *DBTracer {
	t := &DBTracer{
		backend:      backend,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() { _ = t.Terminate() })

	return t
}

// SetPositionRange only keeps the tasks that start within [start, end].
func (t *DBTracer) SetPositionRange(start, end timing.VTimeInBar) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.hasRange = true
	t.startPos = start
	t.endPos = end
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	startingTaskMustBeValid(task)

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.hasRange &&
		(task.Position.Less(t.startPos) || t.endPos.Less(task.Position)) {
		return
	}

	t.tracingTasks[task.ID] = task
}

func startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.Kind == "" {
		panic("task kind must be set")
	}

	if task.Where == "" {
		panic("task where must be set")
	}
}

// StepTask marks a step of a task.
func (t *DBTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	originalTask.Steps = append(originalTask.Steps, task.Steps...)
	t.tracingTasks[task.ID] = originalTask
}

// EndTask marks the end of a task and hands it to the backend.
func (t *DBTracer) EndTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	originalTask.Err = task.Err
	t.write(originalTask)
}

func (t *DBTracer) write(task Task) {
	if err := t.backend.Write(task); err != nil && t.err == nil {
		t.err = err
	}
}

// Err returns the first error the backend reported.
func (t *DBTracer) Err() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.err
}

// Terminate writes the tasks in flight and flushes the backend.
func (t *DBTracer) Terminate() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, task := range t.tracingTasks {
		t.write(task)
	}

	t.tracingTasks = make(map[string]Task)

	if err := t.backend.Flush(); err != nil {
		return err
	}

	return t.err
}
