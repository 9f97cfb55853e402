// Package tracing records what a sequencer runs through its hooks.
package tracing

// A Tracer can collect task traces.
type Tracer interface {
	StartTask(task Task)

	// StepTask receives the task with only the new step in Steps.
	StepTask(task Task)

	EndTask(task Task)
}
