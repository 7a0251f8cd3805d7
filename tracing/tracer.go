// Package tracing turns session lifecycle hooks into task traces and
// collects statistics and records from them.
package tracing

// A Tracer can collect task traces
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}
