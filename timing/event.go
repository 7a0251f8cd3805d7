// Package timing provides the virtual clock and the serial engine that runs
// handler continuations one after another.
package timing

import "github.com/sarchlab/workertiming/hooking"

// VTimeInMs is a time value in milliseconds. Engine time is measured from the
// engine start; timing record values are measured from a request's fetch
// start.
type VTimeInMs float64

// Handler processes events of various types. Events are plain data structs
// and handlers type-switch on them.
type Handler interface {
	Handle(event any) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(event any) error

// Handle calls f.
func (f HandlerFunc) Handle(event any) error {
	return f(event)
}

// TimeTeller exposes the current engine time.
type TimeTeller interface {
	CurrentTime() VTimeInMs
}

// EventScheduler schedules events in the timeline.
type EventScheduler interface {
	TimeTeller
	Schedule(event ScheduledEvent)
}

// ScheduledEvent is the engine-facing wrapper for user-defined events.
type ScheduledEvent struct {
	// Event is the data payload delivered to the handler.
	Event any

	// Time is when the event should be processed.
	Time VTimeInMs

	// Handler is the component that will process this event.
	Handler Handler

	// IsSecondary indicates if this event should be processed after all
	// primary events at the same time.
	IsSecondary bool

	seq uint64
}

// A list of hook positions raised by engines.
var (
	HookPosBeforeEvent = &hooking.HookPos{Name: "BeforeEvent"}
	HookPosAfterEvent  = &hooking.HookPos{Name: "AfterEvent"}
)

// An Engine keeps the event loop running.
type Engine interface {
	hooking.Hookable
	EventScheduler

	// Run processes all the events until none is left.
	Run() error

	// Pause stops dispatching events until Continue is called.
	Pause()

	// Continue resumes a paused engine.
	Continue()
}
