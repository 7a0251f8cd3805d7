package scenario

import (
	"errors"
	"fmt"

	"github.com/sarchlab/workertiming/interception"
	"github.com/sarchlab/workertiming/timing"
)

// A script runs the steps of a controller as a fetch handler.
type script struct {
	steps []Step
}

// Handler returns the fetch handler that runs the controller's steps.
func (c Controller) Handler() interception.Handler {
	return &script{steps: c.Steps}
}

// needsResponder tells whether a response is decided after the handler has
// returned, which requires claiming the response up front.
func (s *script) needsResponder() bool {
	slept := false

	for _, step := range s.steps {
		switch step.Op {
		case OpSleep:
			slept = true
		case OpRespond, OpFail:
			return slept
		}
	}

	return false
}

func (s *script) HandleFetch(e *interception.FetchEvent) error {
	r := &run{
		steps: s.steps,
		marks: make(map[string]timing.VTimeInMs),
	}

	if s.needsResponder() {
		r.responder = e.RespondLater()
	}

	return r.resume(e)
}

// A run is the state of one script execution.
type run struct {
	steps     []Step
	next      int
	marks     map[string]timing.VTimeInMs
	responder *interception.Responder
}

// resume executes steps until the script ends or sleeps.
func (r *run) resume(e *interception.FetchEvent) error {
	for r.next < len(r.steps) {
		step := r.steps[r.next]
		r.next++

		switch step.Op {
		case OpMark:
			r.marks[step.Name] = e.Now()
			e.Mark(step.Name, metadataOf(step))
		case OpMeasure:
			e.Measure(step.Name, r.marks[step.Since], metadataOf(step))
		case OpWaitUntil:
			r.waitUntil(e, step)
		case OpSleep:
			e.After(timing.VTimeInMs(step.Delay), func(e *interception.FetchEvent) {
				// Errors after the handler returned surface as Fail.
				if err := r.resume(e); err != nil && r.responder != nil {
					r.responder.Fail()
				}
			})

			return nil
		case OpRespond:
			r.respond(e, step)
		case OpFail:
			if r.responder != nil {
				r.responder.Fail()
				continue
			}

			return fmt.Errorf("step %d: handler failed", r.next-1)
		default:
			return fmt.Errorf("%w %q", ErrUnknownStep, step.Op)
		}
	}

	return nil
}

func (r *run) waitUntil(e *interception.FetchEvent, step Step) {
	h := e.WaitUntil(step.Label)

	var err error
	if step.Reject != "" {
		err = errors.New(step.Reject)
	}

	e.After(timing.VTimeInMs(step.SettleAfter), func(*interception.FetchEvent) {
		h.Settle(err)
	})
}

func (r *run) respond(e *interception.FetchEvent, step Step) {
	resp := interception.Response{Status: step.Status}
	if resp.Status == 0 {
		resp.Status = 200
	}

	if r.responder != nil {
		r.responder.Respond(resp)
		return
	}

	e.RespondWith(resp)
}

func metadataOf(step Step) any {
	if len(step.Metadata) == 0 {
		return nil
	}

	return step.Metadata
}
