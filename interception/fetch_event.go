package interception

import (
	"sync"

	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/timing"
)

// FetchEvent is what a handler sees of one dispatch. It carries the session
// the handler instruments and the calls that decide the response.
type FetchEvent struct {
	dispatcher *Dispatcher
	handler    Handler
	session    *session.Session
	request    session.Request
	fetchStart timing.VTimeInMs
	hop        int

	lock        sync.Mutex
	dispatching bool
	claimed     bool
	response    *Response
}

// Request returns the intercepted request.
func (e *FetchEvent) Request() session.Request {
	return e.request
}

// Session returns the session the event instruments.
func (e *FetchEvent) Session() *session.Session {
	return e.session
}

// Hop returns the number of redirects that preceded this dispatch.
func (e *FetchEvent) Hop() int {
	return e.hop
}

// FetchStart returns the engine time record times are measured from. Hops
// that keep or carry the buffer share the fetch start of the first hop.
func (e *FetchEvent) FetchStart() timing.VTimeInMs {
	return e.fetchStart
}

// Now returns the time elapsed since the fetch start.
func (e *FetchEvent) Now() timing.VTimeInMs {
	return e.dispatcher.engine.CurrentTime() - e.fetchStart
}

// Mark appends a mark at the current time.
func (e *FetchEvent) Mark(name string, metadata any) {
	e.session.Append(session.Mark(name, e.Now()).WithMetadata(metadata))
}

// Measure appends a measure spanning from start to the current time.
func (e *FetchEvent) Measure(name string, start timing.VTimeInMs, metadata any) {
	e.session.Append(
		session.Measure(name, start, e.Now()).WithMetadata(metadata))
}

// Append appends an already constructed record.
func (e *FetchEvent) Append(record session.TimingRecord) {
	e.session.Append(record)
}

// WaitUntil registers an extension that keeps the session open until the
// returned handle is settled.
func (e *FetchEvent) WaitUntil(label string) *session.ExtensionHandle {
	return e.session.RegisterExtension(label)
}

// RespondWith responds synchronously. It only counts while the handler is
// being dispatched and no response has been claimed yet.
func (e *FetchEvent) RespondWith(resp Response) bool {
	if !e.claim() {
		return false
	}

	e.lock.Lock()
	e.response = &resp
	e.lock.Unlock()

	return e.session.Decide(session.DispositionResponded)
}

// RespondLater claims the response and returns a Responder that produces it
// later. It returns nil if the response can no longer be claimed.
func (e *FetchEvent) RespondLater() *Responder {
	if !e.claim() {
		return nil
	}

	return &Responder{fetch: e}
}

// After schedules fn to run delay milliseconds from now. The continuation
// does not keep the session open by itself; pair it with WaitUntil or
// RespondLater for that.
func (e *FetchEvent) After(delay timing.VTimeInMs, fn func(e *FetchEvent)) {
	e.dispatcher.engine.Schedule(timing.ScheduledEvent{
		Event:   &continuationEvent{fetch: e, fn: fn},
		Time:    e.dispatcher.engine.CurrentTime() + delay,
		Handler: e.dispatcher,
	})
}

// Response returns the response produced so far, if any.
func (e *FetchEvent) Response() (Response, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.response == nil {
		return Response{}, false
	}

	return *e.response, true
}

func (e *FetchEvent) claim() bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	if !e.dispatching || e.claimed {
		return false
	}

	e.claimed = true

	return true
}

func (e *FetchEvent) beginDispatch() {
	e.lock.Lock()
	e.dispatching = true
	e.lock.Unlock()
}

// endDispatch closes the synchronous window and reports whether a response
// was claimed in it.
func (e *FetchEvent) endDispatch() bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.dispatching = false

	return e.claimed
}

// Responder produces a response claimed with RespondLater. Only the first of
// Respond and Fail counts.
type Responder struct {
	fetch *FetchEvent
}

// Respond settles the response with resp.
func (r *Responder) Respond(resp Response) bool {
	if !r.fetch.session.Decide(session.DispositionResponded) {
		return false
	}

	r.fetch.lock.Lock()
	r.fetch.response = &resp
	r.fetch.lock.Unlock()

	return true
}

// Fail settles the response as a network error.
func (r *Responder) Fail() bool {
	return r.fetch.session.Decide(session.DispositionFailed)
}
