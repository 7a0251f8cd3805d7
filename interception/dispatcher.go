// Package interception dispatches intercepted requests to the handlers of
// their controllers and drives the sessions that instrument them.
package interception

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/workertiming/binder"
	"github.com/sarchlab/workertiming/hooking"
	"github.com/sarchlab/workertiming/idgen"
	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/timing"
)

var (
	// ErrUnknownRequest is returned for operations on a request that is not
	// in flight.
	ErrUnknownRequest = errors.New("unknown request")

	// ErrNotIntercepted is returned when dispatching a request that no
	// registered controller intercepts.
	ErrNotIntercepted = errors.New("request not intercepted")

	// ErrDuplicateRequest is returned when dispatching a request whose ID is
	// already in flight.
	ErrDuplicateRequest = errors.New("request already in flight")

	// ErrUndecided is returned when a redirect arrives before the handler of
	// the current hop has decided the response.
	ErrUndecided = errors.New("current hop not decided")

	// ErrCompleted is returned when a redirect arrives after the network has
	// completed the request.
	ErrCompleted = errors.New("request already completed")
)

// Discard reasons set by the dispatcher.
const (
	ReasonAborted              = "aborted"
	ReasonControllerTerminated = "controller-terminated"
	ReasonTimeout              = "timeout"
)

// A list of hook positions raised by the dispatcher. Session lifecycle
// hooks are raised on the dispatcher too.
var (
	HookPosDispatched    = &hooking.HookPos{Name: "Dispatched"}
	HookPosHandlerFailed = &hooking.HookPos{Name: "HandlerFailed"}
	HookPosRetired       = &hooking.HookPos{Name: "Retired"}
)

// DispatchEvent is the hook item of HookPosDispatched and
// HookPosHandlerFailed.
type DispatchEvent struct {
	Fetch *FetchEvent
	Err   error
}

type inflight struct {
	request   session.Request
	session   *session.Session
	fetch     *FetchEvent
	hops      int
	completed bool

	// fetchStart is the time origin shared by every hop that keeps the
	// buffer. A Reset starts a new origin.
	fetchStart timing.VTimeInMs
	started    bool
}

// Dispatcher creates a session per intercepted request, runs handlers on the
// engine and forwards session lifecycles to the binder.
type Dispatcher struct {
	*hooking.HookableBase

	engine      timing.EventScheduler
	requestIDs  idgen.Generator
	sessionIDs  idgen.Generator
	binder      *binder.Binder
	coordinator *redirect.Coordinator
	timeout     timing.VTimeInMs

	lock        sync.Mutex
	controllers map[string]controllerEntry
	requests    map[string]*inflight
}

type controllerEntry struct {
	controller session.Controller
	handler    Handler
}

// Binder returns the binder the dispatcher publishes through.
func (d *Dispatcher) Binder() *binder.Binder {
	return d.binder
}

// Coordinator returns the redirect coordinator.
func (d *Dispatcher) Coordinator() *redirect.Coordinator {
	return d.coordinator
}

// Timeline returns the timeline records are published into.
func (d *Dispatcher) Timeline() *resourcetiming.Timeline {
	return d.binder.Timeline()
}

// RegisterController makes h handle every request dispatched to c.
func (d *Dispatcher) RegisterController(c session.Controller, h Handler) {
	if c.ID == "" {
		panic("controller id must not be empty")
	}

	if h == nil {
		panic("controller handler must not be nil")
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	d.controllers[c.ID] = controllerEntry{controller: c, handler: h}
}

// Controller returns the registered controller with the given ID.
func (d *Dispatcher) Controller(id string) (session.Controller, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	entry, ok := d.controllers[id]

	return entry.controller, ok
}

// Dispatch creates the session of a request and schedules its fetch event at
// the current engine time. A request without an ID gets a generated one.
func (d *Dispatcher) Dispatch(req session.Request) (*session.Session, error) {
	if req.ID == "" {
		req.ID = d.requestIDs.Generate()
	}

	d.lock.Lock()

	if _, ok := d.requests[req.ID]; ok {
		d.lock.Unlock()
		return nil, fmt.Errorf("dispatching %s: %w", req.ID, ErrDuplicateRequest)
	}

	entry, ok := d.controllers[req.Controller.ID]
	if !ok {
		d.lock.Unlock()
		return nil, fmt.Errorf("dispatching %s to controller %q: %w",
			req.ID, req.Controller.ID, ErrNotIntercepted)
	}

	req.Controller = entry.controller
	inf := &inflight{request: req}
	d.requests[req.ID] = inf

	d.lock.Unlock()

	s := d.newSession(req)
	d.coordinator.Start(s)
	d.schedule(inf, s, entry.handler)

	return s, nil
}

// Redirect reports a redirect hop of an in-flight request. The next hop is
// dispatched to next, or is not intercepted if next is zero or unregistered.
// A redirect is rejected with ErrUndecided while the current hop's handler
// has not decided, and with ErrCompleted once the request has completed.
func (d *Dispatcher) Redirect(
	requestID string,
	toURL string,
	next session.Controller,
) (redirect.Decision, error) {
	d.lock.Lock()

	inf, ok := d.requests[requestID]
	if !ok || inf.session == nil {
		d.lock.Unlock()
		return redirect.Decision{}, fmt.Errorf("redirecting %s: %w",
			requestID, ErrUnknownRequest)
	}

	if inf.completed {
		d.lock.Unlock()
		return redirect.Decision{}, fmt.Errorf("redirecting %s: %w",
			requestID, ErrCompleted)
	}

	current := inf.session
	if current.State() == session.StateOpen && !current.Decided() {
		d.lock.Unlock()
		return redirect.Decision{}, fmt.Errorf("redirecting %s: %w",
			requestID, ErrUndecided)
	}

	var handler Handler
	if entry, registered := d.controllers[next.ID]; registered && !next.IsZero() {
		next = entry.controller
		handler = entry.handler
	} else {
		next = session.Controller{}
	}

	inf.hops++
	d.lock.Unlock()

	hop := redirect.Hop{
		RequestID:      requestID,
		Kind:           inf.request.Kind,
		FromURL:        current.URL(),
		ToURL:          toURL,
		NextController: next,
	}

	nextSession, decision := d.coordinator.Redirect(current, hop,
		func(c session.Controller, url string) *session.Session {
			req := inf.request
			req.URL = url
			req.Controller = c

			return d.newSession(req)
		})

	d.lock.Lock()
	inf.request.URL = toURL
	inf.request.Controller = next
	inf.session = nextSession
	if decision.Action == redirect.ActionReset {
		inf.started = false
	}
	d.lock.Unlock()

	if nextSession == nil {
		d.binder.Unbind(requestID, decision.Reason)
	} else {
		d.schedule(inf, nextSession, handler)
	}

	d.maybeRetire(requestID)

	return decision, nil
}

// Complete reports that the network layer has finished the request with the
// given base timing fields. The record is published once the session has
// sealed as well.
func (d *Dispatcher) Complete(requestID string, base resourcetiming.Base) error {
	d.lock.Lock()

	inf, ok := d.requests[requestID]
	if !ok || inf.completed {
		d.lock.Unlock()
		return fmt.Errorf("completing %s: %w", requestID, ErrUnknownRequest)
	}

	inf.completed = true
	if base.Name == "" {
		base.Name = inf.request.URL
	}

	d.lock.Unlock()

	d.binder.Complete(requestID, base)
	d.maybeRetire(requestID)

	return nil
}

// Abort cancels an in-flight request. Its session is discarded if still
// open, and nothing is published for it.
func (d *Dispatcher) Abort(requestID string) error {
	d.lock.Lock()

	inf, ok := d.requests[requestID]
	if !ok {
		d.lock.Unlock()
		return fmt.Errorf("aborting %s: %w", requestID, ErrUnknownRequest)
	}

	delete(d.requests, requestID)
	s := inf.session

	d.lock.Unlock()

	if s != nil {
		s.Discard(ReasonAborted)
	}

	d.binder.Unbind(requestID, ReasonAborted)
	d.retire(requestID, inf)

	return nil
}

// TerminateController unregisters a controller and discards every open
// session it owns. It returns the number of sessions discarded.
func (d *Dispatcher) TerminateController(id string) int {
	d.lock.Lock()

	delete(d.controllers, id)

	var owned []*session.Session
	for _, inf := range d.requests {
		if inf.session != nil && inf.session.Controller().ID == id {
			owned = append(owned, inf.session)
		}
	}

	d.lock.Unlock()

	n := 0
	for _, s := range owned {
		if s.Discard(ReasonControllerTerminated) {
			n++
		}
	}

	return n
}

// Session returns the session currently instrumenting a request.
func (d *Dispatcher) Session(requestID string) (*session.Session, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	inf, ok := d.requests[requestID]
	if !ok || inf.session == nil {
		return nil, false
	}

	return inf.session, true
}

// OpenSessions returns the sessions that are still open.
func (d *Dispatcher) OpenSessions() []*session.Session {
	d.lock.Lock()
	sessions := make([]*session.Session, 0, len(d.requests))
	for _, inf := range d.requests {
		if inf.session != nil {
			sessions = append(sessions, inf.session)
		}
	}
	d.lock.Unlock()

	open := sessions[:0]
	for _, s := range sessions {
		if s.State() == session.StateOpen {
			open = append(open, s)
		}
	}

	return open
}

// NumInFlight returns the number of requests not yet retired.
func (d *Dispatcher) NumInFlight() int {
	d.lock.Lock()
	defer d.lock.Unlock()

	return len(d.requests)
}

// Handle processes the events the dispatcher schedules on the engine.
func (d *Dispatcher) Handle(evt any) error {
	switch evt := evt.(type) {
	case *dispatchEvent:
		d.handleDispatch(evt)
	case *continuationEvent:
		evt.fn(evt.fetch)
	case *timeoutEvent:
		d.handleTimeout(evt)
	default:
		return fmt.Errorf("interception: cannot handle event of type %T", evt)
	}

	return nil
}

// SessionSealed forwards a sealed session to the binder.
func (d *Dispatcher) SessionSealed(s *session.Session) {
	d.binder.SessionSealed(s)
	d.maybeRetire(s.RequestID())
}

// SessionDiscarded forwards a discarded session to the binder.
func (d *Dispatcher) SessionDiscarded(s *session.Session, reason string) {
	d.binder.SessionDiscarded(s, reason)
	d.maybeRetire(s.RequestID())
}

func (d *Dispatcher) newSession(req session.Request) *session.Session {
	s := session.MakeBuilder().
		WithID(d.sessionIDs.Generate()).
		WithRequest(req).
		WithHookable(d).
		WithLifecycleHandler(d).
		Build()

	if err := d.binder.Bind(s); err != nil {
		panic(err)
	}

	return s
}

func (d *Dispatcher) schedule(inf *inflight, s *session.Session, h Handler) {
	now := d.engine.CurrentTime()

	d.lock.Lock()
	if h == nil {
		h = d.controllers[s.Controller().ID].handler
	}

	if !inf.started {
		inf.fetchStart = now
		inf.started = true
	}

	fetch := &FetchEvent{
		dispatcher: d,
		handler:    h,
		session:    s,
		request:    s.Request(),
		fetchStart: inf.fetchStart,
		hop:        inf.hops,
	}
	inf.session = s
	inf.fetch = fetch
	d.lock.Unlock()

	d.engine.Schedule(timing.ScheduledEvent{
		Event:   &dispatchEvent{fetch: fetch},
		Time:    now,
		Handler: d,
	})

	if d.timeout > 0 {
		d.engine.Schedule(timing.ScheduledEvent{
			Event:       &timeoutEvent{fetch: fetch},
			Time:        now + d.timeout,
			Handler:     d,
			IsSecondary: true,
		})
	}
}

func (d *Dispatcher) handleDispatch(evt *dispatchEvent) {
	fetch := evt.fetch
	s := fetch.session

	if s.State() != session.StateOpen {
		return
	}

	d.invokeHook(HookPosDispatched, DispatchEvent{Fetch: fetch})

	if fetch.handler == nil {
		s.Decide(session.DispositionDeclined)
		return
	}

	fetch.beginDispatch()
	err := fetch.handler.HandleFetch(fetch)
	claimed := fetch.endDispatch()

	if err != nil {
		d.invokeHook(HookPosHandlerFailed, DispatchEvent{Fetch: fetch, Err: err})
	}

	switch {
	case claimed:
	case err != nil:
		s.Decide(session.DispositionFailed)
	default:
		s.Decide(session.DispositionDeclined)
	}
}

func (d *Dispatcher) handleTimeout(evt *timeoutEvent) {
	d.lock.Lock()
	inf, ok := d.requests[evt.fetch.request.ID]
	current := ok && inf.fetch == evt.fetch
	d.lock.Unlock()

	if !current {
		return
	}

	evt.fetch.session.Discard(ReasonTimeout)
}

// maybeRetire forgets a request once the network has completed it and its
// session is no longer open.
func (d *Dispatcher) maybeRetire(requestID string) {
	d.lock.Lock()

	inf, ok := d.requests[requestID]
	if !ok || !inf.completed {
		d.lock.Unlock()
		return
	}

	if inf.session != nil && inf.session.State() == session.StateOpen {
		d.lock.Unlock()
		return
	}

	delete(d.requests, requestID)

	d.lock.Unlock()

	d.retire(requestID, inf)
}

func (d *Dispatcher) retire(requestID string, inf *inflight) {
	d.coordinator.Forget(requestID)
	d.invokeHook(HookPosRetired, DispatchEvent{Fetch: inf.fetch})
}

func (d *Dispatcher) invokeHook(pos *hooking.HookPos, evt DispatchEvent) {
	if d.NumHooks() == 0 {
		return
	}

	d.InvokeHook(hooking.HookCtx{
		Domain: d,
		Pos:    pos,
		Item:   evt,
	})
}

var _ timing.Handler = (*Dispatcher)(nil)
