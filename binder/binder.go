// Package binder seals sessions into the externally-visible timing records.
//
// A record is published when two things have happened for its request: the
// bound session has sealed, and the network layer has reported the base
// timing fields. Whichever comes last triggers the publication, so observers
// never see a record whose worker timing is still being filled.
package binder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/workertiming/hooking"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/session"
)

// ErrAlreadyPublished is returned when binding a session to a request whose
// record has already been published.
var ErrAlreadyPublished = errors.New("record already published")

// A list of hook positions raised by the binder.
var (
	HookPosBound     = &hooking.HookPos{Name: "Bound"}
	HookPosHeld      = &hooking.HookPos{Name: "Held"}
	HookPosPublished = &hooking.HookPos{Name: "Published"}
	HookPosDropped   = &hooking.HookPos{Name: "Dropped"}
)

// BindingEvent is the hook item of the binder hook positions.
type BindingEvent struct {
	RequestID string
	Session   *session.Session
	Entry     *resourcetiming.Entry
	Reason    string
}

type binding struct {
	requestID string
	session   *session.Session
	records   []session.TimingRecord
	sealed    bool
	base      *resourcetiming.Base
	published bool
}

// Binder binds sessions to requests and publishes their sealed entries into a
// Timeline.
type Binder struct {
	*hooking.HookableBase

	timeline *resourcetiming.Timeline

	lock      sync.Mutex
	bindings  map[string]*binding
	published map[string]bool
}

// New creates a Binder that publishes into timeline.
func New(timeline *resourcetiming.Timeline) *Binder {
	if timeline == nil {
		panic("binder requires a timeline")
	}

	return &Binder{
		HookableBase: hooking.NewHookableBase(),
		timeline:     timeline,
		bindings:     make(map[string]*binding),
		published:    make(map[string]bool),
	}
}

// Timeline returns the timeline the binder publishes into.
func (b *Binder) Timeline() *resourcetiming.Timeline {
	return b.timeline
}

// Bind makes s the session whose entries will be published for its request.
// Binding again for the same request, as a redirect does, replaces the
// previous session; the previous session can no longer publish.
func (b *Binder) Bind(s *session.Session) error {
	b.lock.Lock()

	requestID := s.RequestID()
	if b.published[requestID] {
		b.lock.Unlock()
		return fmt.Errorf("binding session %s to request %s: %w",
			s.ID(), requestID, ErrAlreadyPublished)
	}

	bd, ok := b.bindings[requestID]
	if !ok {
		bd = &binding{requestID: requestID}
		b.bindings[requestID] = bd
	}

	bd.session = s
	bd.sealed = false
	bd.records = nil

	b.lock.Unlock()

	b.invokeHook(HookPosBound, BindingEvent{RequestID: requestID, Session: s})

	return nil
}

// Unbind forgets the binding of a request without publishing.
func (b *Binder) Unbind(requestID string, reason string) {
	b.lock.Lock()
	bd, ok := b.bindings[requestID]
	delete(b.bindings, requestID)
	b.lock.Unlock()

	if !ok {
		return
	}

	b.invokeHook(HookPosDropped, BindingEvent{
		RequestID: requestID,
		Session:   bd.session,
		Reason:    reason,
	})
}

// SessionSealed captures the frozen entries of a bound session and publishes
// them if the base record is already known.
func (b *Binder) SessionSealed(s *session.Session) {
	b.lock.Lock()

	bd, ok := b.bindings[s.RequestID()]
	if !ok || bd.session != s {
		b.lock.Unlock()
		return
	}

	records, _ := s.Frozen()
	bd.sealed = true
	bd.records = records

	entry := b.tryPublishLocked(bd)
	evt := BindingEvent{RequestID: bd.requestID, Session: bd.session}

	b.lock.Unlock()

	b.announce(evt, entry)
}

// SessionDiscarded drops the binding of a bound session. No record is
// published for the request and no observer is notified.
func (b *Binder) SessionDiscarded(s *session.Session, reason string) {
	b.lock.Lock()

	bd, ok := b.bindings[s.RequestID()]
	if !ok || bd.session != s {
		b.lock.Unlock()
		return
	}

	delete(b.bindings, s.RequestID())

	b.lock.Unlock()

	b.invokeHook(HookPosDropped, BindingEvent{
		RequestID: s.RequestID(),
		Session:   s,
		Reason:    reason,
	})
}

// Complete supplies the base timing fields of a request's final response. It
// returns false if no session is bound to the request.
func (b *Binder) Complete(requestID string, base resourcetiming.Base) bool {
	b.lock.Lock()

	bd, ok := b.bindings[requestID]
	if !ok {
		b.lock.Unlock()
		return false
	}

	baseCopy := base
	bd.base = &baseCopy

	entry := b.tryPublishLocked(bd)
	evt := BindingEvent{RequestID: bd.requestID, Session: bd.session}

	b.lock.Unlock()

	b.announce(evt, entry)

	return true
}

// IsBound tells if a request has a binding waiting for publication.
func (b *Binder) IsBound(requestID string) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	_, ok := b.bindings[requestID]

	return ok
}

// BoundSession returns the session currently bound to a request.
func (b *Binder) BoundSession(requestID string) (*session.Session, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	bd, ok := b.bindings[requestID]
	if !ok {
		return nil, false
	}

	return bd.session, true
}

// NumPending returns the number of bindings not yet published.
func (b *Binder) NumPending() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.bindings)
}

// tryPublishLocked must be called with the lock held. It returns the entry to
// publish, or nil if the binding is not ready or was already published.
func (b *Binder) tryPublishLocked(bd *binding) *resourcetiming.Entry {
	if bd.published || !bd.sealed || bd.base == nil {
		return nil
	}

	bd.published = true
	b.published[bd.requestID] = true
	delete(b.bindings, bd.requestID)

	return resourcetiming.NewEntry(
		bd.requestID,
		bd.session.ID(),
		*bd.base,
		bd.records,
	)
}

func (b *Binder) announce(evt BindingEvent, entry *resourcetiming.Entry) {
	if entry == nil {
		b.invokeHook(HookPosHeld, evt)
		return
	}

	b.timeline.Add(entry)

	evt.Entry = entry
	b.invokeHook(HookPosPublished, evt)
}

func (b *Binder) invokeHook(pos *hooking.HookPos, evt BindingEvent) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(hooking.HookCtx{
		Domain: b,
		Pos:    pos,
		Item:   evt,
	})
}

var _ session.LifecycleHandler = (*Binder)(nil)
