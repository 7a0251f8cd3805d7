// Package session owns the instrumentation buffer of one intercepted request
// and the lifecycle that decides when that buffer becomes final.
//
// A Session starts Open. It becomes Sealed exactly once, when the handler has
// decided how to respond and every registered extension has settled, and it
// becomes Discarded if the request is abandoned first. Both end states are
// terminal. Calls that arrive after either transition are silently ignored.
package session

import (
	"slices"
	"sync"

	"github.com/sarchlab/workertiming/hooking"
)

// State is the lifecycle state of a Session.
type State int

// The session states.
const (
	StateOpen State = iota
	StateSealed
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSealed:
		return "sealed"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// A LifecycleHandler is told when a session reaches a terminal state. It is
// called without any session lock held and at most once per session.
type LifecycleHandler interface {
	SessionSealed(s *Session)
	SessionDiscarded(s *Session, reason string)
}

// Session is the per-request instrumentation container. It is safe to share
// one Session among every continuation that may append to it.
type Session struct {
	id      string
	request Request
	hooks   hooking.Hookable
	handler LifecycleHandler

	lock          sync.Mutex
	state         State
	entries       []TimingRecord
	discardReason string
	tracker       *ExtensionTracker
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Request returns the request the session instruments.
func (s *Session) Request() Request {
	return s.request
}

// RequestID returns the ID of the request the session instruments.
func (s *Session) RequestID() string {
	return s.request.ID
}

// URL returns the URL of the request the session instruments.
func (s *Session) URL() string {
	return s.request.URL
}

// Origin returns the origin of the request the session instruments.
func (s *Session) Origin() string {
	return s.request.Origin
}

// Kind returns the request kind.
func (s *Session) Kind() RequestKind {
	return s.request.Kind
}

// Controller returns the controlling context the session was dispatched to.
func (s *Session) Controller() Controller {
	return s.request.Controller
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.state
}

// Outstanding returns the number of unsettled extensions, including the
// implicit decision extension.
func (s *Session) Outstanding() int {
	return s.tracker.Outstanding()
}

// Disposition returns the handler's decision so far.
func (s *Session) Disposition() Disposition {
	return s.tracker.Disposition()
}

// DiscardReason returns why the session was discarded, or "".
func (s *Session) DiscardReason() string {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.discardReason
}

// Len returns the number of entries accepted so far.
func (s *Session) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.entries)
}

// Entries returns a copy of the entries accepted so far, in insertion order.
func (s *Session) Entries() []TimingRecord {
	s.lock.Lock()
	defer s.lock.Unlock()

	return slices.Clone(s.entries)
}

// Frozen returns the sealed entry sequence itself, without copying. It
// returns false while the session is not Sealed. The returned slice must be
// treated as read-only; its capacity is clipped so appending to it never
// writes into the session's storage.
func (s *Session) Frozen() ([]TimingRecord, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != StateSealed {
		return nil, false
	}

	return s.entries, true
}

// Append records an entry. Malformed entries are dropped and reported
// through HookPosInvalidEntry. Appends to a session that is no longer Open,
// or whose seal signal has already fired, are ignored.
func (s *Session) Append(record TimingRecord) {
	s.lock.Lock()

	if !s.acceptingLocked() {
		s.lock.Unlock()
		s.invokeHook(HookPosLateCall, LifecycleEvent{
			Record: &record,
			Op:     OpAppend,
		})

		return
	}

	if err := record.Validate(); err != nil {
		s.lock.Unlock()
		s.invokeHook(HookPosInvalidEntry, LifecycleEvent{
			Record: &record,
			Op:     OpAppend,
			Err:    err,
		})

		return
	}

	snapshot := record.snapshot()
	s.entries = append(s.entries, snapshot)

	s.lock.Unlock()

	s.invokeHook(HookPosEntryAppended, LifecycleEvent{Record: &snapshot})
}

// Carry appends entries inherited from an earlier session of the same
// redirect chain. The entries are expected to have been validated already.
// It returns false if the session is no longer accepting entries.
func (s *Session) Carry(records []TimingRecord) bool {
	s.lock.Lock()

	if !s.acceptingLocked() {
		s.lock.Unlock()
		s.invokeHook(HookPosLateCall, LifecycleEvent{Op: OpCarry})

		return false
	}

	for _, r := range records {
		s.entries = append(s.entries, r.snapshot())
	}

	s.lock.Unlock()

	return true
}

// RegisterExtension registers a continuation that keeps the session open.
// Once the session is no longer Open, an inert handle is returned and the
// session is not reopened.
func (s *Session) RegisterExtension(label string) *ExtensionHandle {
	s.lock.Lock()

	if s.state != StateOpen {
		s.lock.Unlock()
		s.invokeHook(HookPosLateCall, LifecycleEvent{Op: OpRegisterExtension})

		return &ExtensionHandle{label: label}
	}

	h, ok := s.tracker.Extend(label)

	s.lock.Unlock()

	if !ok {
		s.invokeHook(HookPosLateCall, LifecycleEvent{Op: OpRegisterExtension})
		return h
	}

	s.invokeHook(HookPosExtensionRegistered, LifecycleEvent{Handle: h})

	return h
}

// Decide records the handler's final response determination. Only the first
// decision counts.
func (s *Session) Decide(d Disposition) bool {
	if d == DispositionNone {
		panic("cannot decide with DispositionNone")
	}

	if s.State() != StateOpen {
		s.invokeHook(HookPosLateCall, LifecycleEvent{Op: OpDecide})
		return false
	}

	if !s.tracker.Decide(d) {
		s.invokeHook(HookPosLateCall, LifecycleEvent{Op: OpDecide})
		return false
	}

	return true
}

func (s *Session) decided(d Disposition) {
	s.invokeHook(HookPosDecided, LifecycleEvent{Disposition: d})
}

// Decided tells if the handler's decision has been made.
func (s *Session) Decided() bool {
	return s.tracker.Decided()
}

// Rearm reopens the decision for the next redirect hop while keeping every
// entry and extension. It returns false if the session can no longer be
// extended.
func (s *Session) Rearm() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != StateOpen {
		return false
	}

	return s.tracker.Rearm()
}

// Discard abandons the session. Its entries are dropped and never published.
// It returns false if the session was already sealed, discarded, or its seal
// signal has already fired.
func (s *Session) Discard(reason string) bool {
	s.lock.Lock()

	if s.state != StateOpen {
		s.lock.Unlock()
		return false
	}

	if !s.tracker.Cancel() {
		s.lock.Unlock()
		return false
	}

	s.state = StateDiscarded
	s.entries = nil
	s.discardReason = reason

	s.lock.Unlock()

	s.invokeHook(HookPosDiscarded, LifecycleEvent{Reason: reason})

	if s.handler != nil {
		s.handler.SessionDiscarded(s, reason)
	}

	return true
}

// acceptingLocked must be called with the lock held.
func (s *Session) acceptingLocked() bool {
	return s.state == StateOpen && !s.tracker.Fired()
}

func (s *Session) seal() {
	s.lock.Lock()

	if s.state != StateOpen {
		s.lock.Unlock()
		return
	}

	s.state = StateSealed
	s.entries = slices.Clip(s.entries)
	if s.entries == nil {
		s.entries = []TimingRecord{}
	}

	s.lock.Unlock()

	s.invokeHook(HookPosSealed, LifecycleEvent{})

	if s.handler != nil {
		s.handler.SessionSealed(s)
	}
}

func (s *Session) extensionSettled(h *ExtensionHandle, err error) {
	s.invokeHook(HookPosExtensionSettled, LifecycleEvent{Handle: h, Err: err})
}

func (s *Session) invokeHook(pos *hooking.HookPos, evt LifecycleEvent) {
	if s.hooks == nil || s.hooks.NumHooks() == 0 {
		return
	}

	evt.Session = s
	s.hooks.InvokeHook(hooking.HookCtx{
		Domain: s.hooks,
		Pos:    pos,
		Item:   evt,
	})
}
