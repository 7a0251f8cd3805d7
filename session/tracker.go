package session

import "sync"

// An ExtensionHandle represents one outstanding asynchronous continuation
// that keeps a session open. A handle settles at most once; settling it again
// does nothing.
type ExtensionHandle struct {
	id      uint64
	label   string
	tracker *ExtensionTracker
	settled bool
	err     error
}

// ID returns the handle ID, unique within its tracker. Inert handles have ID
// 0.
func (h *ExtensionHandle) ID() uint64 {
	if h == nil {
		return 0
	}

	return h.id
}

// Label returns the label given at registration.
func (h *ExtensionHandle) Label() string {
	if h == nil {
		return ""
	}

	return h.label
}

// IsInert tells if the handle was handed out after the session stopped
// accepting extensions. Settling an inert handle is a no-op.
func (h *ExtensionHandle) IsInert() bool {
	return h == nil || h.tracker == nil
}

// Settle marks the continuation as settled. A nil err means it fulfilled; a
// non-nil err means it failed. Both count as settlement.
func (h *ExtensionHandle) Settle(err error) {
	if h.IsInert() {
		return
	}

	h.tracker.Settle(h, err)
}

// Settled tells if the handle has settled.
func (h *ExtensionHandle) Settled() bool {
	if h.IsInert() {
		return true
	}

	h.tracker.lock.Lock()
	defer h.tracker.lock.Unlock()

	return h.settled
}

// Err returns the failure the handle settled with, if any.
func (h *ExtensionHandle) Err() error {
	if h.IsInert() {
		return nil
	}

	h.tracker.lock.Lock()
	defer h.tracker.lock.Unlock()

	return h.err
}

// TrackerCallbacks are invoked by an ExtensionTracker. They are always called
// without the tracker lock held.
type TrackerCallbacks struct {
	// OnSettled is called once per settled explicit extension.
	OnSettled func(h *ExtensionHandle, err error)

	// OnDecided is called once per accepted decision, before any seal
	// signal that decision triggers.
	OnDecided func(d Disposition)

	// OnZero is the seal signal. It is called at most once, when the
	// decision has been made and no extension is outstanding.
	OnZero func()
}

// An ExtensionTracker counts the outstanding completions that keep a session
// open and fires the seal signal exactly once.
//
// Begin establishes one implicit extension standing for "the handler has not
// decided yet". Decide settles it. The seal signal fires on whichever of the
// two conditions, decided and zero explicit extensions, completes last.
type ExtensionTracker struct {
	lock sync.Mutex

	callbacks    TrackerCallbacks
	outstanding  int
	nextHandleID uint64
	begun        bool
	decided      bool
	disposition  Disposition
	fired        bool
	cancelled    bool
}

// NewExtensionTracker creates a tracker.
func NewExtensionTracker(callbacks TrackerCallbacks) *ExtensionTracker {
	return &ExtensionTracker{callbacks: callbacks}
}

// Begin establishes the implicit decision extension. It must be called once,
// before Decide.
func (t *ExtensionTracker) Begin() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.begun {
		panic("extension tracker already begun")
	}

	t.begun = true
	t.outstanding++
}

// Extend registers an explicit extension. It returns false, and an inert
// handle, once the tracker has fired or has been cancelled.
func (t *ExtensionTracker) Extend(label string) (*ExtensionHandle, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.fired || t.cancelled {
		return &ExtensionHandle{label: label}, false
	}

	t.nextHandleID++
	t.outstanding++

	h := &ExtensionHandle{
		id:      t.nextHandleID,
		label:   label,
		tracker: t,
	}

	return h, true
}

// Settle settles an explicit extension. Settling a handle twice, or settling
// after the tracker fired or was cancelled, is a no-op.
func (t *ExtensionTracker) Settle(h *ExtensionHandle, err error) {
	if h.IsInert() {
		return
	}

	if h.tracker != t {
		panic("extension handle belongs to another tracker")
	}

	t.lock.Lock()

	if h.settled {
		t.lock.Unlock()
		return
	}

	h.settled = true
	h.err = err
	t.outstanding--
	fire := t.shouldFire()
	live := !t.cancelled

	t.lock.Unlock()

	if live && t.callbacks.OnSettled != nil {
		t.callbacks.OnSettled(h, err)
	}

	if fire {
		t.fire()
	}
}

// Decide settles the implicit decision extension. It returns false if the
// decision had already been made.
func (t *ExtensionTracker) Decide(d Disposition) bool {
	t.lock.Lock()

	if !t.begun {
		t.lock.Unlock()
		panic("extension tracker decided before begun")
	}

	if t.decided || t.cancelled || t.fired {
		t.lock.Unlock()
		return false
	}

	t.decided = true
	t.disposition = d
	t.outstanding--
	fire := t.shouldFire()

	t.lock.Unlock()

	if t.callbacks.OnDecided != nil {
		t.callbacks.OnDecided(d)
	}

	if fire {
		t.fire()
	}

	return true
}

// Rearm re-establishes the implicit decision extension after a decision, so
// that a following redirect hop can be decided on the same session. It
// returns false if the tracker has already fired or been cancelled.
func (t *ExtensionTracker) Rearm() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.fired || t.cancelled || !t.begun {
		return false
	}

	if !t.decided {
		return true
	}

	t.decided = false
	t.disposition = DispositionNone
	t.outstanding++

	return true
}

// Cancel stops the tracker from ever firing. It returns false if the seal
// signal has already fired.
func (t *ExtensionTracker) Cancel() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.fired {
		return false
	}

	t.cancelled = true

	return true
}

// Outstanding returns the number of unsettled extensions, including the
// implicit decision extension.
func (t *ExtensionTracker) Outstanding() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.outstanding
}

// Decided tells if the decision has been made.
func (t *ExtensionTracker) Decided() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.decided
}

// Disposition returns the decision made, or DispositionNone.
func (t *ExtensionTracker) Disposition() Disposition {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.disposition
}

// Fired tells if the seal signal has fired.
func (t *ExtensionTracker) Fired() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.fired
}

// shouldFire must be called with the lock held. It flips the fired flag so
// that only one caller ever sees true.
func (t *ExtensionTracker) shouldFire() bool {
	if t.fired || t.cancelled || !t.decided || t.outstanding != 0 {
		return false
	}

	t.fired = true

	return true
}

func (t *ExtensionTracker) fire() {
	if t.callbacks.OnZero != nil {
		t.callbacks.OnZero()
	}
}
