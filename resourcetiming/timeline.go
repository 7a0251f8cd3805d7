package resourcetiming

import (
	"sync"

	"github.com/sarchlab/workertiming/hooking"
)

// HookPosEntryPublished is raised once for every entry added to a Timeline.
var HookPosEntryPublished = &hooking.HookPos{Name: "EntryPublished"}

// An Observer is notified of every published entry.
type Observer interface {
	EntryPublished(e *Entry)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(e *Entry)

// EntryPublished calls f.
func (f ObserverFunc) EntryPublished(e *Entry) {
	f(e)
}

type observerHook struct {
	observer Observer
}

func (h *observerHook) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosEntryPublished {
		return
	}

	h.observer.EntryPublished(ctx.Item.(*Entry))
}

// Timeline is the buffer of published entries. Entries are never modified or
// removed once added, so readers need no coordination beyond the lookups.
type Timeline struct {
	*hooking.HookableBase

	lock      sync.RWMutex
	entries   []*Entry
	byRequest map[string]*Entry
}

// NewTimeline creates an empty Timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		HookableBase: hooking.NewHookableBase(),
		byRequest:    make(map[string]*Entry),
	}
}

// Observe registers an observer.
func (t *Timeline) Observe(o Observer) {
	t.AcceptHook(&observerHook{observer: o})
}

// Add publishes an entry and notifies observers. It returns false, without
// notifying, if an entry for the same request was already published.
func (t *Timeline) Add(e *Entry) bool {
	t.lock.Lock()

	if _, exists := t.byRequest[e.requestID]; exists {
		t.lock.Unlock()
		return false
	}

	t.entries = append(t.entries, e)
	t.byRequest[e.requestID] = e

	t.lock.Unlock()

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosEntryPublished,
		Item:   e,
	})

	return true
}

// Len returns the number of published entries.
func (t *Timeline) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return len(t.entries)
}

// Entries returns all published entries in publication order.
func (t *Timeline) Entries() []*Entry {
	t.lock.RLock()
	defer t.lock.RUnlock()

	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)

	return out
}

// EntriesByName returns the published entries with the given name (URL).
func (t *Timeline) EntriesByName(name string) []*Entry {
	t.lock.RLock()
	defer t.lock.RUnlock()

	var out []*Entry
	for _, e := range t.entries {
		if e.Name == name {
			out = append(out, e)
		}
	}

	return out
}

// Entry returns the entry published for a request.
func (t *Timeline) Entry(requestID string) (*Entry, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	e, ok := t.byRequest[requestID]

	return e, ok
}
