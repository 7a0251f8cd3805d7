package session

import "github.com/sarchlab/workertiming/hooking"

// A Builder creates sessions.
type Builder struct {
	id      string
	request Request
	hooks   hooking.Hookable
	handler LifecycleHandler
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithID sets the session ID.
func (b Builder) WithID(id string) Builder {
	b.id = id
	return b
}

// WithRequest sets the request the session instruments.
func (b Builder) WithRequest(r Request) Builder {
	b.request = r
	return b
}

// WithHookable sets the domain whose hooks receive the session's lifecycle
// events.
func (b Builder) WithHookable(h hooking.Hookable) Builder {
	b.hooks = h
	return b
}

// WithLifecycleHandler sets the handler told about sealing and discarding.
func (b Builder) WithLifecycleHandler(h LifecycleHandler) Builder {
	b.handler = h
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.id == "" {
		panic("session id must not be empty")
	}
}

// Build creates an Open session with its implicit decision extension
// established and raises HookPosSessionOpen.
func (b Builder) Build() *Session {
	b.parametersMustBeValid()

	s := &Session{
		id:      b.id,
		request: b.request,
		hooks:   b.hooks,
		handler: b.handler,
		state:   StateOpen,
	}

	s.tracker = NewExtensionTracker(TrackerCallbacks{
		OnSettled: s.extensionSettled,
		OnDecided: s.decided,
		OnZero:    s.seal,
	})
	s.tracker.Begin()

	s.invokeHook(HookPosSessionOpen, LifecycleEvent{})

	return s
}
