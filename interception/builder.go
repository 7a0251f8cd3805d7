package interception

import (
	"github.com/sarchlab/workertiming/binder"
	"github.com/sarchlab/workertiming/hooking"
	"github.com/sarchlab/workertiming/idgen"
	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/timing"
)

// A Builder can build dispatchers.
type Builder struct {
	engine      timing.EventScheduler
	idGenerator idgen.Generator
	binder      *binder.Binder
	coordinator *redirect.Coordinator
	timeout     timing.VTimeInMs
}

// MakeBuilder creates a new Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		idGenerator: idgen.NewSequential(),
	}
}

// WithEngine sets the engine that runs the handlers.
func (b Builder) WithEngine(engine timing.EventScheduler) Builder {
	b.engine = engine
	return b
}

// WithIDGenerator sets the generator of request and session IDs.
func (b Builder) WithIDGenerator(g idgen.Generator) Builder {
	b.idGenerator = g
	return b
}

// WithBinder sets the binder that publishes sealed sessions.
func (b Builder) WithBinder(bd *binder.Binder) Builder {
	b.binder = bd
	return b
}

// WithCoordinator sets the redirect coordinator.
func (b Builder) WithCoordinator(c *redirect.Coordinator) Builder {
	b.coordinator = c
	return b
}

// WithSessionTimeout discards sessions still open timeout milliseconds after
// their dispatch. Zero disables the timeout.
func (b Builder) WithSessionTimeout(timeout timing.VTimeInMs) Builder {
	b.timeout = timeout
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.engine == nil {
		panic("engine is not set")
	}

	if b.binder == nil {
		panic("binder is not set")
	}

	if b.idGenerator == nil {
		panic("id generator is not set")
	}

	if b.timeout < 0 {
		panic("session timeout must not be negative")
	}
}

// Build creates a Dispatcher. Without a coordinator, redirects follow the
// origin-sensitive policy.
func (b Builder) Build() *Dispatcher {
	b.parametersMustBeValid()

	coordinator := b.coordinator
	if coordinator == nil {
		coordinator = redirect.NewCoordinator(redirect.PolicyOriginSensitive)
	}

	return &Dispatcher{
		HookableBase: hooking.NewHookableBase(),
		engine:       b.engine,
		requestIDs:   prefixed{"req-", b.idGenerator},
		sessionIDs:   prefixed{"ses-", b.idGenerator},
		binder:       b.binder,
		coordinator:  coordinator,
		timeout:      b.timeout,
		controllers:  make(map[string]controllerEntry),
		requests:     make(map[string]*inflight),
	}
}

type prefixed struct {
	prefix string
	gen    idgen.Generator
}

func (p prefixed) Generate() string {
	return p.prefix + p.gen.Generate()
}

var _ session.LifecycleHandler = (*Dispatcher)(nil)
