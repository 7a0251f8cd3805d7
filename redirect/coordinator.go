// Package redirect decides what happens to a session's instrumentation when
// the network layer reports a redirect hop.
package redirect

import (
	"fmt"
	"sync"

	"github.com/sarchlab/workertiming/hooking"
	"github.com/sarchlab/workertiming/session"
)

// Action is what a redirect does to the current session.
type Action int

// The actions.
const (
	// ActionRetain keeps appending to the same session across the hop.
	ActionRetain Action = iota

	// ActionCarry starts a new session that inherits the current entries.
	ActionCarry

	// ActionReset starts a new session, if the next hop is intercepted at
	// all, and drops the current entries.
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionRetain:
		return "retain"
	case ActionCarry:
		return "carry"
	case ActionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Reasons attached to decisions.
const (
	ReasonInitial          = "initial"
	ReasonSameController   = "same-controller"
	ReasonSameOrigin       = "same-origin"
	ReasonCrossOrigin      = "cross-origin"
	ReasonOriginAmbiguous  = "origin-ambiguous"
	ReasonNotIntercepted   = "not-intercepted"
	ReasonPolicy           = "policy"
	ReasonAlreadySealed    = "already-sealed"
	ReasonAlreadyDiscarded = "already-discarded"
	ReasonSuperseded       = "superseded-by-redirect"
)

// HookPosRedirectDecided is raised after every applied redirect decision.
var HookPosRedirectDecided = &hooking.HookPos{Name: "RedirectDecided"}

// Hop is a redirect reported by the network layer.
type Hop struct {
	RequestID string
	Kind      session.RequestKind
	FromURL   string
	ToURL     string

	// NextController is the controlling context the next hop is dispatched
	// to. It is zero if the next hop is not intercepted.
	NextController session.Controller
}

// Decision is the outcome of one redirect hop.
type Decision struct {
	Hop        Hop
	Action     Action
	Reason     string
	FromOrigin string
	ToOrigin   string
	Err        error
}

// Link is one session of a redirect chain.
type Link struct {
	SessionID    string `json:"session_id"`
	ControllerID string `json:"controller_id"`
	Origin       string `json:"origin"`
	URL          string `json:"url"`
	Action       string `json:"action"`
	Reason       string `json:"reason"`
}

// Chain is the sequence of sessions spanning one logical request.
type Chain struct {
	RequestID string `json:"request_id"`
	Links     []Link `json:"links"`
}

// SessionFactory creates, and binds, the session for the next hop.
type SessionFactory func(controller session.Controller, url string) *session.Session

// Coordinator decides session continuity across redirect hops.
type Coordinator struct {
	*hooking.HookableBase

	policy Policy

	lock   sync.Mutex
	chains map[string]*Chain
}

// NewCoordinator creates a Coordinator using the given policy.
func NewCoordinator(policy Policy) *Coordinator {
	return &Coordinator{
		HookableBase: hooking.NewHookableBase(),
		policy:       policy,
		chains:       make(map[string]*Chain),
	}
}

// Policy returns the navigation redirect policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Start opens the chain of a request with its first session.
func (c *Coordinator) Start(s *session.Session) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.chains[s.RequestID()] = &Chain{
		RequestID: s.RequestID(),
		Links: []Link{{
			SessionID:    s.ID(),
			ControllerID: s.Controller().ID,
			Origin:       s.Controller().Origin,
			URL:          s.URL(),
			Reason:       ReasonInitial,
		}},
	}
}

// Chain returns a copy of the chain of a request.
func (c *Coordinator) Chain(requestID string) (Chain, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	chain, ok := c.chains[requestID]
	if !ok {
		return Chain{}, false
	}

	out := Chain{RequestID: chain.RequestID}
	out.Links = append(out.Links, chain.Links...)

	return out, true
}

// Forget drops the chain of a request that has finished.
func (c *Coordinator) Forget(requestID string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.chains, requestID)
}

// Decide computes the decision for a hop without touching any session.
func (c *Coordinator) Decide(current *session.Session, hop Hop) Decision {
	d := Decision{Hop: hop}

	if hop.NextController.IsZero() {
		d.Action = ActionReset
		d.Reason = ReasonNotIntercepted

		return d
	}

	from, err := ParseOrigin(current.Controller().Origin)
	if err != nil {
		return ambiguous(d, err)
	}

	to, err := ParseOrigin(hop.NextController.Origin)
	if err != nil {
		return ambiguous(d, err)
	}

	d.FromOrigin = from.String()
	d.ToOrigin = to.String()
	sameOrigin := from.SameOrigin(to)
	sameController := sameOrigin && current.Controller().ID == hop.NextController.ID

	if hop.Kind == session.KindNavigation && c.policy == PolicyDiscardAlways {
		d.Action = ActionReset
		d.Reason = ReasonPolicy

		return d
	}

	switch {
	case sameController:
		d.Action = ActionRetain
		d.Reason = ReasonSameController
	case sameOrigin:
		d.Action = ActionCarry
		d.Reason = ReasonSameOrigin
	default:
		d.Action = ActionReset
		d.Reason = ReasonCrossOrigin
	}

	return d
}

func ambiguous(d Decision, err error) Decision {
	d.Action = ActionReset
	d.Reason = ReasonOriginAmbiguous
	d.Err = fmt.Errorf("redirect of request %s: %w", d.Hop.RequestID, err)

	return d
}

// Redirect decides the hop and applies the decision. The returned session is
// the one instrumenting the next hop: current itself for ActionRetain, a new
// session from newSession otherwise, or nil if the next hop is not
// intercepted.
//
// newSession is called before the current session is discarded, so the
// factory can rebind the request to the new session first.
func (c *Coordinator) Redirect(
	current *session.Session,
	hop Hop,
	newSession SessionFactory,
) (*session.Session, Decision) {
	d := c.Decide(current, hop)

	if d.Action == ActionRetain && !current.Rearm() {
		d.Action = ActionCarry
		d.Reason = ReasonAlreadySealed
		if current.State() == session.StateDiscarded {
			d.Reason = ReasonAlreadyDiscarded
		}
	}

	next := current
	switch d.Action {
	case ActionCarry:
		carried := current.Entries()
		next = newSession(hop.NextController, hop.ToURL)
		next.Carry(carried)
		current.Discard(ReasonSuperseded)
	case ActionReset:
		next = nil
		if !hop.NextController.IsZero() {
			next = newSession(hop.NextController, hop.ToURL)
		}
		current.Discard(d.Reason)
	}

	c.recordLink(current, next, hop, d)

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    HookPosRedirectDecided,
		Item:   d,
		Detail: next,
	})

	return next, d
}

func (c *Coordinator) recordLink(
	current, next *session.Session,
	hop Hop,
	d Decision,
) {
	c.lock.Lock()
	defer c.lock.Unlock()

	chain, ok := c.chains[current.RequestID()]
	if !ok {
		chain = &Chain{RequestID: current.RequestID()}
		c.chains[current.RequestID()] = chain
	}

	link := Link{
		ControllerID: hop.NextController.ID,
		Origin:       hop.NextController.Origin,
		URL:          hop.ToURL,
		Action:       d.Action.String(),
		Reason:       d.Reason,
	}
	if next != nil {
		link.SessionID = next.ID()
	}

	chain.Links = append(chain.Links, link)
}
