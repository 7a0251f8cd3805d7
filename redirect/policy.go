package redirect

import (
	"fmt"
	"strings"
)

// Policy selects how navigation redirects treat instrumentation accumulated
// before the redirect. It is the only switch for this behavior.
type Policy int

// The policies. PolicyOriginSensitive discards the buffer only when the
// redirect target is controlled by a different origin. PolicyDiscardAlways
// discards it on every navigation redirect.
const (
	PolicyOriginSensitive Policy = iota
	PolicyDiscardAlways
)

func (p Policy) String() string {
	switch p {
	case PolicyOriginSensitive:
		return "origin-sensitive"
	case PolicyDiscardAlways:
		return "discard-always"
	default:
		return "unknown"
	}
}

// ParsePolicy parses the String form of a Policy. An empty string selects
// PolicyOriginSensitive.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "origin-sensitive":
		return PolicyOriginSensitive, nil
	case "discard-always":
		return PolicyDiscardAlways, nil
	default:
		return PolicyOriginSensitive, fmt.Errorf("unknown redirect policy %q", s)
	}
}
