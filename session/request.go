package session

// RequestKind classifies an intercepted request. Redirect handling differs
// per kind.
type RequestKind int

// The request kinds.
const (
	KindSubresource RequestKind = iota
	KindNavigation
)

func (k RequestKind) String() string {
	switch k {
	case KindSubresource:
		return "subresource"
	case KindNavigation:
		return "navigation"
	default:
		return "unknown"
	}
}

// A Controller is the same-origin entity responsible for producing a response
// to a request, for example a registered worker.
type Controller struct {
	ID string `json:"id"`

	// Origin is the serialized origin (or any URL inside it) the controller
	// belongs to.
	Origin string `json:"origin"`
}

// IsZero tells if no controller is set.
func (c Controller) IsZero() bool {
	return c.ID == "" && c.Origin == ""
}

// Request identifies the network request a session instruments.
type Request struct {
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	Origin     string      `json:"origin"`
	Kind       RequestKind `json:"kind"`
	Controller Controller  `json:"controller"`
}

// Disposition is the final response determination of a handler.
type Disposition int

// The dispositions. DispositionNone means no decision has been made yet.
const (
	DispositionNone Disposition = iota
	DispositionResponded
	DispositionDeclined
	DispositionFailed
)

func (d Disposition) String() string {
	switch d {
	case DispositionNone:
		return "none"
	case DispositionResponded:
		return "responded"
	case DispositionDeclined:
		return "declined"
	case DispositionFailed:
		return "failed"
	default:
		return "unknown"
	}
}
