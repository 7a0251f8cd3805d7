package interception

// Response is what a handler produces for an intercepted request.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// A Handler handles the fetch events dispatched to one controller.
//
// HandleFetch runs synchronously on the engine. Whether the handler responds
// is decided by the time it returns: either it called RespondWith or
// RespondLater, or the request is declined. A non-nil error fails the
// request unless a response was already claimed.
type Handler interface {
	HandleFetch(e *FetchEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(e *FetchEvent) error

// HandleFetch calls f.
func (f HandlerFunc) HandleFetch(e *FetchEvent) error {
	return f(e)
}
