package interception

// dispatchEvent delivers a fetch event to its controller's handler.
type dispatchEvent struct {
	fetch *FetchEvent
}

// continuationEvent resumes a handler after a suspension point.
type continuationEvent struct {
	fetch *FetchEvent
	fn    func(e *FetchEvent)
}

// timeoutEvent discards a session that is still open when it fires.
type timeoutEvent struct {
	fetch *FetchEvent
}
