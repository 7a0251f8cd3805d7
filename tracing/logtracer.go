package tracing

import (
	"log"

	"github.com/sarchlab/workertiming/binder"
	"github.com/sarchlab/workertiming/hooking"
	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/timing"
)

// LogTracer is a hook that prints session lifecycles, redirect decisions and
// publications. It can be attached to sessions' hookable domain, to the
// redirect coordinator and to the binder.
type LogTracer struct {
	*log.Logger

	timeTeller timing.TimeTeller
}

// NewLogTracer creates a LogTracer that writes into logger.
func NewLogTracer(logger *log.Logger, timeTeller timing.TimeTeller) *LogTracer {
	return &LogTracer{
		Logger:     logger,
		timeTeller: timeTeller,
	}
}

// Func prints the hook.
func (h *LogTracer) Func(ctx hooking.HookCtx) {
	now := h.timeTeller.CurrentTime()

	switch item := ctx.Item.(type) {
	case session.LifecycleEvent:
		h.logSession(now, ctx.Pos, item)
	case redirect.Decision:
		h.Printf("%.3f ms, redirect %s -> %s, %s (%s)",
			now, item.Hop.RequestID, item.Hop.ToURL, item.Action, item.Reason)
	case binder.BindingEvent:
		h.logBinding(now, ctx.Pos, item)
	}
}

func (h *LogTracer) logSession(
	now timing.VTimeInMs,
	pos *hooking.HookPos,
	evt session.LifecycleEvent,
) {
	s := evt.Session

	switch pos {
	case session.HookPosSessionOpen:
		h.Printf("%.3f ms, session %s open, request %s, %s %s",
			now, s.ID(), s.RequestID(), s.Kind(), s.URL())
	case session.HookPosInvalidEntry:
		h.Printf("%.3f ms, session %s dropped invalid entry: %v",
			now, s.ID(), evt.Err)
	case session.HookPosDecided:
		h.Printf("%.3f ms, session %s decided %s",
			now, s.ID(), evt.Disposition)
	case session.HookPosSealed:
		h.Printf("%.3f ms, session %s sealed with %d entries",
			now, s.ID(), s.Len())
	case session.HookPosDiscarded:
		h.Printf("%.3f ms, session %s discarded, %s",
			now, s.ID(), evt.Reason)
	}
}

func (h *LogTracer) logBinding(
	now timing.VTimeInMs,
	pos *hooking.HookPos,
	evt binder.BindingEvent,
) {
	switch pos {
	case binder.HookPosPublished:
		h.Printf("%.3f ms, request %s published with %d worker timings",
			now, evt.RequestID, evt.Entry.NumWorkerTimings())
	case binder.HookPosDropped:
		h.Printf("%.3f ms, request %s dropped, %s",
			now, evt.RequestID, evt.Reason)
	}
}
