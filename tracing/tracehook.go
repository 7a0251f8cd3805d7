package tracing

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/workertiming/hooking"
	"github.com/sarchlab/workertiming/session"
)

// TaskKindSession is the kind of every task created from session hooks.
const TaskKindSession = "session"

// CollectTrace lets the tracer collect the session traces raised on a domain.
func CollectTrace(domain hooking.Hookable, tracer Tracer) {
	for _, hook := range domain.Hooks() {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf("domain already has tracer %s",
				reflect.TypeOf(tracer)))
		}
	}

	domain.AcceptHook(&traceHook{t: tracer})
}

// A traceHook translates session lifecycle hooks into tracer calls.
type traceHook struct {
	t Tracer
}

// Func calls the tracer interfaces when the hook is triggered
func (h *traceHook) Func(ctx hooking.HookCtx) {
	evt, ok := ctx.Item.(session.LifecycleEvent)
	if !ok || evt.Session == nil {
		return
	}

	s := evt.Session
	task := Task{ID: s.ID()}

	switch ctx.Pos {
	case session.HookPosSessionOpen:
		task.ParentID = s.RequestID()
		task.Kind = TaskKindSession
		task.What = s.Kind().String()
		task.Location = s.Controller().ID
		task.Detail = s
		h.t.StartTask(task)
	case session.HookPosSealed:
		task.Outcome = OutcomeSealed
		h.t.EndTask(task)
	case session.HookPosDiscarded:
		task.Outcome = OutcomeDiscarded
		task.Reason = evt.Reason
		h.t.EndTask(task)
	default:
		step, ok := stepOf(ctx.Pos, evt)
		if !ok {
			return
		}

		task.Steps = []TaskStep{step}
		h.t.StepTask(task)
	}
}

func stepOf(pos *hooking.HookPos, evt session.LifecycleEvent) (TaskStep, bool) {
	switch pos {
	case session.HookPosEntryAppended:
		return TaskStep{Kind: StepKindAppend, What: evt.Record.Name}, true
	case session.HookPosInvalidEntry:
		return TaskStep{
			Kind:   StepKindInvalid,
			What:   StepKindInvalid,
			Detail: evt.Err.Error(),
		}, true
	case session.HookPosExtensionRegistered:
		return TaskStep{
			Kind:   StepKindExtend,
			What:   StepKindExtend,
			Detail: evt.Handle.Label(),
		}, true
	case session.HookPosExtensionSettled:
		return TaskStep{
			Kind:   StepKindSettle,
			What:   StepKindSettle,
			Detail: evt.Handle.Label(),
		}, true
	case session.HookPosDecided:
		return TaskStep{
			Kind:   StepKindDecide,
			What:   StepKindDecide,
			Detail: evt.Disposition.String(),
		}, true
	case session.HookPosLateCall:
		return TaskStep{
			Kind:   StepKindLateCall,
			What:   StepKindLateCall,
			Detail: evt.Op,
		}, true
	}

	return TaskStep{}, false
}
