package tracing

import "github.com/sarchlab/workertiming/timing"

// Step kinds. An append step carries the record name as its What; the other
// steps carry their kind.
const (
	StepKindAppend   = "append"
	StepKindInvalid  = "invalid"
	StepKindExtend   = "extend"
	StepKindSettle   = "settle"
	StepKindDecide   = "decide"
	StepKindLateCall = "late"
)

// Task outcomes.
const (
	OutcomeSealed    = "sealed"
	OutcomeDiscarded = "discarded"
)

// A TaskStep represents a milestone in the life of a session.
type TaskStep struct {
	Time   timing.VTimeInMs `json:"time"`
	Kind   string           `json:"kind"`
	What   string           `json:"what"`
	Detail string           `json:"detail,omitempty"`
}

// A Task is the trace of one session, from open to seal or discard.
type Task struct {
	ID        string           `json:"id"`
	ParentID  string           `json:"parent_id"`
	Kind      string           `json:"kind"`
	What      string           `json:"what"`
	Location  string           `json:"location"`
	StartTime timing.VTimeInMs `json:"start_time"`
	EndTime   timing.VTimeInMs `json:"end_time"`
	Outcome   string           `json:"outcome,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Steps     []TaskStep       `json:"steps"`
	Detail    any              `json:"-"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// AllTasks accepts every task.
func AllTasks(Task) bool {
	return true
}
