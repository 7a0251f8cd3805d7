package tracing

import (
	"sync"
)

// StepCountTracer counts the steps sessions take. Steps are counted by What,
// so append steps are counted per record name, and by Kind. It also counts how
// many sessions took a step at least once.
type StepCountTracer struct {
	filter TaskFilter

	lock      sync.Mutex
	seen      map[string]map[string]struct{}
	names     []string
	byName    map[string]uint64
	byKind    map[string]uint64
	sessionsW map[string]uint64
}

// NewStepCountTracer creates a new StepCountTracer
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	return &StepCountTracer{
		filter:    filter,
		seen:      make(map[string]map[string]struct{}),
		byName:    make(map[string]uint64),
		byKind:    make(map[string]uint64),
		sessionsW: make(map[string]uint64),
	}
}

// GetStepNames returns the step names in the order they were first seen.
func (t *StepCountTracer) GetStepNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.names...)
}

// GetStepCount returns how many times a step with the name was taken.
func (t *StepCountTracer) GetStepCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.byName[stepName]
}

// GetTaskCount returns how many sessions took a step with the name.
func (t *StepCountTracer) GetTaskCount(stepName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.sessionsW[stepName]
}

// GetKindCount returns how many steps of a kind were taken, for example
// StepKindLateCall.
func (t *StepCountTracer) GetKindCount(kind string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.byKind[kind]
}

// StartTask starts counting the steps of a session.
func (t *StepCountTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.seen[task.ID] = make(map[string]struct{})
	t.lock.Unlock()
}

// StepTask counts the step carried by the task.
func (t *StepCountTracer) StepTask(task Task) {
	if len(task.Steps) == 0 {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	seen, ok := t.seen[task.ID]
	if !ok {
		return
	}

	step := task.Steps[0]
	if _, known := t.byName[step.What]; !known {
		t.names = append(t.names, step.What)
	}

	t.byName[step.What]++
	t.byKind[step.Kind]++

	if _, ok := seen[step.What]; !ok {
		seen[step.What] = struct{}{}
		t.sessionsW[step.What]++
	}
}

// EndTask stops counting the steps of a session.
func (t *StepCountTracer) EndTask(task Task) {
	t.lock.Lock()
	delete(t.seen, task.ID)
	t.lock.Unlock()
}
