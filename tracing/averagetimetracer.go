package tracing

import (
	"sync"

	"github.com/sarchlab/workertiming/timing"
)

// AverageTimeTracer collects the average time sessions stay open. Sessions
// that end discarded are counted separately and do not contribute to the
// average.
type AverageTimeTracer struct {
	timeTeller     timing.TimeTeller
	filter         TaskFilter
	lock           sync.Mutex
	averageTime    timing.VTimeInMs
	inflightTasks  map[string]Task
	taskCount      uint64
	discardedCount uint64
}

// NewAverageTimeTracer creates a new AverageTimeTracer
func NewAverageTimeTracer(
	timeTeller timing.TimeTeller,
	filter TaskFilter,
) *AverageTimeTracer {
	return &AverageTimeTracer{
		timeTeller:    timeTeller,
		filter:        filter,
		inflightTasks: make(map[string]Task),
	}
}

// AverageTime returns the average open time of sealed sessions.
func (t *AverageTimeTracer) AverageTime() timing.VTimeInMs {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.averageTime
}

// TotalCount returns the number of sealed sessions.
func (t *AverageTimeTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.taskCount
}

// DiscardedCount returns the number of discarded sessions.
func (t *AverageTimeTracer) DiscardedCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.discardedCount
}

// NumInflight returns the number of sessions still open.
func (t *AverageTimeTracer) NumInflight() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.inflightTasks)
}

// StartTask records the task start time
func (t *AverageTimeTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask does nothing
func (t *AverageTimeTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the end of the task
func (t *AverageTimeTracer) EndTask(task Task) {
	task.EndTime = t.timeTeller.CurrentTime()

	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	delete(t.inflightTasks, task.ID)

	if task.Outcome == OutcomeDiscarded {
		t.discardedCount++
		return
	}

	taskTime := task.EndTime - originalTask.StartTime
	t.averageTime = timing.VTimeInMs(
		(float64(t.averageTime)*float64(t.taskCount) + float64(taskTime)) /
			float64(t.taskCount+1))
	t.taskCount++
}
