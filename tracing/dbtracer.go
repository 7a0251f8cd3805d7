package tracing

import (
	"sync"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/workertiming/datarecording"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/timing"
)

// Table names written by the DBTracer.
const (
	TableSessions       = "worker_sessions"
	TableSteps          = "worker_steps"
	TableResourceTiming = "resource_timing"
	TableWorkerTiming   = "worker_timing"
)

// SessionRow is a row of TableSessions.
type SessionRow struct {
	ID         string
	RequestID  string
	Kind       string
	Controller string
	StartTime  float64
	EndTime    float64
	Outcome    string
	Reason     string
	NumSteps   int
}

// StepRow is a row of TableSteps.
type StepRow struct {
	SessionID string
	Seq       int
	Time      float64
	Kind      string
	What      string
	Detail    string
}

// ResourceTimingRow is a row of TableResourceTiming.
type ResourceTimingRow struct {
	RequestID        string
	SessionID        string
	Name             string
	StartTime        float64
	ResponseEnd      float64
	Duration         float64
	NumWorkerTimings int
}

// WorkerTimingRow is a row of TableWorkerTiming.
type WorkerTimingRow struct {
	RequestID   string
	SessionID   string
	Seq         int
	Name        string
	EntryType   string
	StartTime   float64
	Duration    float64
	HasDuration bool
}

// DBTracer stores session traces and published records into a database.
// It is both a Tracer, fed by CollectTrace, and a resourcetiming.Observer.
type DBTracer struct {
	lock       sync.Mutex
	timeTeller timing.TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime timing.VTimeInMs

	tracingTasks map[string]*Task
}

// NewDBTracer creates a new DBTracer and the tables it writes.
func NewDBTracer(
	timeTeller timing.TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TableSessions, SessionRow{})
	dataRecorder.CreateTable(TableSteps, StepRow{})
	dataRecorder.CreateTable(TableResourceTiming, ResourceTimingRow{})
	dataRecorder.CreateTable(TableWorkerTiming, WorkerTimingRow{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]*Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// SetTimeRange limits the sessions recorded to those alive within the range.
// A zero end time means no upper limit.
func (t *DBTracer) SetTimeRange(startTime, endTime timing.VTimeInMs) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a session.
func (t *DBTracer) StartTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	task.StartTime = t.timeTeller.CurrentTime()
	if t.endTime > 0 && task.StartTime > t.endTime {
		return
	}

	t.tracingTasks[task.ID] = &task
}

// StepTask records a step of a session.
func (t *DBTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	step := task.Steps[0]
	step.Time = t.timeTeller.CurrentTime()
	originalTask.Steps = append(originalTask.Steps, step)
}

// EndTask writes a session and its steps.
func (t *DBTracer) EndTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	endTime := t.timeTeller.CurrentTime()
	if t.startTime > 0 && endTime < t.startTime {
		return
	}

	originalTask.EndTime = endTime
	originalTask.Outcome = task.Outcome
	originalTask.Reason = task.Reason

	t.writeTask(originalTask)
}

func (t *DBTracer) writeTask(task *Task) {
	t.backend.InsertData(TableSessions, SessionRow{
		ID:         task.ID,
		RequestID:  task.ParentID,
		Kind:       task.What,
		Controller: task.Location,
		StartTime:  float64(task.StartTime),
		EndTime:    float64(task.EndTime),
		Outcome:    task.Outcome,
		Reason:     task.Reason,
		NumSteps:   len(task.Steps),
	})

	for i, step := range task.Steps {
		t.backend.InsertData(TableSteps, StepRow{
			SessionID: task.ID,
			Seq:       i,
			Time:      float64(step.Time),
			Kind:      step.Kind,
			What:      step.What,
			Detail:    step.Detail,
		})
	}
}

// EntryPublished writes a published record and its worker timing.
func (t *DBTracer) EntryPublished(e *resourcetiming.Entry) {
	records := e.WorkerTiming()

	t.lock.Lock()
	defer t.lock.Unlock()

	t.backend.InsertData(TableResourceTiming, ResourceTimingRow{
		RequestID:        e.RequestID(),
		SessionID:        e.SessionID(),
		Name:             e.Name,
		StartTime:        float64(e.StartTime),
		ResponseEnd:      float64(e.ResponseEnd),
		Duration:         float64(e.Duration()),
		NumWorkerTimings: len(records),
	})

	for i, r := range records {
		row := WorkerTimingRow{
			RequestID: e.RequestID(),
			SessionID: e.SessionID(),
			Seq:       i,
			Name:      r.Name,
			EntryType: r.EntryType,
			StartTime: float64(r.StartTime),
		}

		if r.Duration != nil {
			row.Duration = float64(*r.Duration)
			row.HasDuration = true
		}

		t.backend.InsertData(TableWorkerTiming, row)
	}
}

// NumTracing returns the number of sessions traced but not yet ended.
func (t *DBTracer) NumTracing() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.tracingTasks)
}

// Terminate writes the sessions still open, marked as such, and flushes the
// backend.
func (t *DBTracer) Terminate() {
	t.lock.Lock()
	defer t.lock.Unlock()

	now := t.timeTeller.CurrentTime()
	for _, task := range t.tracingTasks {
		task.EndTime = now
		task.Outcome = "open"
		t.writeTask(task)
	}

	t.tracingTasks = make(map[string]*Task)
	t.backend.Flush()
}

var _ resourcetiming.Observer = (*DBTracer)(nil)
