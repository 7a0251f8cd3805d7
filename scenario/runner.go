package scenario

import (
	"fmt"

	"github.com/sarchlab/workertiming/monitoring"
	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/simulation"
	"github.com/sarchlab/workertiming/timing"
)

type actionKind int

const (
	actionDispatch actionKind = iota
	actionRedirect
	actionComplete
	actionAbort
)

func (k actionKind) String() string {
	switch k {
	case actionDispatch:
		return "dispatch"
	case actionRedirect:
		return "redirect"
	case actionComplete:
		return "complete"
	case actionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// actionEvent performs one scripted network action.
type actionEvent struct {
	kind     actionKind
	request  int
	redirect int
}

// An ActionError is a scripted action that the dispatcher rejected.
type ActionError struct {
	Time      timing.VTimeInMs `json:"time"`
	RequestID string           `json:"request_id"`
	Action    string           `json:"action"`
	Err       error            `json:"-"`
	Message   string           `json:"message"`
}

func (e ActionError) Error() string {
	return fmt.Sprintf("%.3f ms, %s %s: %v", e.Time, e.Action, e.RequestID, e.Err)
}

func (e ActionError) Unwrap() error {
	return e.Err
}

// A Report is the outcome of a scenario run.
type Report struct {
	Scenario  string                  `json:"scenario"`
	Entries   []*resourcetiming.Entry `json:"entries"`
	Decisions []redirect.Decision     `json:"-"`
	Failures  []ActionError           `json:"failures,omitempty"`
	EndTime   timing.VTimeInMs        `json:"end_time"`
}

// A Runner plays a scenario through a simulation.
type Runner struct {
	sim      *simulation.Simulation
	scenario *Scenario
	report   *Report
	bar      *monitoring.ProgressBar
}

// NewRunner creates a runner. The simulation should not have run yet.
func NewRunner(
	sim *simulation.Simulation,
	scenario *Scenario,
) *Runner {
	if sim == nil || scenario == nil {
		panic("runner needs a simulation and a scenario")
	}

	return &Runner{
		sim:      sim,
		scenario: scenario,
	}
}

// Run registers the controllers, schedules every action and runs the engine
// until no event is left.
func (r *Runner) Run() (*Report, error) {
	r.report = &Report{Scenario: r.scenario.Name}

	d := r.sim.Dispatcher()
	for _, c := range r.scenario.Controllers {
		d.RegisterController(
			session.Controller{ID: c.ID, Origin: c.Origin},
			c.Handler(),
		)
	}

	n := r.scheduleActions()

	if m := r.sim.Monitor(); m != nil {
		r.bar = m.CreateProgressBar(r.scenario.Name, uint64(n))
		defer m.CompleteProgressBar(r.bar)
	}

	if err := r.sim.Run(); err != nil {
		return nil, err
	}

	r.report.Entries = r.sim.Timeline().Entries()
	r.report.EndTime = r.sim.Engine().CurrentTime()

	return r.report, nil
}

// ProgressBar returns the bar of the last run, or nil if the simulation has
// no monitor.
func (r *Runner) ProgressBar() *monitoring.ProgressBar {
	return r.bar
}

func (r *Runner) scheduleActions() int {
	engine := r.sim.Engine()
	n := 0

	schedule := func(at float64, evt *actionEvent) {
		engine.Schedule(timing.ScheduledEvent{
			Event:   evt,
			Time:    timing.VTimeInMs(at),
			Handler: r,
		})
		n++
	}

	for i, req := range r.scenario.Requests {
		schedule(req.At, &actionEvent{kind: actionDispatch, request: i})

		for j, rd := range req.Redirects {
			schedule(req.At+rd.At, &actionEvent{
				kind:     actionRedirect,
				request:  i,
				redirect: j,
			})
		}

		if req.CompleteAt > 0 {
			schedule(req.At+req.CompleteAt,
				&actionEvent{kind: actionComplete, request: i})
		}

		if req.AbortAt > 0 {
			schedule(req.At+req.AbortAt,
				&actionEvent{kind: actionAbort, request: i})
		}
	}

	return n
}

// Handle performs a scripted action.
func (r *Runner) Handle(evt any) error {
	action, ok := evt.(*actionEvent)
	if !ok {
		return fmt.Errorf("scenario: cannot handle event of type %T", evt)
	}

	req := r.scenario.Requests[action.request]

	var err error
	switch action.kind {
	case actionDispatch:
		err = r.dispatch(req)
	case actionRedirect:
		err = r.redirect(req, req.Redirects[action.redirect])
	case actionComplete:
		err = r.sim.Dispatcher().Complete(req.ID, resourcetiming.Base{
			StartTime:   timing.VTimeInMs(req.At),
			ResponseEnd: r.sim.Engine().CurrentTime(),
		})
	case actionAbort:
		err = r.sim.Dispatcher().Abort(req.ID)
	}

	if r.bar != nil {
		r.bar.Record(err != nil)
	}

	if err != nil {
		r.report.Failures = append(r.report.Failures, ActionError{
			Time:      r.sim.Engine().CurrentTime(),
			RequestID: req.ID,
			Action:    action.kind.String(),
			Err:       err,
			Message:   err.Error(),
		})
	}

	return nil
}

func (r *Runner) dispatch(req Request) error {
	kind, err := ParseKind(req.Kind)
	if err != nil {
		return err
	}

	_, err = r.sim.Dispatcher().Dispatch(session.Request{
		ID:         req.ID,
		URL:        req.URL,
		Origin:     req.Origin,
		Kind:       kind,
		Controller: r.controllerOf(req.Controller),
	})

	return err
}

func (r *Runner) redirect(req Request, rd Redirect) error {
	decision, err := r.sim.Dispatcher().Redirect(
		req.ID, rd.To, r.controllerOf(rd.Controller))
	if err != nil {
		return err
	}

	r.report.Decisions = append(r.report.Decisions, decision)

	return nil
}

func (r *Runner) controllerOf(id string) session.Controller {
	c, ok := r.scenario.controller(id)
	if !ok {
		return session.Controller{}
	}

	return session.Controller{ID: c.ID, Origin: c.Origin}
}
