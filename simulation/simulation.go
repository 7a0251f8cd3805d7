// Package simulation assembles the dispatcher, the binder, the redirect
// coordinator and the optional observability services into one runnable
// unit.
package simulation

import (
	"github.com/sarchlab/workertiming/datarecording"
	"github.com/sarchlab/workertiming/interception"
	"github.com/sarchlab/workertiming/monitoring"
	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/timing"
	"github.com/sarchlab/workertiming/tracing"
)

// A Simulation owns every service needed to replay fetches against
// controllers and collect their timing.
type Simulation struct {
	id     string
	config Config

	engine     timing.Engine
	dispatcher *interception.Dispatcher

	dataRecorder datarecording.DataRecorder
	dbTracer     *tracing.DBTracer
	avgTracer    *tracing.AverageTimeTracer
	stepTracer   *tracing.StepCountTracer
	logTracer    *tracing.LogTracer
	monitor      *monitoring.Monitor
	monitorURL   string

	terminated bool
}

// ID returns the identifier of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() Config {
	return s.config
}

// Engine returns the engine that runs the handlers.
func (s *Simulation) Engine() timing.Engine {
	return s.engine
}

// Dispatcher returns the dispatcher that intercepts requests.
func (s *Simulation) Dispatcher() *interception.Dispatcher {
	return s.dispatcher
}

// Timeline returns the timeline published entries land in.
func (s *Simulation) Timeline() *resourcetiming.Timeline {
	return s.dispatcher.Timeline()
}

// Coordinator returns the redirect coordinator.
func (s *Simulation) Coordinator() *redirect.Coordinator {
	return s.dispatcher.Coordinator()
}

// DataRecorder returns the recorder, or nil if recording is off.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// DBTracer returns the tracer that writes sessions to the database, or nil if
// recording is off.
func (s *Simulation) DBTracer() *tracing.DBTracer {
	return s.dbTracer
}

// AverageTimeTracer returns the tracer that measures how long sessions stay
// open.
func (s *Simulation) AverageTimeTracer() *tracing.AverageTimeTracer {
	return s.avgTracer
}

// StepCountTracer returns the tracer that counts session steps.
func (s *Simulation) StepCountTracer() *tracing.StepCountTracer {
	return s.stepTracer
}

// Monitor returns the monitor, or nil if monitoring is off.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns the address the monitor listens on. It is empty if
// monitoring is off.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// Run processes every scheduled event.
func (s *Simulation) Run() error {
	return s.engine.Run()
}

// Terminate writes out what is still buffered and releases the recorder.
// Calling it more than once has no effect.
func (s *Simulation) Terminate() {
	if s.terminated {
		return
	}

	s.terminated = true

	if s.dbTracer != nil {
		s.dbTracer.Terminate()
	}

	if s.dataRecorder != nil {
		err := s.dataRecorder.Close()
		dieOnErr(err)
	}
}

func dieOnErr(err error) {
	if err != nil {
		panic(err)
	}
}
