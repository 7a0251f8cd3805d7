package simulation

import (
	"io"
	"log"
	"os"

	"github.com/rs/xid"

	"github.com/sarchlab/workertiming/binder"
	"github.com/sarchlab/workertiming/datarecording"
	"github.com/sarchlab/workertiming/idgen"
	"github.com/sarchlab/workertiming/interception"
	"github.com/sarchlab/workertiming/monitoring"
	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/timing"
	"github.com/sarchlab/workertiming/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	config      Config
	recording   bool
	logWriter   io.Writer
	engine      timing.Engine
	serveHTTP   bool
	idGenerator idgen.Generator
}

// MakeBuilder creates a new builder with the default configuration. Recording
// and monitoring are off.
func MakeBuilder() Builder {
	return Builder{
		config:    DefaultConfig(),
		logWriter: os.Stdout,
		serveHTTP: true,
	}
}

// WithConfig replaces every configuration value. A non-empty DBPath turns
// recording on.
func (b Builder) WithConfig(config Config) Builder {
	b.config = config
	b.recording = config.DBPath != ""

	return b
}

// WithRedirectPolicy sets how navigation redirects treat the buffered
// timing of the previous hop.
func (b Builder) WithRedirectPolicy(policy redirect.Policy) Builder {
	b.config.RedirectPolicy = policy
	return b
}

// WithSessionTimeout discards sessions that stay open for longer than the
// timeout. Zero disables the timeout.
func (b Builder) WithSessionTimeout(timeout timing.VTimeInMs) Builder {
	b.config.SessionTimeout = timeout
	return b
}

// WithOutputFileName turns recording on and sets the database to write to.
// An empty name generates one.
func (b Builder) WithOutputFileName(path string) Builder {
	b.config.DBPath = path
	b.recording = true

	return b
}

// WithoutRecording turns recording off.
func (b Builder) WithoutRecording() Builder {
	b.config.DBPath = ""
	b.recording = false

	return b
}

// WithMonitorPort turns the monitor on and sets the port it listens on. Zero
// picks a free port.
func (b Builder) WithMonitorPort(port int) Builder {
	b.config.Monitor = true
	b.config.MonitorPort = port

	return b
}

// WithoutMonitoring turns the monitor off.
func (b Builder) WithoutMonitoring() Builder {
	b.config.Monitor = false
	return b
}

// WithoutMonitorServer builds the monitor but does not start its HTTP server.
// The handler is still reachable through Monitor().Handler().
func (b Builder) WithoutMonitorServer() Builder {
	b.serveHTTP = false
	return b
}

// WithVerbose turns lifecycle logging on or off.
func (b Builder) WithVerbose(verbose bool) Builder {
	b.config.Verbose = verbose
	return b
}

// WithLogWriter sets where lifecycle logs go when logging is on.
func (b Builder) WithLogWriter(w io.Writer) Builder {
	b.logWriter = w
	return b
}

// WithEngine uses the given engine instead of a new serial engine.
func (b Builder) WithEngine(engine timing.Engine) Builder {
	b.engine = engine
	return b
}

// WithIDGenerator uses the given generator for request and session IDs.
func (b Builder) WithIDGenerator(g idgen.Generator) Builder {
	b.idGenerator = g
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.config.SessionTimeout < 0 {
		panic("session timeout must not be negative")
	}

	if b.config.MonitorPort < 0 || b.config.MonitorPort > 65535 {
		panic("monitor port out of range")
	}

	if b.config.Verbose && b.logWriter == nil {
		panic("verbose logging requires a log writer")
	}
}

// Build creates the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:     xid.New().String(),
		config: b.config,
	}

	s.engine = b.engine
	if s.engine == nil {
		s.engine = timing.NewSerialEngine()
	}

	gen := b.idGenerator
	if gen == nil {
		gen = idgen.NewSequential()
		if b.config.ParallelIDs {
			gen = idgen.NewParallel()
		}
	}

	timeline := resourcetiming.NewTimeline()
	bd := binder.New(timeline)
	coordinator := redirect.NewCoordinator(b.config.RedirectPolicy)

	s.dispatcher = interception.MakeBuilder().
		WithEngine(s.engine).
		WithIDGenerator(gen).
		WithBinder(bd).
		WithCoordinator(coordinator).
		WithSessionTimeout(b.config.SessionTimeout).
		Build()

	b.attachTracers(s)
	b.attachRecorder(s)
	b.attachLogger(s, bd, coordinator)
	b.attachMonitor(s)

	return s
}

func (b Builder) attachTracers(s *Simulation) {
	s.avgTracer = tracing.NewAverageTimeTracer(s.engine, tracing.AllTasks)
	s.stepTracer = tracing.NewStepCountTracer(tracing.AllTasks)

	tracing.CollectTrace(s.dispatcher, s.avgTracer)
	tracing.CollectTrace(s.dispatcher, s.stepTracer)
}

func (b Builder) attachRecorder(s *Simulation) {
	if !b.recording {
		return
	}

	s.dataRecorder = datarecording.New(b.config.DBPath)
	s.dbTracer = tracing.NewDBTracer(s.engine, s.dataRecorder)

	tracing.CollectTrace(s.dispatcher, s.dbTracer)
	s.dispatcher.Timeline().Observe(s.dbTracer)
}

func (b Builder) attachLogger(
	s *Simulation,
	bd *binder.Binder,
	coordinator *redirect.Coordinator,
) {
	if !b.config.Verbose {
		return
	}

	logger := log.New(b.logWriter, "", log.LstdFlags)
	s.logTracer = tracing.NewLogTracer(logger, s.engine)

	s.dispatcher.AcceptHook(s.logTracer)
	bd.AcceptHook(s.logTracer)
	coordinator.AcceptHook(s.logTracer)
}

func (b Builder) attachMonitor(s *Simulation) {
	if !b.config.Monitor {
		return
	}

	s.monitor = monitoring.NewMonitor().
		WithPortNumber(b.config.MonitorPort).
		WithOpenBrowser(b.config.OpenBrowser)
	s.monitor.RegisterEngine(s.engine)
	s.monitor.RegisterDispatcher(s.dispatcher)

	if b.serveHTTP {
		s.monitorURL = s.monitor.StartServer()
	}
}
