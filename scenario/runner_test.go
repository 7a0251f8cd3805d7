package scenario

import (
	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/workertiming/interception"
	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/simulation"
	"github.com/sarchlab/workertiming/timing"
)

var _ = ginkgo.Describe("Runner", func() {
	var (
		s   *Scenario
		sim *simulation.Simulation
	)

	ginkgo.BeforeEach(func() {
		var err error
		s, err = Load("testdata/cache_first.yaml")
		Expect(err).NotTo(HaveOccurred())
	})

	ginkgo.AfterEach(func() {
		sim.Terminate()
	})

	ginkgo.It("should replay the scenario", func() {
		sim = simulation.MakeBuilder().Build()

		report, err := NewRunner(sim, s).Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Scenario).To(Equal("cache-first"))
		Expect(report.Entries).To(HaveLen(2))

		r1 := report.Entries[0]
		Expect(r1.RequestID()).To(Equal("r1"))
		Expect(r1.WorkerTimingNames()).To(Equal(
			[]string{"cacheLookupStart", "cacheLookup"}))
		Expect(*r1.WorkerTiming()[1].Duration).To(Equal(timing.VTimeInMs(2)))

		r2 := report.Entries[1]
		Expect(r2.RequestID()).To(Equal("r2"))
		Expect(r2.WorkerTimingNames()).To(Equal([]string{"loginStart"}))

		Expect(report.Decisions).To(HaveLen(1))
		Expect(report.Decisions[0].Action).To(Equal(redirect.ActionReset))
		Expect(report.Decisions[0].Reason).To(Equal(redirect.ReasonCrossOrigin))

		Expect(report.Failures).To(HaveLen(2))
		Expect(report.Failures[0].Action).To(Equal("dispatch"))
		Expect(report.Failures[0].Err).To(MatchError(interception.ErrNotIntercepted))
		Expect(report.Failures[1].Action).To(Equal("complete"))
		Expect(report.Failures[1].Err).To(MatchError(interception.ErrUnknownRequest))
	})

	ginkgo.It("should count the discarded sessions", func() {
		sim = simulation.MakeBuilder().Build()

		_, err := NewRunner(sim, s).Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(sim.AverageTimeTracer().DiscardedCount()).To(Equal(uint64(2)))
		Expect(sim.Dispatcher().NumInFlight()).To(Equal(0))
	})

	ginkgo.It("should retain the session on a same-controller redirect", func() {
		s.Requests[1].Redirects[0] = Redirect{
			To:         "https://app.example/account/",
			At:         3,
			Controller: "app",
		}
		sim = simulation.MakeBuilder().Build()

		report, err := NewRunner(sim, s).Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Decisions[0].Action).To(Equal(redirect.ActionRetain))
	})

	ginkgo.It("should track progress on the monitor", func() {
		sim = simulation.MakeBuilder().
			WithMonitorPort(0).
			WithoutMonitorServer().
			Build()

		runner := NewRunner(sim, s)
		_, err := runner.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(runner.ProgressBar()).NotTo(BeNil())
		Expect(runner.ProgressBar().Remaining()).To(BeZero())
	})

	ginkgo.It("should panic without a scenario", func() {
		sim = simulation.MakeBuilder().Build()

		Expect(func() { NewRunner(sim, nil) }).To(Panic())
	})
})
