package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StepCountTracer", func() {
	var tracer *StepCountTracer

	step := func(id, what string) Task {
		return Task{ID: id, Steps: []TaskStep{{Kind: StepKindAppend, What: what}}}
	}

	BeforeEach(func() {
		tracer = NewStepCountTracer(AllTasks)
	})

	It("should count steps and the tasks that have them", func() {
		tracer.StartTask(Task{ID: "1"})
		tracer.StartTask(Task{ID: "2"})

		tracer.StepTask(step("1", "cacheLookup"))
		tracer.StepTask(step("1", "cacheLookup"))
		tracer.StepTask(step("2", "cacheLookup"))
		tracer.StepTask(step("2", "network"))

		Expect(tracer.GetStepNames()).To(Equal([]string{"cacheLookup", "network"}))
		Expect(tracer.GetStepCount("cacheLookup")).To(Equal(uint64(3)))
		Expect(tracer.GetTaskCount("cacheLookup")).To(Equal(uint64(2)))
		Expect(tracer.GetTaskCount("network")).To(Equal(uint64(1)))
		Expect(tracer.GetKindCount(StepKindAppend)).To(Equal(uint64(4)))
	})

	It("should count steps by kind", func() {
		tracer.StartTask(Task{ID: "1"})

		tracer.StepTask(Task{ID: "1", Steps: []TaskStep{
			{Kind: StepKindLateCall, What: StepKindLateCall},
		}})
		tracer.StepTask(Task{ID: "1", Steps: []TaskStep{
			{Kind: StepKindDecide, What: StepKindDecide},
		}})

		Expect(tracer.GetKindCount(StepKindLateCall)).To(Equal(uint64(1)))
		Expect(tracer.GetKindCount(StepKindDecide)).To(Equal(uint64(1)))
		Expect(tracer.GetKindCount(StepKindAppend)).To(BeZero())
	})

	It("should skip filtered sessions", func() {
		tracer = NewStepCountTracer(func(task Task) bool {
			return task.ID != "hidden"
		})

		tracer.StartTask(Task{ID: "hidden"})
		tracer.StepTask(step("hidden", "cacheLookup"))

		Expect(tracer.GetStepNames()).To(BeEmpty())
	})

	It("should ignore steps of ended tasks", func() {
		tracer.StartTask(Task{ID: "1"})
		tracer.EndTask(Task{ID: "1"})
		tracer.StepTask(step("1", "late"))

		Expect(tracer.GetStepCount("late")).To(BeZero())
	})
})
