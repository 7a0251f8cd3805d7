package binder

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/workertiming/hooking"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/session"
)

var _ = Describe("Binder", func() {
	var (
		mockCtrl *gomock.Controller
		observer *MockObserver
		timeline *resourcetiming.Timeline
		b        *Binder
		nextID   int
	)

	newSession := func(requestID string) *session.Session {
		nextID++
		s := session.MakeBuilder().
			WithID(fmt.Sprintf("%s-s%d", requestID, nextID)).
			WithRequest(session.Request{ID: requestID, URL: "https://a.example/" + requestID}).
			WithLifecycleHandler(b).
			Build()
		Expect(b.Bind(s)).To(Succeed())

		return s
	}

	base := func(name string) resourcetiming.Base {
		return resourcetiming.Base{Name: name, StartTime: 0, ResponseEnd: 10}
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		observer = NewMockObserver(mockCtrl)
		timeline = resourcetiming.NewTimeline()
		timeline.Observe(observer)
		b = New(timeline)
		nextID = 0
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should publish the sealed entries in insertion order", func() {
		s := newSession("r1")
		s.Append(session.Mark("strategyLookupStart", 1))
		h1 := s.RegisterExtension("lookup")
		s.Append(session.Mark("strategyLookupEnd", 2))
		s.Decide(session.DispositionResponded)

		Expect(b.Complete("r1", base("u"))).To(BeTrue())
		Expect(timeline.Len()).To(Equal(0))

		var published *resourcetiming.Entry
		observer.EXPECT().EntryPublished(gomock.Any()).
			Do(func(e *resourcetiming.Entry) { published = e }).
			Times(1)

		h1.Settle(nil)

		Expect(published).NotTo(BeNil())
		Expect(published.WorkerTimingNames()).To(Equal(
			[]string{"strategyLookupStart", "strategyLookupEnd"}))
		Expect(published.SessionID()).To(Equal(s.ID()))
		Expect(b.NumPending()).To(Equal(0))
	})

	It("should publish an empty, present field for a decline without extensions", func() {
		s := newSession("r1")
		s.Decide(session.DispositionDeclined)
		Expect(s.State()).To(Equal(session.StateSealed))

		observer.EXPECT().EntryPublished(gomock.Any()).Times(1)
		b.Complete("r1", base("u"))

		e, ok := timeline.Entry("r1")
		Expect(ok).To(BeTrue())
		Expect(e.HasWorkerTiming()).To(BeTrue())
		Expect(e.WorkerTiming()).To(BeEmpty())
	})

	It("should hold the notification until the session seals", func() {
		held := 0
		b.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			if ctx.Pos == HookPosHeld {
				held++
			}
		}))

		s := newSession("r1")
		h := s.RegisterExtension("stream")
		s.Decide(session.DispositionResponded)
		b.Complete("r1", base("u"))

		Expect(held).To(Equal(1))
		_, ok := timeline.Entry("r1")
		Expect(ok).To(BeFalse())

		observer.EXPECT().EntryPublished(gomock.Any()).Times(1)
		h.Settle(nil)

		_, ok = timeline.Entry("r1")
		Expect(ok).To(BeTrue())
	})

	It("should not include appends issued after the seal", func() {
		s := newSession("r1")
		s.Append(session.Mark("in", 1))
		s.Decide(session.DispositionResponded)
		s.Append(session.Mark("out", 2))

		observer.EXPECT().EntryPublished(gomock.Any()).Times(1)
		b.Complete("r1", base("u"))
		s.Append(session.Mark("way-out", 3))

		e, _ := timeline.Entry("r1")
		Expect(e.WorkerTimingNames()).To(Equal([]string{"in"}))
	})

	It("should never publish a discarded session", func() {
		s := newSession("r1")
		s.Append(session.Mark("a", 1))

		Expect(s.Discard("aborted")).To(BeTrue())

		Expect(b.Complete("r1", base("u"))).To(BeFalse())
		Expect(timeline.Len()).To(Equal(0))
	})

	It("should keep independent requests to the same URL apart", func() {
		s1 := newSession("r1")
		s2 := newSession("r2")
		s1.Append(session.Mark("one", 1))
		s2.Append(session.Mark("two", 1))
		s1.Decide(session.DispositionResponded)
		s2.Decide(session.DispositionResponded)

		observer.EXPECT().EntryPublished(gomock.Any()).Times(2)
		b.Complete("r1", base("same"))
		b.Complete("r2", base("same"))

		entries := timeline.EntriesByName("same")
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].WorkerTimingNames()).To(Equal([]string{"one"}))
		Expect(entries[1].WorkerTimingNames()).To(Equal([]string{"two"}))
	})

	It("should ignore a superseded session", func() {
		old := newSession("r1")
		old.Append(session.Mark("old", 1))
		fresh := newSession("r1")

		old.Decide(session.DispositionResponded)
		Expect(old.State()).To(Equal(session.StateSealed))

		bound, _ := b.BoundSession("r1")
		Expect(bound).To(BeIdenticalTo(fresh))

		fresh.Append(session.Mark("fresh", 2))
		fresh.Decide(session.DispositionResponded)

		observer.EXPECT().EntryPublished(gomock.Any()).Times(1)
		b.Complete("r1", base("u"))

		e, _ := timeline.Entry("r1")
		Expect(e.WorkerTimingNames()).To(Equal([]string{"fresh"}))
	})

	It("should refuse to rebind after publication", func() {
		s := newSession("r1")
		s.Decide(session.DispositionDeclined)
		observer.EXPECT().EntryPublished(gomock.Any()).Times(1)
		b.Complete("r1", base("u"))

		late := session.MakeBuilder().
			WithID("late").
			WithRequest(session.Request{ID: "r1"}).
			Build()

		err := b.Bind(late)
		Expect(errors.Is(err, ErrAlreadyPublished)).To(BeTrue())
	})

	It("should drop on unbind", func() {
		newSession("r1")

		b.Unbind("r1", "aborted")

		Expect(b.IsBound("r1")).To(BeFalse())
		Expect(b.Complete("r1", base("u"))).To(BeFalse())
	})

	It("should panic without a timeline", func() {
		Expect(func() { New(nil) }).To(Panic())
	})
})
