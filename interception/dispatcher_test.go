package interception

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/workertiming/binder"
	"github.com/sarchlab/workertiming/hooking"
	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/timing"
)

var _ = Describe("Dispatcher", func() {
	var (
		engine    *timing.SerialEngine
		timeline  *resourcetiming.Timeline
		published []*resourcetiming.Entry
		d         *Dispatcher

		appA  = session.Controller{ID: "a", Origin: "https://app.example"}
		appB  = session.Controller{ID: "b", Origin: "https://app.example:443/sw"}
		other = session.Controller{ID: "c", Origin: "https://other.example"}
	)

	build := func(b Builder) {
		engine = timing.NewSerialEngine()
		timeline = resourcetiming.NewTimeline()
		published = nil
		timeline.Observe(resourcetiming.ObserverFunc(func(e *resourcetiming.Entry) {
			published = append(published, e)
		}))

		d = b.WithEngine(engine).WithBinder(binder.New(timeline)).Build()
	}

	run := func() {
		Expect(engine.Run()).To(Succeed())
	}

	request := func(id string, c session.Controller) session.Request {
		return session.Request{
			ID:         id,
			URL:        "https://app.example/data.json",
			Origin:     "https://app.example",
			Controller: c,
		}
	}

	complete := func(id string) {
		Expect(d.Complete(id, resourcetiming.Base{
			ResponseEnd: engine.CurrentTime(),
		})).To(Succeed())
	}

	entry := func(id string) *resourcetiming.Entry {
		e, ok := timeline.Entry(id)
		Expect(ok).To(BeTrue())

		return e
	}

	BeforeEach(func() {
		build(MakeBuilder())
	})

	It("should seal after the decision and the extension settle", func() {
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.Mark("strategyLookupStart", nil)
			h1 := e.WaitUntil("lookup")
			e.Mark("strategyLookupEnd", nil)
			e.RespondWith(Response{Status: 200})

			e.After(5, func(e *FetchEvent) {
				h1.Settle(nil)
			})

			return nil
		}))

		s, err := d.Dispatch(request("r1", appA))
		Expect(err).NotTo(HaveOccurred())

		complete("r1")
		Expect(published).To(BeEmpty())

		run()

		Expect(s.State()).To(Equal(session.StateSealed))
		Expect(s.Disposition()).To(Equal(session.DispositionResponded))
		Expect(published).To(HaveLen(1))
		Expect(published[0].WorkerTimingNames()).To(Equal(
			[]string{"strategyLookupStart", "strategyLookupEnd"}))
		Expect(d.NumInFlight()).To(Equal(0))
	})

	It("should decline a handler that returns without responding", func() {
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			return nil
		}))

		s, _ := d.Dispatch(request("r1", appA))
		run()

		Expect(s.State()).To(Equal(session.StateSealed))
		Expect(s.Disposition()).To(Equal(session.DispositionDeclined))

		complete("r1")

		e := entry("r1")
		Expect(e.HasWorkerTiming()).To(BeTrue())
		Expect(e.WorkerTiming()).To(BeEmpty())
	})

	It("should fail a handler that returns an error", func() {
		var failed error
		d.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			if ctx.Pos == HookPosHandlerFailed {
				failed = ctx.Item.(DispatchEvent).Err
			}
		}))
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.Mark("before-error", nil)
			return errors.New("boom")
		}))

		s, _ := d.Dispatch(request("r1", appA))
		run()

		Expect(failed).To(MatchError("boom"))
		Expect(s.Disposition()).To(Equal(session.DispositionFailed))
	})

	It("should drop entries appended after the seal", func() {
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.Mark("kept", nil)
			e.RespondWith(Response{Status: 200})
			e.After(1, func(e *FetchEvent) {
				e.Mark("late", nil)
				Expect(e.WaitUntil("late").IsInert()).To(BeTrue())
			})

			return nil
		}))

		d.Dispatch(request("r1", appA))
		run()
		complete("r1")

		Expect(entry("r1").WorkerTimingNames()).To(Equal([]string{"kept"}))
	})

	It("should time records from the fetch start", func() {
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			responder := e.RespondLater()
			e.After(3, func(e *FetchEvent) {
				e.Measure("fetch", 1, map[string]string{"cache": "miss"})
				responder.Respond(Response{Status: 200, Body: "ok"})
			})

			return nil
		}))

		d.Dispatch(request("r1", appA))
		run()
		complete("r1")

		records := entry("r1").WorkerTiming()
		Expect(records).To(HaveLen(1))
		Expect(records[0].StartTime).To(Equal(timing.VTimeInMs(1)))
		Expect(*records[0].Duration).To(Equal(timing.VTimeInMs(2)))
	})

	It("should only respond while dispatching", func() {
		var fetch *FetchEvent
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			fetch = e
			e.WaitUntil("keep")
			return nil
		}))

		d.Dispatch(request("r1", appA))
		run()

		Expect(fetch.RespondWith(Response{Status: 200})).To(BeFalse())
		Expect(fetch.RespondLater()).To(BeNil())
		_, ok := fetch.Response()
		Expect(ok).To(BeFalse())
	})

	It("should keep requests to the same URL apart", func() {
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.Mark(e.Request().ID, nil)
			e.RespondWith(Response{Status: 200})

			return nil
		}))

		d.Dispatch(request("r1", appA))
		d.Dispatch(request("r2", appA))
		run()
		complete("r1")
		complete("r2")

		Expect(entry("r1").WorkerTimingNames()).To(Equal([]string{"r1"}))
		Expect(entry("r2").WorkerTimingNames()).To(Equal([]string{"r2"}))
	})

	It("should generate request ids", func() {
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			return nil
		}))

		s, err := d.Dispatch(request("", appA))

		Expect(err).NotTo(HaveOccurred())
		Expect(s.RequestID()).NotTo(BeEmpty())
		Expect(s.ID()).NotTo(Equal(s.RequestID()))
	})

	It("should reject requests it cannot dispatch", func() {
		_, err := d.Dispatch(request("r1", appA))
		Expect(errors.Is(err, ErrNotIntercepted)).To(BeTrue())

		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.WaitUntil("keep")
			return nil
		}))
		_, err = d.Dispatch(request("r1", appA))
		Expect(err).NotTo(HaveOccurred())

		_, err = d.Dispatch(request("r1", appA))
		Expect(errors.Is(err, ErrDuplicateRequest)).To(BeTrue())

		Expect(errors.Is(d.Complete("nope", resourcetiming.Base{}),
			ErrUnknownRequest)).To(BeTrue())
		Expect(errors.Is(d.Abort("nope"), ErrUnknownRequest)).To(BeTrue())
		_, err = d.Redirect("nope", "https://x.example", appA)
		Expect(errors.Is(err, ErrUnknownRequest)).To(BeTrue())
	})

	Context("when redirected", func() {
		respondWithHop := func(e *FetchEvent) error {
			if e.Hop() == 0 {
				e.Mark("hop1", nil)
			} else {
				e.Mark("hop2", nil)
			}
			e.RespondWith(Response{Status: 302})

			return nil
		}

		It("should retain the session with the same controller", func() {
			var stream *session.ExtensionHandle
			d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
				if e.Hop() == 0 {
					stream = e.WaitUntil("stream")
				}

				return respondWithHop(e)
			}))

			s, _ := d.Dispatch(request("r1", appA))
			run()

			decision, err := d.Redirect("r1", "https://app.example/next", appA)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Action).To(Equal(redirect.ActionRetain))

			run()
			stream.Settle(nil)
			complete("r1")

			Expect(entry("r1").SessionID()).To(Equal(s.ID()))
			Expect(entry("r1").WorkerTimingNames()).To(Equal(
				[]string{"hop1", "hop2"}))
		})

		It("should measure every retained hop from the first fetch start", func() {
			var stream *session.ExtensionHandle
			d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
				if e.Hop() > 0 {
					e.Mark("hop2", nil)
					e.RespondWith(Response{Status: 200})

					return nil
				}

				stream = e.WaitUntil("stream")
				r := e.RespondLater()
				e.After(5, func(e *FetchEvent) {
					e.Mark("hop1", nil)
					r.Respond(Response{Status: 302})
				})

				return nil
			}))

			d.Dispatch(request("r1", appA))
			run()
			Expect(engine.CurrentTime()).To(Equal(timing.VTimeInMs(5)))

			decision, err := d.Redirect("r1", "https://app.example/next", appA)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Action).To(Equal(redirect.ActionRetain))

			run()
			stream.Settle(nil)
			complete("r1")

			records := entry("r1").WorkerTiming()
			Expect(records).To(HaveLen(2))
			Expect(records[0].StartTime).To(Equal(timing.VTimeInMs(5)))
			Expect(records[1].Name).To(Equal("hop2"))
			Expect(records[1].StartTime).To(Equal(timing.VTimeInMs(5)))
		})

		It("should reject a redirect before the handler decides", func() {
			d.RegisterController(appA, HandlerFunc(respondWithHop))

			s, _ := d.Dispatch(request("r1", appA))

			_, err := d.Redirect("r1", "https://app.example/next", appA)
			Expect(errors.Is(err, ErrUndecided)).To(BeTrue())

			run()
			complete("r1")

			Expect(entry("r1").SessionID()).To(Equal(s.ID()))
			Expect(entry("r1").WorkerTimingNames()).To(Equal([]string{"hop1"}))
		})

		It("should reject a redirect after the request completed", func() {
			var stream *session.ExtensionHandle
			d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
				stream = e.WaitUntil("stream")
				return respondWithHop(e)
			}))

			d.Dispatch(request("r1", appA))
			run()
			complete("r1")

			_, err := d.Redirect("r1", "https://app.example/next", appA)
			Expect(errors.Is(err, ErrCompleted)).To(BeTrue())

			stream.Settle(nil)

			Expect(published).To(HaveLen(1))
			Expect(entry("r1").WorkerTimingNames()).To(Equal([]string{"hop1"}))
		})

		It("should carry same-origin entries in hop order", func() {
			d.RegisterController(appA, HandlerFunc(respondWithHop))
			d.RegisterController(appB, HandlerFunc(respondWithHop))

			first, _ := d.Dispatch(request("r1", appA))
			run()

			decision, _ := d.Redirect("r1", "https://app.example/next", appB)
			Expect(decision.Action).To(Equal(redirect.ActionCarry))

			run()
			complete("r1")

			e := entry("r1")
			Expect(e.SessionID()).NotTo(Equal(first.ID()))
			Expect(e.WorkerTimingNames()).To(Equal([]string{"hop1", "hop2"}))
			Expect(published).To(HaveLen(1))
		})

		It("should discard entries across origins on navigation", func() {
			d.RegisterController(appA, HandlerFunc(respondWithHop))
			d.RegisterController(other, HandlerFunc(respondWithHop))

			req := request("r1", appA)
			req.Kind = session.KindNavigation
			d.Dispatch(req)
			run()

			decision, _ := d.Redirect("r1", "https://other.example/", other)
			Expect(decision.Action).To(Equal(redirect.ActionReset))
			Expect(decision.Reason).To(Equal(redirect.ReasonCrossOrigin))

			run()
			complete("r1")

			Expect(entry("r1").WorkerTimingNames()).To(Equal([]string{"hop2"}))
		})

		It("should discard everything when the next hop is not intercepted", func() {
			d.RegisterController(appA, HandlerFunc(respondWithHop))

			s, _ := d.Dispatch(request("r1", appA))
			run()

			decision, _ := d.Redirect("r1", "https://cdn.example/x", session.Controller{})
			Expect(decision.Reason).To(Equal(redirect.ReasonNotIntercepted))

			run()
			complete("r1")

			Expect(s.State()).To(Equal(session.StateSealed))
			Expect(timeline.Len()).To(Equal(0))
			Expect(d.NumInFlight()).To(Equal(0))
		})

		It("should discard same-origin navigation entries with discard-always", func() {
			build(MakeBuilder().WithCoordinator(
				redirect.NewCoordinator(redirect.PolicyDiscardAlways)))
			d.RegisterController(appA, HandlerFunc(respondWithHop))

			req := request("r1", appA)
			req.Kind = session.KindNavigation
			d.Dispatch(req)
			run()

			decision, _ := d.Redirect("r1", "https://app.example/next", appA)
			Expect(decision.Reason).To(Equal(redirect.ReasonPolicy))

			run()
			complete("r1")

			Expect(entry("r1").WorkerTimingNames()).To(Equal([]string{"hop2"}))
		})

		It("should fail closed when an origin cannot be parsed", func() {
			opaque := session.Controller{ID: "opaque", Origin: "data:text/plain,hi"}
			d.RegisterController(appA, HandlerFunc(respondWithHop))
			d.RegisterController(opaque, HandlerFunc(respondWithHop))

			d.Dispatch(request("r1", appA))
			run()

			decision, _ := d.Redirect("r1", "data:text/plain,hi", opaque)
			Expect(decision.Reason).To(Equal(redirect.ReasonOriginAmbiguous))
			Expect(errors.Is(decision.Err, redirect.ErrOriginAmbiguous)).To(BeTrue())

			run()
			complete("r1")

			Expect(entry("r1").WorkerTimingNames()).To(Equal([]string{"hop2"}))
		})
	})

	It("should publish nothing for an aborted request", func() {
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.Mark("a", nil)
			e.WaitUntil("keep")
			e.RespondWith(Response{Status: 200})

			return nil
		}))

		s, _ := d.Dispatch(request("r1", appA))
		run()

		Expect(d.Abort("r1")).To(Succeed())

		Expect(s.State()).To(Equal(session.StateDiscarded))
		Expect(s.DiscardReason()).To(Equal(ReasonAborted))
		Expect(published).To(BeEmpty())
		Expect(d.NumInFlight()).To(Equal(0))
	})

	It("should discard the sessions of a terminated controller", func() {
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.WaitUntil("keep")
			return nil
		}))

		s1, _ := d.Dispatch(request("r1", appA))
		s2, _ := d.Dispatch(request("r2", appA))
		run()

		Expect(d.OpenSessions()).To(HaveLen(2))
		Expect(d.TerminateController(appA.ID)).To(Equal(2))

		Expect(s1.DiscardReason()).To(Equal(ReasonControllerTerminated))
		Expect(s2.State()).To(Equal(session.StateDiscarded))
		Expect(d.OpenSessions()).To(BeEmpty())
		_, ok := d.Controller(appA.ID)
		Expect(ok).To(BeFalse())

		complete("r1")
		Expect(timeline.Len()).To(Equal(0))
	})

	It("should discard sessions still open at the timeout", func() {
		build(MakeBuilder().WithSessionTimeout(100))
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.WaitUntil("never")
			e.RespondWith(Response{Status: 200})

			return nil
		}))

		s, _ := d.Dispatch(request("r1", appA))
		run()

		Expect(engine.CurrentTime()).To(Equal(timing.VTimeInMs(100)))
		Expect(s.DiscardReason()).To(Equal(ReasonTimeout))
	})

	It("should not time out sealed sessions", func() {
		build(MakeBuilder().WithSessionTimeout(100))
		d.RegisterController(appA, HandlerFunc(func(e *FetchEvent) error {
			e.RespondWith(Response{Status: 200})
			return nil
		}))

		s, _ := d.Dispatch(request("r1", appA))
		run()

		Expect(s.State()).To(Equal(session.StateSealed))
	})

	It("should panic without a binder", func() {
		Expect(func() {
			MakeBuilder().WithEngine(timing.NewSerialEngine()).Build()
		}).To(Panic())
	})
})
