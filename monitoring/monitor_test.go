package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/workertiming/binder"
	"github.com/sarchlab/workertiming/interception"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/timing"
)

var _ = Describe("Monitor", func() {
	var (
		engine     *timing.SerialEngine
		dispatcher *interception.Dispatcher
		m          *Monitor
		router     http.Handler

		ctrl = session.Controller{ID: "sw", Origin: "https://app.example"}
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		return rec
	}

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
		dispatcher = interception.MakeBuilder().
			WithEngine(engine).
			WithBinder(binder.New(resourcetiming.NewTimeline())).
			Build()
		dispatcher.RegisterController(ctrl, interception.HandlerFunc(
			func(e *interception.FetchEvent) error {
				e.Mark("start", nil)
				if e.Request().ID == "open" {
					e.WaitUntil("forever")
				}

				return nil
			}))

		m = NewMonitor()
		m.RegisterEngine(engine)
		m.RegisterDispatcher(dispatcher)
		router = m.Handler()
	})

	It("should tell the engine time", func() {
		rec := get("/api/now")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal(`{"now":0.000000}`))
	})

	It("should pause and continue the engine", func() {
		get("/api/pause")
		Expect(engine.IsPaused()).To(BeTrue())

		get("/api/continue")
		Expect(engine.IsPaused()).To(BeFalse())
	})

	It("should list open sessions", func() {
		dispatcher.Dispatch(session.Request{ID: "open", Controller: ctrl})
		dispatcher.Dispatch(session.Request{ID: "done", Controller: ctrl})
		Expect(engine.Run()).To(Succeed())

		rec := get("/api/sessions")

		var rsp []sessionRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].RequestID).To(Equal("open"))
		Expect(rsp[0].State).To(Equal("open"))
		Expect(rsp[0].Disposition).To(Equal("declined"))
		Expect(rsp[0].Outstanding).To(Equal(1))
		Expect(rsp[0].NumEntries).To(Equal(1))
	})

	It("should serve session details", func() {
		dispatcher.Dispatch(session.Request{ID: "open", Controller: ctrl})

		Expect(get("/api/session/open").Code).To(Equal(http.StatusOK))
		Expect(get("/api/session/missing").Code).To(Equal(http.StatusNotFound))
	})

	It("should serve session details while the session changes", func() {
		s, err := dispatcher.Dispatch(session.Request{ID: "open", Controller: ctrl})
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.Run()).To(Succeed())

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 200; i++ {
				s.Append(session.Mark("tick", timing.VTimeInMs(i)))
			}
		}()

		field := url.PathEscape(`{"request_id":"open","field_name":"Entries"}`)
		for i := 0; i < 20; i++ {
			Expect(get("/api/session/open").Code).To(Equal(http.StatusOK))
			Expect(get("/api/field/" + field).Code).To(Equal(http.StatusOK))
		}

		<-done
		Expect(s.Len()).To(Equal(201))
	})

	It("should reject malformed field requests", func() {
		rec := get("/api/field/" + url.PathEscape("{not json"))

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should serve redirect chains", func() {
		dispatcher.Dispatch(session.Request{ID: "open", Controller: ctrl})

		rec := get("/api/chain/open")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"request_id":"open"`))

		Expect(get("/api/chain/missing").Code).To(Equal(http.StatusNotFound))
	})

	It("should serve published entries", func() {
		dispatcher.Dispatch(session.Request{
			ID:         "done",
			URL:        "https://app.example/a",
			Controller: ctrl,
		})
		Expect(engine.Run()).To(Succeed())
		Expect(dispatcher.Complete("done", resourcetiming.Base{})).To(Succeed())

		rec := get("/api/entries")
		Expect(rec.Body.String()).To(ContainSubstring(`"name":"start"`))

		rec = get("/api/entries?name=https://app.example/b")
		Expect(rec.Body.String()).To(Equal("[]"))

		Expect(get("/api/entry/done").Code).To(Equal(http.StatusOK))
		Expect(get("/api/entry/missing").Code).To(Equal(http.StatusNotFound))
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("scenario", 3)
		bar.Record(false)
		bar.Record(true)

		body := get("/api/progress").Body.String()
		Expect(body).To(ContainSubstring(`"finished":2`))
		Expect(body).To(ContainSubstring(`"failed":1`))
		Expect(bar.Remaining()).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		Expect(get("/api/progress").Body.String()).To(Equal("[]"))
	})

	It("should stream published entries", func() {
		server := httptest.NewServer(router)
		defer server.Close()

		wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/stream"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Eventually(m.NumStreams).Should(Equal(1))

		dispatcher.Dispatch(session.Request{ID: "done", Controller: ctrl})
		Expect(engine.Run()).To(Succeed())
		Expect(dispatcher.Complete("done", resourcetiming.Base{})).To(Succeed())

		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

		var got map[string]any
		Expect(conn.ReadJSON(&got)).To(Succeed())
		Expect(got["request_id"]).To(Equal("done"))
	})
})
