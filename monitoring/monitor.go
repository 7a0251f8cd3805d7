// Package monitoring serves the state of a running dispatcher over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/browser"
	"github.com/rs/cors"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/workertiming/idgen"
	"github.com/sarchlab/workertiming/interception"
	"github.com/sarchlab/workertiming/resourcetiming"
	"github.com/sarchlab/workertiming/session"
	"github.com/sarchlab/workertiming/timing"
)

const streamBufferSize = 64

// Monitor turns a run into a server that allows external monitoring and
// controlling of the engine and the sessions.
type Monitor struct {
	engine      timing.Engine
	dispatcher  *interception.Dispatcher
	portNumber  int
	openBrowser bool
	idGenerator idgen.Generator
	upgrader    websocket.Upgrader

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	streamsLock sync.Mutex
	streams     map[chan *resourcetiming.Entry]struct{}
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		idGenerator: idgen.NewSequentialWithPrefix("bar-"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		streams: make(map[chan *resourcetiming.Entry]struct{}),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithOpenBrowser makes StartServer open the monitor in a browser.
func (m *Monitor) WithOpenBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterEngine registers the engine that runs the handlers.
func (m *Monitor) RegisterEngine(e timing.Engine) {
	m.engine = e
}

// RegisterDispatcher registers the dispatcher whose sessions are monitored.
// The monitor starts streaming the records the dispatcher publishes.
func (m *Monitor) RegisterDispatcher(d *interception.Dispatcher) {
	m.dispatcher = d
	d.Timeline().Observe(m)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		id:        m.idGenerator.Generate(),
		name:      name,
		startTime: time.Now(),
		total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// EntryPublished pushes a published record to every stream client. Clients
// that do not keep up lose records rather than stalling the publisher.
func (m *Monitor) EntryPublished(e *resourcetiming.Entry) {
	m.streamsLock.Lock()
	defer m.streamsLock.Unlock()

	for ch := range m.streams {
		select {
		case ch <- e:
		default:
		}
	}
}

// Router returns the routes of the monitoring API.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/sessions", m.listSessions)
	r.HandleFunc("/api/session/{request}", m.sessionDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/chain/{request}", m.chain)
	r.HandleFunc("/api/entries", m.listEntries)
	r.HandleFunc("/api/entry/{request}", m.entry)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/api/stream", m.stream)

	return r
}

// Handler returns the routes wrapped with CORS support.
func (m *Monitor) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(m.Router())
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring with %s\n", url)

	go func() {
		err := http.Serve(listener, m.Handler())
		dieOnErr(err)
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return url
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	_, err := w.Write(nil)
	dieOnErr(err)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	now := m.engine.CurrentTime()
	fmt.Fprintf(w, "{\"now\":%.6f}", now)
}

type sessionRsp struct {
	ID          string `json:"id"`
	RequestID   string `json:"request_id"`
	URL         string `json:"url"`
	Kind        string `json:"kind"`
	Controller  string `json:"controller"`
	State       string `json:"state"`
	Disposition string `json:"disposition"`
	Outstanding int    `json:"outstanding"`
	NumEntries  int    `json:"num_entries"`
}

func summarize(s *session.Session) sessionRsp {
	return sessionRsp{
		ID:          s.ID(),
		RequestID:   s.RequestID(),
		URL:         s.URL(),
		Kind:        s.Kind().String(),
		Controller:  s.Controller().ID,
		State:       s.State().String(),
		Disposition: s.Disposition().String(),
		Outstanding: s.Outstanding(),
		NumEntries:  s.Len(),
	}
}

// sessionDetail is a copy of a session taken through its locked accessors, so
// that goseth can walk it while the engine keeps running.
type sessionDetail struct {
	Summary       sessionRsp
	Request       session.Request
	Entries       []session.TimingRecord
	DiscardReason string
}

func detail(s *session.Session) *sessionDetail {
	return &sessionDetail{
		Summary:       summarize(s),
		Request:       s.Request(),
		Entries:       s.Entries(),
		DiscardReason: s.DiscardReason(),
	}
}

func (m *Monitor) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := m.dispatcher.OpenSessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID() < sessions[j].ID()
	})

	rsp := make([]sessionRsp, 0, len(sessions))
	for _, s := range sessions {
		rsp = append(rsp, summarize(s))
	}

	writeJSON(w, rsp)
}

func (m *Monitor) sessionDetails(w http.ResponseWriter, r *http.Request) {
	s := m.findSessionOr404(w, mux.Vars(r)["request"])
	if s == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(detail(s))
	serializer.SetMaxDepth(2)
	err := serializer.Serialize(w)
	dieOnErr(err)
}

type fieldReq struct {
	RequestID string `json:"request_id,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	s := m.findSessionOr404(w, req.RequestID)
	if s == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(detail(s))
	serializer.SetMaxDepth(2)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) chain(w http.ResponseWriter, r *http.Request) {
	chain, ok := m.dispatcher.Coordinator().Chain(mux.Vars(r)["request"])
	if !ok {
		notFound(w, "Request not found")
		return
	}

	writeJSON(w, chain)
}

func (m *Monitor) listEntries(w http.ResponseWriter, r *http.Request) {
	timeline := m.dispatcher.Timeline()

	entries := timeline.Entries()
	if name := r.URL.Query().Get("name"); name != "" {
		entries = timeline.EntriesByName(name)
	}

	if entries == nil {
		entries = []*resourcetiming.Entry{}
	}

	writeJSON(w, entries)
}

func (m *Monitor) entry(w http.ResponseWriter, r *http.Request) {
	e, ok := m.dispatcher.Timeline().Entry(mux.Vars(r)["request"])
	if !ok {
		notFound(w, "Entry not found")
		return
	}

	writeJSON(w, e)
}

func (m *Monitor) findSessionOr404(
	w http.ResponseWriter,
	requestID string,
) *session.Session {
	s, ok := m.dispatcher.Session(requestID)
	if !ok {
		notFound(w, "Session not found")
		return nil
	}

	return s
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func (m *Monitor) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan *resourcetiming.Entry, streamBufferSize)

	m.streamsLock.Lock()
	m.streams[ch] = struct{}{}
	m.streamsLock.Unlock()

	defer func() {
		m.streamsLock.Lock()
		delete(m.streams, ch)
		m.streamsLock.Unlock()
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-ch:
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// NumStreams returns the number of connected stream clients.
func (m *Monitor) NumStreams() int {
	m.streamsLock.Lock()
	defer m.streamsLock.Unlock()

	return len(m.streams)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func notFound(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte(msg))
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}

var _ resourcetiming.Observer = (*Monitor)(nil)
