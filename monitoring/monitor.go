// Package monitoring serves a running sequencer over HTTP so that it can be
// inspected and steered from a browser.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/cadence/monitoring/web"
	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/hooking"
	"github.com/sarchlab/cadence/sim/id"
	"github.com/sarchlab/cadence/sim/scope"
	"github.com/sarchlab/cadence/sim/timing"
)

// A Pauser can hold and release the ticks of a sequencer, like the realtime
// driver does.
type Pauser interface {
	Pause()
	Continue()
	Paused() bool
}

// Monitor can turn a sequencer into a server and allows external monitoring
// and controlling of the sequencer.
type Monitor struct {
	seq        *sequencer.Sequencer
	driver     Pauser
	portNumber int
	log        logrus.FieldLogger

	profileDuration time.Duration

	controlsLock sync.Mutex
	controls     map[id.ID]scope.Scope

	runLock sync.Mutex
	running bool

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		log:             logrus.StandardLogger(),
		profileDuration: time.Second,
		controls:        make(map[id.ID]scope.Scope),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		m.log.WithField("port", portNumber).
			Warn("port number is not allowed for the monitor, using a random port")
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(logger logrus.FieldLogger) *Monitor {
	m.log = logger
	return m
}

// RegisterSequencer registers the sequencer to serve. Controls that run a
// command become visible under /api/control.
func (m *Monitor) RegisterSequencer(s *sequencer.Sequencer) {
	m.seq = s

	s.AcceptHook(hooking.NewPosHook(sequencer.HookPosBeforeCommand, func(ctx hooking.HookCtx) {
		m.trackCurrentScope()
	}))
}

// RegisterDriver registers what pauses and continues the sequencer.
func (m *Monitor) RegisterDriver(d Pauser) {
	m.driver = d
}

// RegisterControl makes a control visible under /api/control.
func (m *Monitor) RegisterControl(c scope.Scope) {
	m.controlsLock.Lock()
	defer m.controlsLock.Unlock()

	m.controls[c.ID()] = c
}

func (m *Monitor) trackCurrentScope() {
	if sc := m.seq.CurrentScope(); sc != nil && sc.Parent() != nil {
		m.RegisterControl(sc)
	}
}

// Handler returns the routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now).Methods(http.MethodGet)
	r.HandleFunc("/api/tick", m.tick).Methods(http.MethodPost)
	r.HandleFunc("/api/run", m.run).Methods(http.MethodPost)
	r.HandleFunc("/api/pause", m.pause).Methods(http.MethodPost)
	r.HandleFunc("/api/continue", m.continueTicks).Methods(http.MethodPost)
	r.HandleFunc("/api/seek/{position}", m.seek).Methods(http.MethodPost)
	r.HandleFunc("/api/pending", m.listPending).Methods(http.MethodGet)
	r.HandleFunc("/api/control/{id:[0-9]+}", m.controlDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/control/{id:[0-9]+}/stop", m.stopControl).Methods(http.MethodPost)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its address.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring sequencer %s with %s\n", m.seq.Name(), url)

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			m.log.WithError(err).Error("monitor server stopped")
		}
	}()

	return url, nil
}

// Shutdown stops the server started by StartServer.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

type nowRsp struct {
	Position string  `json:"position"`
	Bars     float64 `json:"bars"`
	Pending  int     `json:"pending"`
	Running  bool    `json:"running"`
	Paused   bool    `json:"paused"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	pos := m.seq.Position()

	m.runLock.Lock()
	running := m.running
	m.runLock.Unlock()

	rsp := nowRsp{
		Position: pos.String(),
		Bars:     pos.Float64(),
		Pending:  m.seq.Size(),
		Running:  running,
		Paused:   m.driver != nil && m.driver.Paused(),
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) tick(w http.ResponseWriter, _ *http.Request) {
	m.seq.Tick()
	m.now(w, nil)
}

func (m *Monitor) run(w http.ResponseWriter, _ *http.Request) {
	m.runLock.Lock()
	defer m.runLock.Unlock()

	if m.running {
		w.WriteHeader(http.StatusConflict)
		return
	}

	m.running = true

	go func() {
		m.seq.Run()

		m.runLock.Lock()
		m.running = false
		m.runLock.Unlock()
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	if m.driver == nil {
		http.Error(w, "no driver to pause", http.StatusMethodNotAllowed)
		return
	}

	m.driver.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueTicks(w http.ResponseWriter, _ *http.Request) {
	if m.driver == nil {
		http.Error(w, "no driver to continue", http.StatusMethodNotAllowed)
		return
	}

	m.driver.Continue()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) seek(w http.ResponseWriter, r *http.Request) {
	pos, err := timing.Parse(mux.Vars(r)["position"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := m.seq.SetPosition(pos); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	m.now(w, nil)
}

type pendingRsp struct {
	Position string `json:"position"`
	Label    string `json:"label,omitempty"`
	Driver   bool   `json:"driver"`
	Control  id.ID  `json:"control,omitempty"`
}

func (m *Monitor) listPending(w http.ResponseWriter, _ *http.Request) {
	pending := m.seq.Pending()
	rsp := make([]pendingRsp, 0, len(pending))

	for _, p := range pending {
		item := pendingRsp{
			Position: p.Position.String(),
			Label:    p.Label,
			Driver:   p.Driver,
		}

		if p.Control != nil {
			item.Control = p.Control.ID()
			m.RegisterControl(p.Control)
		}

		rsp = append(rsp, item)
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) findControlOr404(w http.ResponseWriter, r *http.Request) scope.Scope {
	n, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}

	m.controlsLock.Lock()
	c, ok := m.controls[id.ID(n)]
	m.controlsLock.Unlock()

	if !ok {
		http.Error(w, "Control not found", http.StatusNotFound)
		return nil
	}

	return c
}

func (m *Monitor) controlDetails(w http.ResponseWriter, r *http.Request) {
	c := m.findControlOr404(w, r)
	if c == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(c)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		m.log.WithError(err).Error("cannot serialize control")
	}
}

func (m *Monitor) stopControl(w http.ResponseWriter, r *http.Request) {
	c := m.findControlOr404(w, r)
	if c == nil {
		return
	}

	c.Stop()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.log.WithError(err).Error("cannot write response")
	}
}
