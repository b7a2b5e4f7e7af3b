// Package monitoring serves the state of a running simulation over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/malnet/flowstats"
	"github.com/sarchlab/malnet/role"
	"github.com/sarchlab/malnet/sim"
)

// A FlowSource provides the current flow records.
type FlowSource interface {
	Records() []flowstats.FlowRecord
}

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	engine     sim.Engine
	registry   *role.Registry
	flows      FlowSource
	components []sim.Named
	portNumber int
	idGen      sim.IDGenerator

	pushInterval time.Duration
	upgrader     websocket.Upgrader

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server   *http.Server
	listener net.Listener
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		idGen:        sim.NewParallelIDGenerator(),
		pushInterval: 500 * time.Millisecond,
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

// WithPushInterval sets how often progress is pushed to websocket clients.
func (m *Monitor) WithPushInterval(d time.Duration) *Monitor {
	m.pushInterval = d
	return m
}

// RegisterEngine registers the engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e sim.Engine) {
	m.engine = e
}

// RegisterRegistry registers the role registry of the population.
func (m *Monitor) RegisterRegistry(r *role.Registry) {
	m.registry = r
}

// RegisterFlowSource registers where the flow records are read from.
func (m *Monitor) RegisterFlowSource(f FlowSource) {
	m.flows = f
}

// RegisterComponent register a component to be inspected.
func (m *Monitor) RegisterComponent(c sim.Named) {
	m.components = append(m.components, c)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.idGen.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list of bars being reported.
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

// Handler returns the router that serves the monitoring API.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/roles", m.listRoles)
	r.HandleFunc("/api/flows", m.listFlows)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/node/{id:[0-9]+}", m.nodeDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/ws/progress", m.streamProgress)

	return r
}

// StartServer starts the monitor as a web server.
func (m *Monitor) StartServer() {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Fprintf(
		os.Stderr,
		"Monitoring simulation with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		err := m.server.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()
}

// Addr returns the address the server listens on, or nil if the server has
// not started.
func (m *Monitor) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}

	return m.listener.Addr()
}

// StopServer closes the server and all the open connections.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}

	return m.server.Close()
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
	fmt.Fprintf(w, "{\"now\":%.10f}", now)
}

type roleRsp struct {
	ID   uint32 `json:"id"`
	Role string `json:"role"`
}

type rolesRsp struct {
	Mode           string    `json:"mode"`
	MaliciousCount int       `json:"malicious_count"`
	Entities       []roleRsp `json:"entities"`
}

func (m *Monitor) listRoles(w http.ResponseWriter, _ *http.Request) {
	if m.registry == nil {
		http.Error(w, "no registry", http.StatusNotFound)
		return
	}

	rsp := rolesRsp{
		Mode:           m.registry.Mode().String(),
		MaliciousCount: m.registry.MaliciousCount(),
		Entities:       []roleRsp{},
	}

	for _, e := range m.registry.Entities() {
		rsp.Entities = append(rsp.Entities, roleRsp{
			ID:   uint32(e.ID),
			Role: e.Role.String(),
		})
	}

	writeJSON(w, rsp)
}

type flowRsp struct {
	FlowID      uint32  `json:"flow_id"`
	Flow        string  `json:"flow"`
	TxPackets   uint64  `json:"tx_packets"`
	RxPackets   uint64  `json:"rx_packets"`
	LostPackets uint64  `json:"lost_packets"`
	MeanDelay   float64 `json:"mean_delay"`
}

type flowsRsp struct {
	Flows         []flowRsp `json:"flows"`
	TotalSent     uint64    `json:"total_sent"`
	TotalReceived uint64    `json:"total_received"`
	Ratio         *float64  `json:"ratio"`
}

func (m *Monitor) listFlows(w http.ResponseWriter, _ *http.Request) {
	if m.flows == nil {
		http.Error(w, "no flow source", http.StatusNotFound)
		return
	}

	records := m.flows.Records()
	rsp := flowsRsp{Flows: []flowRsp{}}

	for _, r := range records {
		rsp.Flows = append(rsp.Flows, flowRsp{
			FlowID:      r.FlowID,
			Flow:        r.Key.String(),
			TxPackets:   r.TxPackets,
			RxPackets:   r.RxPackets,
			LostPackets: r.LostPackets,
			MeanDelay:   float64(r.MeanDelay()),
		})
	}

	report, err := flowstats.Aggregate(records)
	rsp.TotalSent = report.TotalSent
	rsp.TotalReceived = report.TotalReceived
	if err == nil {
		rsp.Ratio = &report.Ratio
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	m.serializeComponent(w, mux.Vars(r)["name"])
}

func (m *Monitor) nodeDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.serializeComponent(w, fmt.Sprintf("Node[%d]", id))
}

func (m *Monitor) serializeComponent(w http.ResponseWriter, name string) {
	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) sim.Named {
	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Component not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) progressSnapshots() []progressSnapshot {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	snapshots := make([]progressSnapshot, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		snapshots = append(snapshots, b.snapshot())
	}

	return snapshots
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, m.progressSnapshots())
}

// streamProgress pushes the progress bars to a websocket client until the
// client goes away.
func (m *Monitor) streamProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(m.pushInterval)
	defer ticker.Stop()

	for {
		err := conn.WriteJSON(m.progressSnapshots())
		if err != nil {
			return
		}

		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
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
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
