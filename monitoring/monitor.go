// Package monitoring serves the state of a running kernel over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/spt"
	"github.com/sarchlab/vmsim/mem/vm/vmm"
	"github.com/sarchlab/vmsim/monitoring/web"
	"github.com/sarchlab/vmsim/sim/id"
	"github.com/sarchlab/vmsim/tracing"
)

// A Component is anything that can be inspected by name.
type Component interface {
	Name() string
}

// Monitor turns a running kernel into a server so that it can be watched from
// a browser.
type Monitor struct {
	log        logrus.FieldLogger
	kernel     *vmm.Kernel
	counter    *tracing.CountTracer
	components []Component
	portNumber int
	idGen      id.IDGenerator

	serverLock sync.Mutex
	server     *http.Server

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		log:   logrus.StandardLogger(),
		idGen: id.NewIDGenerator(),
	}
}

// WithLogger sets the logger of the monitor.
func (m *Monitor) WithLogger(log logrus.FieldLogger) *Monitor {
	m.log = log
	return m
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.WithField("port", portNumber).
			Warn("port not allowed for the monitoring server, using a random port")

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterKernel makes the kernel, its managers, and the events they emit
// visible from the server.
func (m *Monitor) RegisterKernel(k *vmm.Kernel) {
	m.kernel = k
	m.counter = tracing.NewCountTracer(nil)

	k.AcceptHook(m.counter)

	m.RegisterComponent(k)
	m.RegisterComponent(k.Machine())
	m.RegisterComponent(k.FrameTable())
	m.RegisterComponent(k.Swap())
}

// RegisterComponent register a component to be monitored.
func (m *Monitor) RegisterComponent(c Component) {
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

// Handler returns the HTTP handler that serves the API and the web page.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	fServer := http.FileServer(web.GetAssets())
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/swap", m.swapStats)
	r.HandleFunc("/api/processes", m.listProcesses)
	r.HandleFunc("/api/process/{pid}/pages", m.listPages)
	r.HandleFunc("/api/events", m.listEvents)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(fServer)

	return r
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
	fmt.Fprintf(os.Stderr, "Monitoring kernel with %s\n", url)

	server := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	m.serverLock.Lock()
	m.server = server
	m.serverLock.Unlock()

	go func() {
		err := server.Serve(listener)
		if err != http.ErrServerClosed {
			dieOnErr(err)
		}
	}()

	return url
}

// OpenInBrowser shows the page served at url in the default browser.
func (m *Monitor) OpenInBrowser(url string) {
	err := browser.OpenURL(url)
	if err != nil {
		m.log.WithError(err).Warn("cannot open the monitor in a browser")
	}
}

// StopServer stops the server started by StartServer.
func (m *Monitor) StopServer() {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	if m.server == nil {
		return
	}

	dieOnErr(m.server.Close())
	m.server = nil
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

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

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) Component {
	var component Component
	for _, c := range m.components {
		if c.Name() == name {
			component = c
		}
	}

	if component == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Component not found"))
		dieOnErr(err)
	}

	return component
}

func (m *Monitor) kernelOr404(w http.ResponseWriter) *vmm.Kernel {
	if m.kernel == nil {
		http.Error(w, "no kernel registered", http.StatusNotFound)
	}

	return m.kernel
}

type framesRsp struct {
	Stats   any `json:"stats"`
	Entries any `json:"entries"`
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	k := m.kernelOr404(w)
	if k == nil {
		return
	}

	writeJSON(w, framesRsp{
		Stats:   k.FrameTable().Stats(),
		Entries: k.FrameTable().Entries(),
	})
}

func (m *Monitor) swapStats(w http.ResponseWriter, _ *http.Request) {
	k := m.kernelOr404(w)
	if k == nil {
		return
	}

	writeJSON(w, k.Swap().Stats())
}

type mappingRsp struct {
	ID       int    `json:"id"`
	Start    uint64 `json:"start"`
	NumPages int    `json:"num_pages"`
}

type processRsp struct {
	PID         vm.PID       `json:"pid"`
	Name        string       `json:"name"`
	NumPages    int          `json:"num_pages"`
	NumResident int          `json:"num_resident"`
	NumInSwap   int          `json:"num_in_swap"`
	NumInFile   int          `json:"num_in_file"`
	Mappings    []mappingRsp `json:"mappings"`
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	k := m.kernelOr404(w)
	if k == nil {
		return
	}

	rsp := make([]processRsp, 0)
	for _, p := range k.Processes() {
		pages := p.Pages()
		entry := processRsp{
			PID:      p.PID(),
			Name:     p.Name(),
			NumPages: len(pages),
			Mappings: make([]mappingRsp, 0),
		}

		for _, page := range pages {
			switch page.State {
			case spt.Resident:
				entry.NumResident++
			case spt.InSwap:
				entry.NumInSwap++
			case spt.InFile:
				entry.NumInFile++
			}
		}

		for _, mapping := range p.Mappings() {
			entry.Mappings = append(entry.Mappings, mappingRsp{
				ID:       mapping.ID,
				Start:    mapping.Start,
				NumPages: mapping.NumPages,
			})
		}

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

type pageRsp struct {
	VAddr    uint64 `json:"vaddr"`
	State    string `json:"state"`
	Origin   string `json:"origin"`
	Writable bool   `json:"writable"`
	Frame    uint32 `json:"frame,omitempty"`
	Slot     uint32 `json:"slot,omitempty"`
	Offset   int64  `json:"offset,omitempty"`
	Length   int    `json:"length,omitempty"`
}

func (m *Monitor) listPages(w http.ResponseWriter, r *http.Request) {
	k := m.kernelOr404(w)
	if k == nil {
		return
	}

	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, ok := k.Process(vm.PID(pid))
	if !ok {
		http.Error(w, "process not found", http.StatusNotFound)
		return
	}

	rsp := make([]pageRsp, 0)
	for _, page := range p.Pages() {
		entry := pageRsp{
			VAddr:    page.VAddr,
			State:    page.State.String(),
			Origin:   page.Origin.String(),
			Writable: page.Writable,
			Offset:   page.Offset,
			Length:   page.Length,
		}

		switch page.State {
		case spt.Resident:
			entry.Frame = uint32(page.Frame)
		case spt.InSwap:
			entry.Slot = uint32(page.Slot)
		}

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listEvents(w http.ResponseWriter, _ *http.Request) {
	if m.counter == nil {
		writeJSON(w, map[string]uint64{})
		return
	}

	writeJSON(w, m.counter.Counts())
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].StartTime.Before(bars[j].StartTime)
	})

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

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
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
		logrus.WithError(err).Panic("monitor failed")
	}
}
