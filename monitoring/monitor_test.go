package monitoring

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/vfile"
	"github.com/sarchlab/vmsim/mem/vm/vmm"
)

const heapBase = uint64(0x00100000)

var _ = Describe("Monitor", func() {
	var (
		kernel  *vmm.Kernel
		monitor *Monitor
		server  *httptest.Server
	)

	get := func(path string) (int, []byte) {
		rsp, err := http.Get(server.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		body, err := io.ReadAll(rsp.Body)
		Expect(err).NotTo(HaveOccurred())

		return rsp.StatusCode, body
	}

	getJSON := func(path string, v any) {
		status, body := get(path)
		Expect(status).To(Equal(http.StatusOK))
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	BeforeEach(func() {
		logger, _ := test.NewNullLogger()

		kernel = vmm.MakeBuilder().
			WithNumFrames(2).
			WithLogger(logger).
			Build("Kernel")

		monitor = NewMonitor().WithLogger(logger)
		monitor.RegisterKernel(kernel)

		server = httptest.NewServer(monitor.Handler())
	})

	AfterEach(func() {
		server.Close()
		kernel.Shutdown()
	})

	It("should list the registered components", func() {
		var names []string
		getJSON("/api/list_components", &names)

		Expect(names).To(ContainElements(
			"Kernel",
			kernel.FrameTable().Name(),
			kernel.Swap().Name(),
		))
	})

	It("should answer 404 for unknown components", func() {
		status, _ := get("/api/component/Nothing")

		Expect(status).To(Equal(http.StatusNotFound))
	})

	It("should reject malformed field queries", func() {
		status, _ := get("/api/field/notjson")

		Expect(status).To(Equal(http.StatusBadRequest))
	})

	It("should report frames, swap, and events", func() {
		p := kernel.Spawn("worker")
		Expect(p.MapAnonymous(heapBase, 4)).To(Succeed())

		var frames struct {
			Stats struct {
				NumFrames int
				NumUsed   int
			} `json:"stats"`
			Entries []struct {
				PID vm.PID
			} `json:"entries"`
		}
		getJSON("/api/frames", &frames)
		Expect(frames.Stats.NumFrames).To(Equal(2))
		Expect(frames.Stats.NumUsed).To(Equal(2))
		Expect(frames.Entries).To(HaveLen(2))
		Expect(frames.Entries[0].PID).To(Equal(p.PID()))

		var swapStats struct{ NumUsed int }
		getJSON("/api/swap", &swapStats)
		Expect(swapStats.NumUsed).To(Equal(2))

		var events map[string]uint64
		getJSON("/api/events", &events)
		Expect(events).To(HaveKeyWithValue("SwapOut", uint64(2)))
		Expect(events).To(HaveKeyWithValue("FrameAllocate", uint64(4)))
	})

	It("should report processes and their pages", func() {
		p := kernel.Spawn("worker")
		Expect(p.MapAnonymous(heapBase, 1)).To(Succeed())
		Expect(p.Store(heapBase, []byte{1})).To(Succeed())

		file := vfile.NewMemFile("data", make([]byte, vm.PageSize))
		mapID, err := p.Mmap(file, 0x10000000)
		Expect(err).NotTo(HaveOccurred())

		var processes []processRsp
		getJSON("/api/processes", &processes)
		Expect(processes).To(HaveLen(1))
		Expect(processes[0].Name).To(Equal("worker"))
		Expect(processes[0].NumPages).To(Equal(2))
		Expect(processes[0].NumResident).To(Equal(1))
		Expect(processes[0].NumInFile).To(Equal(1))
		Expect(processes[0].Mappings).To(ConsistOf(mappingRsp{
			ID: mapID, Start: 0x10000000, NumPages: 1,
		}))

		var pages []pageRsp
		getJSON("/api/process/1/pages", &pages)
		Expect(pages).To(HaveLen(2))
		Expect(pages[0].State).To(Equal("resident"))
		Expect(pages[1].Origin).To(Equal("mmap"))
	})

	It("should answer 404 for unknown processes", func() {
		status, _ := get("/api/process/42/pages")

		Expect(status).To(Equal(http.StatusNotFound))
	})

	It("should track progress bars", func() {
		bar := monitor.CreateProgressBar("rounds", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		var bars []ProgressBar
		getJSON("/api/progress", &bars)
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("rounds"))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		monitor.CompleteProgressBar(bar)

		getJSON("/api/progress", &bars)
		Expect(bars).To(BeEmpty())
	})

	It("should report the resource usage", func() {
		var rsp resourceRsp
		getJSON("/api/resource", &rsp)

		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should serve the web page", func() {
		status, body := get("/")

		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(HavePrefix("<!DOCTYPE html>"))
	})
})

var _ = Describe("Port number", func() {
	It("should fall back to a random port for reserved ports", func() {
		logger, _ := test.NewNullLogger()
		m := NewMonitor().WithLogger(logger).WithPortNumber(80)

		Expect(m.portNumber).To(Equal(0))
	})

	It("should start and stop a server", func() {
		logger, _ := test.NewNullLogger()
		m := NewMonitor().WithLogger(logger)

		url := m.StartServer()
		defer m.StopServer()

		rsp, err := http.Get(url + "/api/events")
		Expect(err).NotTo(HaveOccurred())
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		rsp.Body.Close()
	})
})
