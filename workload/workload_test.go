package workload_test

import (
	"context"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sarchlab/vmsim/config"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/swap"
	"github.com/sarchlab/vmsim/mem/vm/vmm"
	"github.com/sarchlab/vmsim/tracing"
	"github.com/sarchlab/vmsim/workload"
)

type progressCounter struct {
	finished atomic.Uint64
}

func (c *progressCounter) IncrementFinished(amount uint64) {
	c.finished.Add(amount)
}

var _ = Describe("Runner", func() {
	var (
		kernel *vmm.Kernel
		spec   config.Workload
	)

	BeforeEach(func() {
		logger, _ := test.NewNullLogger()
		kernel = vmm.MakeBuilder().
			WithNumFrames(12).
			WithSwapDevice(swap.NewMemoryDevice(128 * vm.SectorsPerPage)).
			WithLogger(logger).
			Build("Kernel")

		spec = config.Workload{
			Processes:   3,
			AnonPages:   8,
			MappedPages: 4,
			Rounds:      20,
			Seed:        7,
		}
	})

	AfterEach(func() {
		kernel.Shutdown()
	})

	It("should run every round and read back what was written", func() {
		counter := tracing.NewCountTracer(nil)
		kernel.AcceptHook(counter)
		progress := &progressCounter{}
		logger, _ := test.NewNullLogger()

		runner := workload.NewRunner(kernel, spec).
			WithLogger(logger).
			WithProgress(progress)
		result, err := runner.Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Processes).To(Equal(3))
		Expect(result.BytesChecked).To(BeNumerically(">", 0))
		Expect(progress.finished.Load()).To(Equal(runner.TotalRounds()))
		Expect(counter.Count("SwapOut")).To(BeNumerically(">", 0))
		Expect(counter.Count("PageWriteBack")).To(BeNumerically(">", 0))
	})

	It("should leave nothing behind", func() {
		logger, _ := test.NewNullLogger()

		_, err := workload.NewRunner(kernel, spec).
			WithLogger(logger).
			Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(kernel.Processes()).To(BeEmpty())
		Expect(kernel.FrameTable().Stats().NumUsed).To(Equal(0))
		Expect(kernel.Swap().Stats().NumUsed).To(Equal(0))
	})

	It("should refuse workloads larger than memory and swap", func() {
		spec.AnonPages = 100

		_, err := workload.NewRunner(kernel, spec).Run(context.Background())

		Expect(err).To(MatchError(workload.ErrTooLarge))
	})

	It("should stop when the context is canceled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		logger, _ := test.NewNullLogger()

		_, err := workload.NewRunner(kernel, spec).
			WithLogger(logger).
			Run(ctx)

		Expect(err).To(MatchError(context.Canceled))
		Expect(kernel.Processes()).To(BeEmpty())
	})
})
