package swap

import (
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/tracing"
)

func pageOf(b byte) []byte {
	page := make([]byte, vm.PageSize)
	for i := range page {
		page[i] = b + byte(i%7)
	}

	return page
}

var _ = Describe("Manager", func() {
	var (
		device *MemoryDevice
		m      *Manager
	)

	BeforeEach(func() {
		logger, _ := test.NewNullLogger()
		device = NewMemoryDevice(4 * vm.SectorsPerPage)
		m = MakeBuilder().
			WithDevice(device).
			WithLogger(logger).
			Build("Swap")
	})

	It("should size the slots from the device", func() {
		Expect(m.NumSlots()).To(Equal(4))
		Expect(m.Stats().NumUsed).To(Equal(0))
	})

	It("should round trip a page", func() {
		page := pageOf(3)

		slot := m.Out(page)
		Expect(m.IsUsed(slot)).To(BeTrue())

		buf := make([]byte, vm.PageSize)
		m.In(slot, buf)

		Expect(buf).To(Equal(page))
		Expect(m.IsUsed(slot)).To(BeFalse())
	})

	It("should reuse the lowest free slot", func() {
		a := m.Out(pageOf(1))
		b := m.Out(pageOf(2))
		Expect(a).To(Equal(Slot(0)))
		Expect(b).To(Equal(Slot(1)))

		m.Free(a)

		Expect(m.Out(pageOf(3))).To(Equal(a))
		Expect(m.Out(pageOf(4))).To(Equal(Slot(2)))
	})

	It("should count operations", func() {
		a := m.Out(pageOf(1))
		b := m.Out(pageOf(2))
		m.Free(a)
		m.In(b, make([]byte, vm.PageSize))

		stats := m.Stats()
		Expect(stats.NumOuts).To(Equal(uint64(2)))
		Expect(stats.NumIns).To(Equal(uint64(1)))
		Expect(stats.NumFrees).To(Equal(uint64(1)))
		Expect(stats.NumUsed).To(Equal(0))
	})

	It("should halt when the device is full", func() {
		for i := 0; i < 4; i++ {
			m.Out(pageOf(byte(i)))
		}

		Expect(func() { m.Out(pageOf(9)) }).To(Panic())
	})

	It("should halt when freeing a free slot", func() {
		Expect(func() { m.Free(0) }).To(Panic())
		Expect(func() { m.In(3, make([]byte, vm.PageSize)) }).To(Panic())
	})

	It("should reject partial pages", func() {
		Expect(func() { m.Out(make([]byte, 10)) }).To(Panic())
	})

	It("should notify hooks", func() {
		counter := tracing.NewCountTracer(nil)
		m.AcceptHook(counter)

		slot := m.Out(pageOf(1))
		m.In(slot, make([]byte, vm.PageSize))

		Expect(counter.Count("SwapOut")).To(Equal(uint64(1)))
		Expect(counter.Count("SwapIn")).To(Equal(uint64(1)))
	})
})

var _ = Describe("Manager with a failing device", func() {
	var (
		mockCtrl *gomock.Controller
		device   *MockBlockDevice
		m        *Manager
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		device = NewMockBlockDevice(mockCtrl)
		device.EXPECT().NumSectors().Return(uint64(2 * vm.SectorsPerPage))

		logger, _ := test.NewNullLogger()
		m = MakeBuilder().
			WithDevice(device).
			WithLogger(logger).
			Build("Swap")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should write every sector of the slot", func() {
		for i := 0; i < vm.SectorsPerPage; i++ {
			device.EXPECT().
				WriteSector(uint64(vm.SectorsPerPage+i), gomock.Any()).
				Return(nil)
		}

		m.lock.Lock()
		m.used.Add(0)
		m.lock.Unlock()

		Expect(m.Out(pageOf(1))).To(Equal(Slot(1)))
	})

	It("should halt on device errors", func() {
		device.EXPECT().
			WriteSector(uint64(0), gomock.Any()).
			Return(errors.New("bad sector"))

		Expect(func() { m.Out(pageOf(1)) }).To(Panic())
	})
})

var _ = Describe("Devices", func() {
	It("should reject out of range sectors", func() {
		device := NewMemoryDevice(2)

		Expect(device.WriteSector(2, make([]byte, vm.SectorSize))).
			NotTo(Succeed())
		Expect(device.ReadSector(0, make([]byte, 3))).NotTo(Succeed())
	})

	It("should keep sectors in a host file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "swap.dsk")

		device, err := OpenFileDevice(path, 8)
		Expect(err).NotTo(HaveOccurred())
		defer device.Close()

		m := MakeBuilder().
			WithDevice(device).
			WithLogger(logrus.New()).
			Build("Swap")

		page := pageOf(5)
		slot := m.Out(page)

		buf := make([]byte, vm.PageSize)
		m.In(slot, buf)
		Expect(buf).To(Equal(page))
	})
})
