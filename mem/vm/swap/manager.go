// Package swap manages the page-sized slots of a swap device.
package swap

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gvisor.dev/gvisor/pkg/bitmap"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/sim/hooking"
	"github.com/sarchlab/vmsim/tracing"
)

// A Slot is the index of a page-sized region of the swap device.
type Slot uint32

// Stats is a snapshot of the swap usage.
type Stats struct {
	NumSlots int
	NumUsed  int
	NumOuts  uint64
	NumIns   uint64
	NumFrees uint64
}

// A Manager tracks which slots are occupied. One lock serializes the bitmap
// and the device I/O.
type Manager struct {
	hooking.HookableBase

	name   string
	log    logrus.FieldLogger
	device BlockDevice

	lock     sync.Mutex
	numSlots uint32
	used     bitmap.Bitmap
	stats    Stats
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// NumSlots returns the number of slots that fit on the device.
func (m *Manager) NumSlots() int {
	return int(m.numSlots)
}

// Out writes a page to the lowest free slot and returns the slot. Running out
// of slots halts the system.
func (m *Manager) Out(page []byte) Slot {
	m.mustBePage(page)

	m.lock.Lock()
	defer m.lock.Unlock()

	bit, err := m.used.FirstZero(0)
	if err != nil || bit >= m.numSlots {
		m.fatalf("swap device is full (%d slots)", m.numSlots)
	}

	m.used.Add(bit)
	slot := Slot(bit)

	for i := 0; i < vm.SectorsPerPage; i++ {
		sector := m.sector(slot, i)
		data := page[i*vm.SectorSize : (i+1)*vm.SectorSize]

		if err := m.device.WriteSector(sector, data); err != nil {
			m.fatalf("writing sector %d of slot %d: %v", sector, slot, err)
		}
	}

	m.stats.NumOuts++

	m.log.WithField("slot", slot).Debug("page swapped out")
	tracing.Notify(m, tracing.HookPosSwapOut,
		tracing.Event{Slot: int64(slot)})

	return slot
}

// In reads the slot into buf and frees the slot.
func (m *Manager) In(slot Slot, buf []byte) {
	m.mustBePage(buf)

	m.lock.Lock()
	defer m.lock.Unlock()

	m.slotMustBeUsed(slot)

	for i := 0; i < vm.SectorsPerPage; i++ {
		sector := m.sector(slot, i)
		data := buf[i*vm.SectorSize : (i+1)*vm.SectorSize]

		if err := m.device.ReadSector(sector, data); err != nil {
			m.fatalf("reading sector %d of slot %d: %v", sector, slot, err)
		}
	}

	m.used.Remove(uint32(slot))
	m.stats.NumIns++

	m.log.WithField("slot", slot).Debug("page swapped in")
	tracing.Notify(m, tracing.HookPosSwapIn,
		tracing.Event{Slot: int64(slot)})
}

// Free releases a slot without reading it.
func (m *Manager) Free(slot Slot) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.slotMustBeUsed(slot)

	m.used.Remove(uint32(slot))
	m.stats.NumFrees++

	tracing.Notify(m, tracing.HookPosSwapFree,
		tracing.Event{Slot: int64(slot)})
}

// IsUsed tells if the slot holds a page.
func (m *Manager) IsUsed(slot Slot) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.isUsed(slot)
}

// Stats returns a snapshot of the swap usage.
func (m *Manager) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()

	s := m.stats
	s.NumSlots = int(m.numSlots)
	s.NumUsed = int(m.used.GetNumOnes())

	return s
}

func (m *Manager) isUsed(slot Slot) bool {
	if uint32(slot) >= m.numSlots {
		return false
	}

	bit, err := m.used.FirstOne(uint32(slot))

	return err == nil && bit == uint32(slot)
}

func (m *Manager) slotMustBeUsed(slot Slot) {
	if !m.isUsed(slot) {
		m.fatalf("swap slot %d is not in use", slot)
	}
}

func (m *Manager) mustBePage(buf []byte) {
	if len(buf) != vm.PageSize {
		m.fatalf("swap buffer must be one page, got %d bytes", len(buf))
	}
}

func (m *Manager) sector(slot Slot, i int) uint64 {
	return uint64(slot)*vm.SectorsPerPage + uint64(i)
}

func (m *Manager) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	m.log.Error(msg)
	panic(msg)
}
