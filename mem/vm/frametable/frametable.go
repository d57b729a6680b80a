// Package frametable keeps track of the physical frames that hold user pages
// and picks the frames to evict when the pool runs dry.
package frametable

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/memory"
	"github.com/sarchlab/vmsim/sim/hooking"
	"github.com/sarchlab/vmsim/tracing"
)

// AllocFlags changes how a frame is allocated.
type AllocFlags int

// AllocZero fills the allocated frame with zeros.
const AllocZero AllocFlags = 1 << iota

// An Owner is the address space a frame is allocated for. The table calls
// EvictPage with the table lock held when it takes the frame back.
type Owner interface {
	PID() vm.PID
	AddressSpace() vm.AddressSpace
	EvictPage(vAddr uint64, frame vm.Frame)
}

// An Entry describes an occupied frame.
type Entry struct {
	Frame  vm.Frame
	PID    vm.PID
	VAddr  uint64
	Pinned bool
}

// Stats is a snapshot of the frame usage.
type Stats struct {
	NumFrames    int
	NumUsed      int
	NumPinned    int
	NumAllocs    uint64
	NumEvictions uint64
	NumFrees     uint64
}

type entry struct {
	frame  vm.Frame
	owner  Owner
	vAddr  uint64
	pinned bool
}

func lessEntry(a, b *entry) bool {
	return a.frame < b.frame
}

// A Table owns the frames of the user pool. All the methods except Stats and
// Entries must be called with the table locked, so that callers can chain
// several operations atomically.
type Table struct {
	hooking.HookableBase

	name    string
	log     logrus.FieldLogger
	machine vm.Machine
	pool    *memory.FramePool

	lock    sync.Mutex
	entries *btree.BTreeG[*entry]
	hand    vm.Frame
	stats   Stats
}

// Name returns the name of the table.
func (t *Table) Name() string {
	return t.name
}

// Lock acquires the frame lock.
func (t *Table) Lock() {
	t.lock.Lock()
}

// Unlock releases the frame lock.
func (t *Table) Unlock() {
	t.lock.Unlock()
}

// Allocate returns a pinned frame for the page at vAddr of the owner. If the
// pool is empty, it evicts a page chosen by the clock algorithm and reuses its
// frame.
func (t *Table) Allocate(flags AllocFlags, owner Owner, vAddr uint64) vm.Frame {
	t.MustHoldLock()

	var e *entry

	frame, ok := t.pool.Allocate()
	if ok {
		e = &entry{frame: frame}
		t.entries.ReplaceOrInsert(e)
	} else {
		e = t.evict()
	}

	e.owner = owner
	e.vAddr = vm.PageAlign(vAddr)
	e.pinned = true

	if flags&AllocZero != 0 {
		clear(t.machine.FrameData(e.frame))
	}

	t.stats.NumAllocs++

	t.log.WithFields(logrus.Fields{
		"pid":   owner.PID(),
		"vaddr": e.vAddr,
		"frame": e.frame,
	}).Debug("frame allocated")
	tracing.Notify(t, tracing.HookPosFrameAllocate, tracing.Event{
		PID:   owner.PID(),
		VAddr: e.vAddr,
		Frame: e.frame,
		Slot:  tracing.NoSlot,
	})

	return e.frame
}

// Free removes the frame from the table. If releasePhysical is false, the
// physical frame stays allocated and the caller takes charge of it.
func (t *Table) Free(frame vm.Frame, releasePhysical bool) {
	t.MustHoldLock()

	e := t.mustFind(frame)
	t.entries.Delete(e)

	if releasePhysical {
		t.pool.Free(frame)
	}

	t.stats.NumFrees++

	tracing.Notify(t, tracing.HookPosFrameFree, tracing.Event{
		PID:   e.owner.PID(),
		VAddr: e.vAddr,
		Frame: frame,
		Slot:  tracing.NoSlot,
	})
}

// Pin makes the frame ineligible for eviction.
func (t *Table) Pin(frame vm.Frame) {
	t.setPinned(frame, true)
}

// Unpin makes the frame eligible for eviction again.
func (t *Table) Unpin(frame vm.Frame) {
	t.setPinned(frame, false)
}

func (t *Table) setPinned(frame vm.Frame, pinned bool) {
	t.MustHoldLock()

	e := t.mustFind(frame)
	if e.pinned == pinned {
		t.fatalf("frame %d pinned state is already %v", frame, pinned)
	}

	e.pinned = pinned
}

// Lookup returns the entry of an occupied frame.
func (t *Table) Lookup(frame vm.Frame) (Entry, bool) {
	t.MustHoldLock()

	e, found := t.entries.Get(&entry{frame: frame})
	if !found {
		return Entry{}, false
	}

	return e.export(), true
}

// Entries returns a snapshot of every occupied frame, ordered by frame.
func (t *Table) Entries() []Entry {
	t.lock.Lock()
	defer t.lock.Unlock()

	list := make([]Entry, 0, t.entries.Len())
	t.entries.Ascend(func(e *entry) bool {
		list = append(list, e.export())
		return true
	})

	return list
}

// Stats returns a snapshot of the frame usage.
func (t *Table) Stats() Stats {
	t.lock.Lock()
	defer t.lock.Unlock()

	s := t.stats
	s.NumFrames = t.pool.NumFrames()
	s.NumUsed = t.entries.Len()
	t.entries.Ascend(func(e *entry) bool {
		if e.pinned {
			s.NumPinned++
		}

		return true
	})

	return s
}

func (t *Table) evict() *entry {
	victim := t.findVictim()
	owner := victim.owner

	victim.pinned = true
	owner.EvictPage(victim.vAddr, victim.frame)

	t.stats.NumEvictions++

	t.log.WithFields(logrus.Fields{
		"pid":   owner.PID(),
		"vaddr": victim.vAddr,
		"frame": victim.frame,
	}).Debug("frame evicted")
	tracing.Notify(t, tracing.HookPosFrameEvict, tracing.Event{
		PID:   owner.PID(),
		VAddr: victim.vAddr,
		Frame: victim.frame,
		Slot:  tracing.NoSlot,
	})

	return victim
}

// findVictim runs the clock algorithm. A frame gets a second chance if the
// page was accessed through either the user mapping or the kernel alias.
func (t *Table) findVictim() *entry {
	n := t.entries.Len()
	kernel := t.machine.KernelSpace()

	for i := 0; i < 2*n; i++ {
		e := t.advanceHand()
		if e.pinned {
			continue
		}

		user := e.owner.AddressSpace()
		kAddr := e.frame.KernelAddr()

		if !user.IsAccessed(e.vAddr) && !kernel.IsAccessed(kAddr) {
			return e
		}

		user.ClearAccessed(e.vAddr)
		kernel.ClearAccessed(kAddr)
	}

	t.fatalf("no frame can be evicted among %d frames", n)

	return nil
}

// advanceHand returns the entry under the clock hand and moves the hand past
// it. The hand is a frame number, so removing entries never invalidates it.
func (t *Table) advanceHand() *entry {
	var next *entry

	t.entries.AscendGreaterOrEqual(&entry{frame: t.hand},
		func(e *entry) bool {
			next = e
			return false
		})

	if next == nil {
		next, _ = t.entries.Min()
	}

	t.hand = next.frame + 1

	return next
}

func (t *Table) mustFind(frame vm.Frame) *entry {
	e, found := t.entries.Get(&entry{frame: frame})
	if !found {
		t.fatalf("frame %d is not in the frame table", frame)
	}

	return e
}

// MustHoldLock halts if the frame lock is not held.
func (t *Table) MustHoldLock() {
	if t.lock.TryLock() {
		t.lock.Unlock()
		panic("frame lock not held")
	}
}

func (t *Table) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.log.Error(msg)
	panic(msg)
}

func (e *entry) export() Entry {
	return Entry{
		Frame:  e.frame,
		PID:    e.owner.PID(),
		VAddr:  e.vAddr,
		Pinned: e.pinned,
	}
}
