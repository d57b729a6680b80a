// Package spt implements the supplemental page table. It remembers where every
// page of a process is kept when the page is not in a frame.
package spt

import (
	"fmt"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/frametable"
	"github.com/sarchlab/vmsim/mem/vm/swap"
	"github.com/sarchlab/vmsim/sim/hooking"
	"github.com/sarchlab/vmsim/tracing"
)

// A Table holds the pages of one process. The frame table evicts pages of any
// process, so every method except Snapshot must be called with the frame
// table locked.
type Table struct {
	hooking.HookableBase

	name    string
	log     logrus.FieldLogger
	pid     vm.PID
	space   vm.AddressSpace
	machine vm.Machine
	frames  *frametable.Table
	swap    *swap.Manager

	entries *btree.BTreeG[*Entry]
}

// Name returns the name of the table.
func (t *Table) Name() string {
	return t.name
}

// PID returns the process that owns the table.
func (t *Table) PID() vm.PID {
	return t.pid
}

// AddressSpace returns the page directory of the process.
func (t *Table) AddressSpace() vm.AddressSpace {
	return t.space
}

// Len returns the number of pages in the table.
func (t *Table) Len() int {
	return t.entries.Len()
}

// Get returns the page that contains vAddr.
func (t *Table) Get(vAddr uint64) (Entry, bool) {
	t.frames.MustHoldLock()

	e, found := t.entries.Get(&Entry{VAddr: vm.PageAlign(vAddr)})
	if !found {
		return Entry{}, false
	}

	return *e, true
}

// Entries returns every page, ordered by address.
func (t *Table) Entries() []Entry {
	t.frames.MustHoldLock()

	return t.collect()
}

// Snapshot locks the frame table and returns every page.
func (t *Table) Snapshot() []Entry {
	t.frames.Lock()
	defer t.frames.Unlock()

	return t.collect()
}

func (t *Table) collect() []Entry {
	list := make([]Entry, 0, t.entries.Len())
	t.entries.Ascend(func(e *Entry) bool {
		list = append(list, *e)
		return true
	})

	return list
}

// HasAnyInRange tells if any page in [start, end) is in the table.
func (t *Table) HasAnyInRange(start, end uint64) bool {
	t.frames.MustHoldLock()

	found := false
	t.entries.AscendRange(
		&Entry{VAddr: vm.PageAlign(start)},
		&Entry{VAddr: end},
		func(*Entry) bool {
			found = true
			return false
		})

	return found
}

// SetResident registers a page that has already been loaded into frame. It
// returns false if the page is already in the table.
func (t *Table) SetResident(vAddr uint64, frame vm.Frame, writable bool) bool {
	t.frames.MustHoldLock()

	return t.insert(&Entry{
		VAddr:    vm.PageAlign(vAddr),
		State:    Resident,
		Origin:   OriginAnonymous,
		Writable: writable,
		Frame:    frame,
	})
}

// SetFileBacked registers a page to be loaded lazily from length bytes of the
// file at offset. Only mmap pages are writable. It returns false if the page
// is already in the table.
func (t *Table) SetFileBacked(
	vAddr uint64,
	file vm.File,
	offset int64,
	length int,
	origin Origin,
) bool {
	t.frames.MustHoldLock()

	if file == nil || origin == OriginAnonymous {
		t.fatalf("file-backed page 0x%x needs a file and a file origin", vAddr)
	}

	if length < 0 || length > vm.PageSize {
		t.fatalf("file-backed page 0x%x has invalid length %d", vAddr, length)
	}

	return t.insert(&Entry{
		VAddr:    vm.PageAlign(vAddr),
		State:    InFile,
		Origin:   origin,
		Writable: origin == OriginMmap,
		File:     file,
		Offset:   offset,
		Length:   length,
	})
}

func (t *Table) insert(e *Entry) bool {
	if t.entries.Has(e) {
		return false
	}

	t.entries.ReplaceOrInsert(e)

	return true
}

// UnsetFileBacked removes a file-backed page. A resident page that was
// written through either mapping is written back to the file first.
func (t *Table) UnsetFileBacked(vAddr uint64) {
	t.frames.MustHoldLock()

	e := t.mustGet(vAddr)
	if !e.IsFileBacked() {
		t.fatalf("page 0x%x is not file-backed", e.VAddr)
	}

	if e.State == InSwap {
		t.fatalf("file-backed page 0x%x is in swap", e.VAddr)
	}

	if e.State == Resident {
		t.space.ClearMapping(e.VAddr)

		if t.isDirty(e) {
			t.writeBack(e)
		}

		t.frames.Free(e.Frame, true)
	}

	t.entries.Delete(e)
}

// Load brings the page that contains vAddr into a frame. It returns false
// if the page got mapped by someone else in the meantime.
func (t *Table) Load(vAddr uint64) bool {
	t.frames.MustHoldLock()

	e := t.mustGet(vAddr)
	if e.State == Resident {
		return true
	}

	frame := t.frames.Allocate(0, t, e.VAddr)

	if !t.space.SetMapping(e.VAddr, frame, e.Writable) {
		t.frames.Free(frame, true)
		return false
	}

	data := t.machine.FrameData(frame)
	source := e.State

	switch e.State {
	case InFile:
		t.readFile(e, data)
	case InSwap:
		t.swap.In(e.Slot, data)
	}

	t.clearBits(e.VAddr, frame)

	e.State = Resident
	e.Frame = frame

	t.frames.Unpin(frame)

	t.log.WithFields(logrus.Fields{
		"vaddr": e.VAddr,
		"frame": frame,
		"from":  source,
	}).Debug("page loaded")
	tracing.Notify(t, tracing.HookPosPageLoad, tracing.Event{
		PID:    t.pid,
		VAddr:  e.VAddr,
		Frame:  frame,
		Slot:   tracing.NoSlot,
		Detail: source.String(),
	})

	return true
}

// EvictPage moves a resident page out of its frame. Anonymous pages always go
// to swap. File-backed pages are written back only if dirty.
func (t *Table) EvictPage(vAddr uint64, frame vm.Frame) {
	t.frames.MustHoldLock()

	e := t.mustGet(vAddr)
	if e.State != Resident || e.Frame != frame {
		t.fatalf("page 0x%x is not resident in frame %d", vAddr, frame)
	}

	t.space.ClearMapping(e.VAddr)

	if e.IsFileBacked() {
		if t.isDirty(e) {
			t.writeBack(e)
		}

		e.State = InFile
	} else {
		e.Slot = t.swap.Out(t.machine.FrameData(frame))
		e.State = InSwap
	}

	e.Frame = 0

	t.log.WithFields(logrus.Fields{
		"vaddr": e.VAddr,
		"frame": frame,
		"to":    e.State,
	}).Debug("page evicted")
}

// Destroy releases the frames and swap slots of every page. Mapped files
// must have been unmapped before.
func (t *Table) Destroy() {
	t.frames.MustHoldLock()

	t.entries.Ascend(func(e *Entry) bool {
		if e.Origin == OriginMmap {
			t.fatalf("page 0x%x is still mapped to a file", e.VAddr)
		}

		return true
	})

	t.entries.Ascend(func(e *Entry) bool {
		switch e.State {
		case Resident:
			t.space.ClearMapping(e.VAddr)
			t.frames.Free(e.Frame, true)
		case InSwap:
			t.swap.Free(e.Slot)
		}

		return true
	})

	t.entries.Clear(false)
}

func (t *Table) readFile(e *Entry, data []byte) {
	n, err := e.File.ReadAt(data[:e.Length], e.Offset)
	if n != e.Length {
		t.fatalf("reading page 0x%x from file: got %d of %d bytes: %v",
			e.VAddr, n, e.Length, err)
	}

	clear(data[e.Length:])
}

func (t *Table) writeBack(e *Entry) {
	data := t.machine.FrameData(e.Frame)

	n, err := e.File.WriteAt(data[:e.Length], e.Offset)
	if err != nil || n != e.Length {
		t.fatalf("writing page 0x%x back to file: wrote %d of %d bytes: %v",
			e.VAddr, n, e.Length, err)
	}

	t.log.WithFields(logrus.Fields{
		"vaddr":  e.VAddr,
		"offset": e.Offset,
		"length": e.Length,
	}).Debug("page written back")
	tracing.Notify(t, tracing.HookPosPageWriteBack, tracing.Event{
		PID:    t.pid,
		VAddr:  e.VAddr,
		Frame:  e.Frame,
		Slot:   tracing.NoSlot,
		Detail: fmt.Sprintf("offset=%d length=%d", e.Offset, e.Length),
	})
}

// isDirty checks both the user mapping and the kernel alias of the frame.
func (t *Table) isDirty(e *Entry) bool {
	return t.space.IsDirty(e.VAddr) ||
		t.machine.KernelSpace().IsDirty(e.Frame.KernelAddr())
}

func (t *Table) clearBits(vAddr uint64, frame vm.Frame) {
	kernel := t.machine.KernelSpace()
	kAddr := frame.KernelAddr()

	t.space.ClearAccessed(vAddr)
	t.space.ClearDirty(vAddr)
	kernel.ClearAccessed(kAddr)
	kernel.ClearDirty(kAddr)
}

func (t *Table) mustGet(vAddr uint64) *Entry {
	e, found := t.entries.Get(&Entry{VAddr: vm.PageAlign(vAddr)})
	if !found {
		t.fatalf("page 0x%x is not in the supplemental page table", vAddr)
	}

	return e
}

func (t *Table) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.log.Error(msg)
	panic(msg)
}
