package mmu

import (
	"sync"

	"github.com/sarchlab/vmsim/mem/vm"
)

type pte struct {
	frame    vm.Frame
	present  bool
	writable bool
	accessed bool
	dirty    bool
}

// A PageDirectory holds the page table entries of one address space. The
// accessed and dirty bits are set by the Comp on every access that goes
// through the directory.
type PageDirectory struct {
	sync.Mutex
	pid     vm.PID
	entries map[uint64]*pte
}

// NewPageDirectory creates an empty page directory.
func NewPageDirectory(pid vm.PID) *PageDirectory {
	return &PageDirectory{
		pid:     pid,
		entries: make(map[uint64]*pte),
	}
}

// PID returns the process that owns the directory.
func (d *PageDirectory) PID() vm.PID {
	return d.pid
}

// SetMapping maps the page that contains vAddr to the frame with the accessed
// and dirty bits cleared. It returns false if the page is already present.
func (d *PageDirectory) SetMapping(
	vAddr uint64,
	frame vm.Frame,
	writable bool,
) bool {
	d.Lock()
	defer d.Unlock()

	vAddr = vm.PageAlign(vAddr)

	e, found := d.entries[vAddr]
	if found && e.present {
		return false
	}

	d.entries[vAddr] = &pte{
		frame:    frame,
		present:  true,
		writable: writable,
	}

	return true
}

// ClearMapping marks the page not present. The accessed and dirty bits are
// kept until the page is mapped again.
func (d *PageDirectory) ClearMapping(vAddr uint64) {
	d.Lock()
	defer d.Unlock()

	e, found := d.entries[vm.PageAlign(vAddr)]
	if found {
		e.present = false
	}
}

// QueryMapping returns the frame that a present page is mapped to.
func (d *PageDirectory) QueryMapping(vAddr uint64) (vm.Frame, bool) {
	d.Lock()
	defer d.Unlock()

	e, found := d.entries[vm.PageAlign(vAddr)]
	if !found || !e.present {
		return 0, false
	}

	return e.frame, true
}

// IsWritable tells if a present page can be written.
func (d *PageDirectory) IsWritable(vAddr uint64) bool {
	d.Lock()
	defer d.Unlock()

	e, found := d.entries[vm.PageAlign(vAddr)]

	return found && e.present && e.writable
}

// IsAccessed returns the accessed bit of the page.
func (d *PageDirectory) IsAccessed(vAddr uint64) bool {
	d.Lock()
	defer d.Unlock()

	e, found := d.entries[vm.PageAlign(vAddr)]

	return found && e.accessed
}

// IsDirty returns the dirty bit of the page.
func (d *PageDirectory) IsDirty(vAddr uint64) bool {
	d.Lock()
	defer d.Unlock()

	e, found := d.entries[vm.PageAlign(vAddr)]

	return found && e.dirty
}

// ClearAccessed resets the accessed bit of the page.
func (d *PageDirectory) ClearAccessed(vAddr uint64) {
	d.Lock()
	defer d.Unlock()

	e, found := d.entries[vm.PageAlign(vAddr)]
	if found {
		e.accessed = false
	}
}

// ClearDirty resets the dirty bit of the page.
func (d *PageDirectory) ClearDirty(vAddr uint64) {
	d.Lock()
	defer d.Unlock()

	e, found := d.entries[vm.PageAlign(vAddr)]
	if found {
		e.dirty = false
	}
}

// NumPresent returns the number of pages currently mapped.
func (d *PageDirectory) NumPresent() int {
	d.Lock()
	defer d.Unlock()

	n := 0
	for _, e := range d.entries {
		if e.present {
			n++
		}
	}

	return n
}

// translate walks the directory the way the hardware does. The caller must
// hold the directory lock.
func (d *PageDirectory) translate(vAddr uint64, write bool) (vm.Frame, error) {
	e, found := d.entries[vm.PageAlign(vAddr)]
	if !found || !e.present {
		return 0, &PageFault{Addr: vAddr, Write: write, NotPresent: true}
	}

	if write && !e.writable {
		return 0, &PageFault{Addr: vAddr, Write: write}
	}

	e.accessed = true
	if write {
		e.dirty = true
	}

	return e.frame, nil
}
