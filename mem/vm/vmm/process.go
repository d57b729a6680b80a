package vmm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/frametable"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/mem/vm/spt"
	"github.com/sarchlab/vmsim/tracing"
)

// A Process is a user address space. Its methods are meant to be called from
// the goroutine that runs the process.
type Process struct {
	kernel *Kernel
	pid    vm.PID
	name   string
	log    logrus.FieldLogger
	dir    *mmu.PageDirectory
	table  *spt.Table

	lock       sync.Mutex
	mappings   map[int]*Mapping
	executable vm.File
	exited     bool
}

// PID returns the process ID.
func (p *Process) PID() vm.PID {
	return p.pid
}

// Name returns the name the process was spawned with.
func (p *Process) Name() string {
	return p.name
}

// PageDirectory returns the hardware page directory of the process.
func (p *Process) PageDirectory() *mmu.PageDirectory {
	return p.dir
}

// Pages returns every page the process owns, ordered by address.
func (p *Process) Pages() []spt.Entry {
	return p.table.Snapshot()
}

// Page returns the page that contains vAddr.
func (p *Process) Page(vAddr uint64) (spt.Entry, bool) {
	frames := p.kernel.frames

	frames.Lock()
	defer frames.Unlock()

	return p.table.Get(vAddr)
}

// HandleFault resolves a fault at addr. It returns ErrSegmentationFault if
// the process has no page there, or if it writes to a read-only page.
func (p *Process) HandleFault(addr uint64, write bool) error {
	tracing.Notify(p.kernel, tracing.HookPosPageFault, tracing.Event{
		PID:   p.pid,
		VAddr: addr,
		Slot:  tracing.NoSlot,
	})

	if !vm.IsUserAddr(addr) {
		return fmt.Errorf("%w: kernel address 0x%x", ErrSegmentationFault, addr)
	}

	frames := p.kernel.frames

	frames.Lock()
	defer frames.Unlock()

	e, found := p.table.Get(addr)
	if !found {
		return fmt.Errorf("%w: no page at 0x%x", ErrSegmentationFault, addr)
	}

	if write && !e.Writable {
		return fmt.Errorf("%w: write to read-only page 0x%x",
			ErrSegmentationFault, addr)
	}

	// A false return means the page is already mapped. The access is
	// retried either way.
	p.table.Load(addr)

	return nil
}

// Load reads user memory the way the process's instructions would, handling
// the page faults on the way.
func (p *Process) Load(vAddr uint64, buf []byte) error {
	return p.userAccess(vAddr, buf, false)
}

// Store writes user memory the way the process's instructions would, handling
// the page faults on the way.
func (p *Process) Store(vAddr uint64, data []byte) error {
	return p.userAccess(vAddr, data, true)
}

func (p *Process) userAccess(vAddr uint64, buf []byte, write bool) error {
	machine := p.kernel.machine
	done := 0

	for done < len(buf) {
		var (
			n   int
			err error
		)

		if write {
			n, err = machine.Write(p.dir, vAddr+uint64(done), buf[done:])
		} else {
			n, err = machine.Read(p.dir, vAddr+uint64(done), buf[done:])
		}

		done += n
		if err == nil {
			continue
		}

		var fault *mmu.PageFault
		if !errors.As(err, &fault) {
			return err
		}

		if !fault.NotPresent {
			return fmt.Errorf("%w: %v", ErrSegmentationFault, fault)
		}

		if err := p.HandleFault(fault.Addr, fault.Write); err != nil {
			return err
		}
	}

	return nil
}

// SetupStack installs a zeroed page right below the kernel and returns the
// initial stack pointer.
func (p *Process) SetupStack() (uint64, error) {
	vAddr := vm.UserTop - vm.PageSize

	frames := p.kernel.frames

	frames.Lock()
	defer frames.Unlock()

	if err := p.installZeroPage(vAddr); err != nil {
		return 0, err
	}

	return vm.UserTop, nil
}

// MapAnonymous installs numPages zeroed pages starting from vAddr.
func (p *Process) MapAnonymous(vAddr uint64, numPages int) error {
	end, err := checkRange(vAddr, uint64(numPages)*vm.PageSize)
	if err != nil {
		return err
	}

	frames := p.kernel.frames

	frames.Lock()
	defer frames.Unlock()

	if p.table.HasAnyInRange(vAddr, end) {
		return fmt.Errorf("%w: [0x%x, 0x%x)", ErrOverlap, vAddr, end)
	}

	for addr := vAddr; addr < end; addr += vm.PageSize {
		if err := p.installZeroPage(addr); err != nil {
			return err
		}
	}

	return nil
}

// installZeroPage must be called with the frame table locked.
func (p *Process) installZeroPage(vAddr uint64) error {
	frames := p.kernel.frames

	frame := frames.Allocate(frametable.AllocZero, p.table, vAddr)

	if !p.dir.SetMapping(vAddr, frame, true) {
		frames.Free(frame, true)
		return fmt.Errorf("%w: 0x%x is already mapped", ErrOverlap, vAddr)
	}

	if !p.table.SetResident(vAddr, frame, true) {
		p.dir.ClearMapping(vAddr)
		frames.Free(frame, true)

		return fmt.Errorf("%w: 0x%x is already in use", ErrOverlap, vAddr)
	}

	p.clearKernelBits(frame)
	frames.Unpin(frame)

	return nil
}

// clearKernelBits resets the kernel alias of a fresh frame so that a previous
// owner's accesses are not counted against the new page.
func (p *Process) clearKernelBits(frame vm.Frame) {
	kernel := p.kernel.machine.KernelSpace()
	kAddr := frame.KernelAddr()

	kernel.ClearAccessed(kAddr)
	kernel.ClearDirty(kAddr)
}

// LoadSegment maps a segment of an executable. readBytes bytes come from the
// file at offset and are followed by zeroBytes zeros. Read-only pages are
// loaded lazily from the file. Writable pages are loaded right away into
// anonymous pages so that the executable is never written.
func (p *Process) LoadSegment(
	file vm.File,
	offset int64,
	vAddr uint64,
	readBytes, zeroBytes int,
	writable bool,
) error {
	if file == nil {
		return ErrInvalidFile
	}

	if readBytes < 0 || zeroBytes < 0 ||
		(readBytes+zeroBytes)%vm.PageSize != 0 ||
		offset%vm.PageSize != 0 {
		return fmt.Errorf("%w: segment is not page aligned", ErrInvalidAddress)
	}

	end, err := checkRange(vAddr, uint64(readBytes+zeroBytes))
	if err != nil {
		return err
	}

	for addr := vAddr; addr < end; addr += vm.PageSize {
		pageRead := min(readBytes, vm.PageSize)

		if writable {
			err = p.loadPageEagerly(file, offset, addr, pageRead)
		} else {
			err = p.registerPageLazily(file, offset, addr, pageRead)
		}

		if err != nil {
			return err
		}

		readBytes -= pageRead
		offset += int64(pageRead)
	}

	return nil
}

func (p *Process) registerPageLazily(
	file vm.File,
	offset int64,
	vAddr uint64,
	length int,
) error {
	frames := p.kernel.frames

	frames.Lock()
	defer frames.Unlock()

	if !p.table.SetFileBacked(vAddr, file, offset, length, spt.OriginExecutable) {
		return fmt.Errorf("%w: 0x%x is already in use", ErrOverlap, vAddr)
	}

	return nil
}

// loadPageEagerly reads the file while the frame is pinned but the frame
// table is unlocked.
func (p *Process) loadPageEagerly(
	file vm.File,
	offset int64,
	vAddr uint64,
	length int,
) error {
	frames := p.kernel.frames

	frames.Lock()
	frame := frames.Allocate(frametable.AllocZero, p.table, vAddr)
	frames.Unlock()

	data := p.kernel.machine.FrameData(frame)
	n, readErr := file.ReadAt(data[:length], offset)

	frames.Lock()
	defer frames.Unlock()

	if n != length {
		frames.Free(frame, true)
		return fmt.Errorf("%w: read %d of %d bytes: %v",
			ErrInvalidFile, n, length, readErr)
	}

	if !p.dir.SetMapping(vAddr, frame, true) {
		frames.Free(frame, true)
		return fmt.Errorf("%w: 0x%x is already mapped", ErrOverlap, vAddr)
	}

	if !p.table.SetResident(vAddr, frame, true) {
		p.dir.ClearMapping(vAddr)
		frames.Free(frame, true)

		return fmt.Errorf("%w: 0x%x is already in use", ErrOverlap, vAddr)
	}

	p.clearKernelBits(frame)
	frames.Unpin(frame)

	return nil
}

// SetExecutable attaches the file the process runs from. It stays open until
// the process exits.
func (p *Process) SetExecutable(file vm.File) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.executable = file
}

// Exit unmaps every mapping, releases every page and closes the executable.
func (p *Process) Exit() {
	p.lock.Lock()
	if p.exited {
		p.lock.Unlock()
		p.kernel.fatalf("process %d exited twice", p.pid)
	}
	p.exited = true
	p.lock.Unlock()

	for _, m := range p.Mappings() {
		p.Munmap(m.ID)
	}

	frames := p.kernel.frames
	frames.Lock()
	p.table.Destroy()
	frames.Unlock()

	if p.executable != nil {
		if err := p.executable.Close(); err != nil {
			p.log.WithError(err).Warn("closing executable")
		}
	}

	p.kernel.removeProcess(p.pid)

	p.log.Info("process exited")
}

// checkRange returns the end of [vAddr, vAddr+size) if the range is page
// aligned and lies in user space.
func checkRange(vAddr, size uint64) (uint64, error) {
	if vAddr == 0 || !vm.IsPageAligned(vAddr) {
		return 0, fmt.Errorf("%w: 0x%x", ErrInvalidAddress, vAddr)
	}

	end := vAddr + vm.NumPages(size)*vm.PageSize
	if end < vAddr || end > vm.UserTop {
		return 0, fmt.Errorf("%w: [0x%x, 0x%x) leaves user space",
			ErrInvalidAddress, vAddr, end)
	}

	return end, nil
}
