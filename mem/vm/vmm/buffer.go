package vmm

import (
	"fmt"
	"io"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/spt"
)

type pinnedPage struct {
	vAddr uint64
	frame vm.Frame
}

// A PinnedBuffer is a user buffer whose pages are resident and cannot be
// evicted. It is accessed through the kernel alias of the frames, so the
// frame table does not need to be locked.
type PinnedBuffer struct {
	process *Process
	vAddr   uint64
	size    int
	pages   []pinnedPage
}

// Size returns the number of bytes in the buffer.
func (b *PinnedBuffer) Size() int {
	return b.size
}

// PinBuffer makes every page of [vAddr, vAddr+size) resident and pins it. If
// write is true, the pages must be writable.
func (p *Process) PinBuffer(vAddr uint64, size int, write bool) (*PinnedBuffer, error) {
	buf := &PinnedBuffer{process: p, vAddr: vAddr, size: size}
	if size <= 0 {
		return buf, nil
	}

	end := vAddr + uint64(size)
	if !vm.IsUserAddr(vAddr) || end < vAddr || end > vm.UserTop {
		return nil, fmt.Errorf("%w: buffer at 0x%x", ErrInvalidAddress, vAddr)
	}

	frames := p.kernel.frames

	frames.Lock()
	defer frames.Unlock()

	for addr := vm.PageAlign(vAddr); addr < end; addr += vm.PageSize {
		frame, err := p.pinPage(addr, write)
		if err != nil {
			for _, page := range buf.pages {
				frames.Unpin(page.frame)
			}

			return nil, err
		}

		buf.pages = append(buf.pages, pinnedPage{vAddr: addr, frame: frame})
	}

	return buf, nil
}

// pinPage must be called with the frame table locked.
func (p *Process) pinPage(vAddr uint64, write bool) (vm.Frame, error) {
	e, found := p.table.Get(vAddr)
	if !found {
		return 0, fmt.Errorf("%w: no page at 0x%x", ErrSegmentationFault, vAddr)
	}

	if write && !e.Writable {
		return 0, fmt.Errorf("%w: buffer page 0x%x is read-only",
			ErrSegmentationFault, vAddr)
	}

	p.table.Load(vAddr)

	e, _ = p.table.Get(vAddr)
	if e.State != spt.Resident {
		p.kernel.fatalf("page 0x%x is not resident after loading", vAddr)
	}

	p.kernel.frames.Pin(e.Frame)

	return e.Frame, nil
}

// ReadAt copies from the buffer starting at off into dst.
func (b *PinnedBuffer) ReadAt(dst []byte, off int) (int, error) {
	return b.access(dst, off, false)
}

// WriteAt copies src into the buffer starting at off.
func (b *PinnedBuffer) WriteAt(src []byte, off int) (int, error) {
	return b.access(src, off, true)
}

func (b *PinnedBuffer) access(data []byte, off int, write bool) (int, error) {
	if off < 0 || off > b.size {
		return 0, io.EOF
	}

	machine := b.process.kernel.machine
	n := min(len(data), b.size-off)
	done := 0

	for done < n {
		addr := b.vAddr + uint64(off+done)
		page := b.pages[(vm.PageAlign(addr)-vm.PageAlign(b.vAddr))/vm.PageSize]
		kAddr := page.frame.KernelAddr() + vm.PageOffset(addr)
		chunk := min(n-done, int(vm.PageSize-vm.PageOffset(addr)))

		var err error
		if write {
			_, err = machine.KernelWrite(kAddr, data[done:done+chunk])
		} else {
			_, err = machine.KernelRead(kAddr, data[done:done+chunk])
		}

		if err != nil {
			return done, err
		}

		done += chunk
	}

	if n < len(data) {
		return done, io.EOF
	}

	return done, nil
}

// Unpin makes the pages evictable again.
func (b *PinnedBuffer) Unpin() {
	frames := b.process.kernel.frames

	frames.Lock()
	defer frames.Unlock()

	for _, page := range b.pages {
		frames.Unpin(page.frame)
	}

	b.pages = nil
}

// ReadFile reads size bytes of file at offset into the user buffer at vAddr.
// The file is read with the buffer pinned and the frame table unlocked.
func (p *Process) ReadFile(
	file vm.File,
	offset int64,
	vAddr uint64,
	size int,
) (int, error) {
	buf, err := p.PinBuffer(vAddr, size, true)
	if err != nil {
		return 0, err
	}
	defer buf.Unpin()

	data := make([]byte, size)

	n, err := file.ReadAt(data, offset)
	if err != nil && err != io.EOF {
		return 0, err
	}

	return buf.WriteAt(data[:n], 0)
}

// WriteFile writes size bytes of the user buffer at vAddr into file at
// offset.
func (p *Process) WriteFile(
	file vm.File,
	offset int64,
	vAddr uint64,
	size int,
) (int, error) {
	buf, err := p.PinBuffer(vAddr, size, false)
	if err != nil {
		return 0, err
	}
	defer buf.Unpin()

	data := make([]byte, size)
	if _, err := buf.ReadAt(data, 0); err != nil {
		return 0, err
	}

	return file.WriteAt(data, offset)
}
