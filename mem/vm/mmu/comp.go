// Package mmu models the hardware that the virtual memory managers run on:
// physical memory, page directories, and the translation that sets the
// accessed and dirty bits.
package mmu

import (
	"fmt"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/memory"
)

// Comp is the machine. Its physical memory is made of NumFrames frames. The
// kernel directory maps every frame at Frame.KernelAddr.
type Comp struct {
	name      string
	numFrames uint64
	storage   *memory.Storage
	kernel    *PageDirectory
}

// Name returns the name of the machine.
func (c *Comp) Name() string {
	return c.name
}

// NumFrames returns the number of physical frames.
func (c *Comp) NumFrames() int {
	return int(c.numFrames)
}

// FrameData returns the bytes of a frame without going through any page
// directory.
func (c *Comp) FrameData(frame vm.Frame) []byte {
	if uint64(frame) >= c.numFrames {
		panic(fmt.Sprintf("frame %d does not exist", frame))
	}

	unit, err := c.storage.Unit(uint64(frame) << vm.Log2PageSize)
	if err != nil {
		panic(err)
	}

	return unit
}

// KernelSpace returns the kernel directory.
func (c *Comp) KernelSpace() vm.AddressSpace {
	return c.kernel
}

// NewAddressSpace creates an empty user page directory.
func (c *Comp) NewAddressSpace(pid vm.PID) *PageDirectory {
	return NewPageDirectory(pid)
}

// Read copies len(buf) bytes at vAddr through a user page directory. It stops
// at the first page that faults and returns the number of bytes copied.
func (c *Comp) Read(dir *PageDirectory, vAddr uint64, buf []byte) (int, error) {
	return c.access(dir, vAddr, buf, false, true)
}

// Write copies data to vAddr through a user page directory. It stops at the
// first page that faults and returns the number of bytes copied.
func (c *Comp) Write(dir *PageDirectory, vAddr uint64, data []byte) (int, error) {
	return c.access(dir, vAddr, data, true, true)
}

// KernelRead reads through the kernel alias of the frames.
func (c *Comp) KernelRead(kAddr uint64, buf []byte) (int, error) {
	return c.access(c.kernel, kAddr, buf, false, false)
}

// KernelWrite writes through the kernel alias of the frames.
func (c *Comp) KernelWrite(kAddr uint64, data []byte) (int, error) {
	return c.access(c.kernel, kAddr, data, true, false)
}

func (c *Comp) access(
	dir *PageDirectory,
	addr uint64,
	buf []byte,
	write bool,
	user bool,
) (int, error) {
	done := 0

	for done < len(buf) {
		curr := addr + uint64(done)
		if vm.IsUserAddr(curr) != user {
			return done, &PageFault{Addr: curr, Write: write, NotPresent: true}
		}

		offset := vm.PageOffset(curr)
		n := min(uint64(len(buf)-done), vm.PageSize-offset)

		err := c.accessPage(dir, curr, buf[done:done+int(n)], write)
		if err != nil {
			return done, err
		}

		done += int(n)
	}

	return done, nil
}

// accessPage translates and copies under the directory lock so that an
// access never overlaps with the page being unmapped.
func (c *Comp) accessPage(
	dir *PageDirectory,
	addr uint64,
	buf []byte,
	write bool,
) error {
	dir.Lock()
	defer dir.Unlock()

	frame, err := dir.translate(addr, write)
	if err != nil {
		return err
	}

	data := c.FrameData(frame)
	offset := vm.PageOffset(addr)

	if write {
		copy(data[offset:], buf)
	} else {
		copy(buf, data[offset:])
	}

	return nil
}
