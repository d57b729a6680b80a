// Package vm defines the types and collaborator interfaces shared by the
// virtual memory managers.
package vm

// PID stands for Process ID.
type PID uint32

// A Frame is the number of a physical frame.
type Frame uint64

const (
	// Log2PageSize is the log2 of the only page size supported.
	Log2PageSize = 12

	// PageSize is the number of bytes in a page and in a frame.
	PageSize = 1 << Log2PageSize

	// SectorSize is the number of bytes in a block device sector.
	SectorSize = 512

	// SectorsPerPage is the number of sectors needed to hold one page.
	SectorsPerPage = PageSize / SectorSize

	// UserTop is the first address that is not user space. Every physical
	// frame is aliased in kernel space starting from this address.
	UserTop uint64 = 0xc0000000
)

// KernelAddr returns the kernel virtual address that aliases the frame.
func (f Frame) KernelAddr() uint64 {
	return UserTop + uint64(f)<<Log2PageSize
}

// FrameFromKernelAddr returns the frame aliased by a kernel virtual address.
func FrameFromKernelAddr(kAddr uint64) Frame {
	if kAddr < UserTop {
		panic("not a kernel address")
	}

	return Frame((kAddr - UserTop) >> Log2PageSize)
}

// PageAlign rounds addr down to the start of its page.
func PageAlign(addr uint64) uint64 {
	return (addr >> Log2PageSize) << Log2PageSize
}

// PageOffset returns the offset of addr within its page.
func PageOffset(addr uint64) uint64 {
	return addr & (PageSize - 1)
}

// IsPageAligned tells if addr is the start of a page.
func IsPageAligned(addr uint64) bool {
	return PageOffset(addr) == 0
}

// IsUserAddr tells if addr is below kernel space.
func IsUserAddr(addr uint64) bool {
	return addr < UserTop
}

// NumPages returns the number of pages needed to hold size bytes.
func NumPages(size uint64) uint64 {
	return (size + PageSize - 1) >> Log2PageSize
}
