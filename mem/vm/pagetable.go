package vm

// An AddressSpace is the hardware page directory of one address space. The
// MMU sets the accessed and dirty bits while the kernel reads and clears them,
// so implementations must be safe for concurrent use.
type AddressSpace interface {
	// SetMapping maps the page that contains vAddr to the frame. It returns
	// false if the page is already mapped.
	SetMapping(vAddr uint64, frame Frame, writable bool) bool

	// ClearMapping marks the page not present. The accessed and dirty bits
	// remain readable until the page is mapped again.
	ClearMapping(vAddr uint64)

	// QueryMapping returns the frame that the page is mapped to.
	QueryMapping(vAddr uint64) (Frame, bool)

	IsAccessed(vAddr uint64) bool
	IsDirty(vAddr uint64) bool
	ClearAccessed(vAddr uint64)
	ClearDirty(vAddr uint64)
}

// A Machine exposes the physical memory and the kernel's own mapping of it.
type Machine interface {
	// FrameData returns the bytes of a frame. Writing to the returned slice
	// does not touch any accessed or dirty bit.
	FrameData(frame Frame) []byte

	// KernelSpace returns the address space that aliases every frame at
	// Frame.KernelAddr.
	KernelSpace() AddressSpace
}

// A File is an open file of the file system.
type File interface {
	// Reopen returns a new independent handle to the same file.
	Reopen() (File, error)

	Close() error

	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)

	// Length returns the size of the file in bytes.
	Length() int64
}
