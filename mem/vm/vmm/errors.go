package vmm

import "errors"

// Errors returned to the callers of the kernel. Any other failure halts the
// system.
var (
	// ErrSegmentationFault is returned when a process touches a page that it
	// does not own, or writes to a read-only page.
	ErrSegmentationFault = errors.New("segmentation fault")

	// ErrInvalidAddress is returned when an address or a range is not
	// acceptable for the operation.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidFile is returned when a file cannot be mapped.
	ErrInvalidFile = errors.New("invalid file")

	// ErrOverlap is returned when a range collides with pages that already
	// exist.
	ErrOverlap = errors.New("range overlaps existing pages")
)
