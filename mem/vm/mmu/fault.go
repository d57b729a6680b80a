package mmu

import "fmt"

// A PageFault is raised when an access cannot be translated.
type PageFault struct {
	Addr uint64
	// Write tells if the faulting access is a write.
	Write bool
	// NotPresent is false when the page is present but the access violates
	// its protection.
	NotPresent bool
}

func (f *PageFault) Error() string {
	access := "reading"
	if f.Write {
		access = "writing"
	}

	reason := "rights violation"
	if f.NotPresent {
		reason = "not present"
	}

	return fmt.Sprintf("page fault at 0x%x: %s error %s page", f.Addr, reason, access)
}
