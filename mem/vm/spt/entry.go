package spt

import (
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/swap"
)

// State tells where the content of a page currently is.
type State int

// The states of a page.
const (
	Resident State = iota
	InSwap
	InFile
)

func (s State) String() string {
	switch s {
	case Resident:
		return "resident"
	case InSwap:
		return "swap"
	case InFile:
		return "file"
	default:
		return "unknown"
	}
}

// Origin tells why a page exists.
type Origin int

// The origins of a page. Anonymous pages live in frames and swap slots.
// Executable and mmap pages live in frames and files.
const (
	OriginAnonymous Origin = iota
	OriginExecutable
	OriginMmap
)

func (o Origin) String() string {
	switch o {
	case OriginAnonymous:
		return "anonymous"
	case OriginExecutable:
		return "executable"
	case OriginMmap:
		return "mmap"
	default:
		return "unknown"
	}
}

// An Entry describes one virtual page of a process.
type Entry struct {
	VAddr    uint64
	State    State
	Origin   Origin
	Writable bool

	// Frame is valid when the page is resident.
	Frame vm.Frame

	// Slot is valid when the page is in swap.
	Slot swap.Slot

	// File, Offset and Length are set for file-backed pages. Bytes of the
	// page beyond Length are zeros.
	File   vm.File
	Offset int64
	Length int
}

// IsFileBacked tells if the page is backed by a file.
func (e *Entry) IsFileBacked() bool {
	return e.File != nil
}

func lessEntry(a, b *Entry) bool {
	return a.VAddr < b.VAddr
}
