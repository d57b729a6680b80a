package tracing

import (
	"time"

	"github.com/sarchlab/vmsim/mem/vm"
)

// NoSlot marks an event that does not involve a swap slot.
const NoSlot = -1

// An Event is something that happened to a page, a frame, or a swap slot.
type Event struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Where  string    `json:"where"`
	What   string    `json:"what"`
	PID    vm.PID    `json:"pid"`
	VAddr  uint64    `json:"vaddr"`
	Frame  vm.Frame  `json:"frame"`
	Slot   int64     `json:"slot"`
	Detail string    `json:"detail,omitempty"`
}

// EventFilter is a function that can filter interesting events. If this
// function returns true, the event is considered useful.
type EventFilter func(e Event) bool
