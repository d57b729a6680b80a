package tracing

import (
	"sync"

	"github.com/sarchlab/vmsim/datarecording"
	"github.com/sarchlab/vmsim/sim/hooking"
)

// EventTableName is the table that DBTracer writes into.
const EventTableName = "paging_events"

type eventTableEntry struct {
	ID       string
	Time     int64
	Location string
	What     string
	PID      uint32
	VAddr    uint64
	Frame    uint64
	Slot     int64
	Detail   string
}

// DBTracer is a tracer that stores events into a data recorder.
type DBTracer struct {
	mu      sync.Mutex
	filter  EventFilter
	backend datarecording.DataRecorder
	count   uint64
}

// NewDBTracer creates a new DBTracer and the table it writes into. A nil
// filter accepts every event.
func NewDBTracer(
	backend datarecording.DataRecorder,
	filter EventFilter,
) *DBTracer {
	backend.CreateTable(EventTableName, eventTableEntry{})

	return &DBTracer{
		backend: backend,
		filter:  filter,
	}
}

// Func records the event carried by the hook context.
func (t *DBTracer) Func(ctx hooking.HookCtx) {
	event, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	if t.filter != nil && !t.filter(event) {
		return
	}

	entry := eventTableEntry{
		ID:       event.ID,
		Time:     event.Time.UnixNano(),
		Location: event.Where,
		What:     event.What,
		PID:      uint32(event.PID),
		VAddr:    event.VAddr,
		Frame:    uint64(event.Frame),
		Slot:     event.Slot,
		Detail:   event.Detail,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.backend.InsertData(EventTableName, entry)
	t.count++
}

// NumRecorded returns the number of events handed to the backend.
func (t *DBTracer) NumRecorded() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.count
}

// Terminate flushes the buffered events.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.backend.Flush()
}
