package spt

import (
	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/frametable"
	"github.com/sarchlab/vmsim/mem/vm/swap"
)

// A Builder can build supplemental page tables.
type Builder struct {
	pid     vm.PID
	space   vm.AddressSpace
	machine vm.Machine
	frames  *frametable.Table
	swap    *swap.Manager
	log     logrus.FieldLogger
}

// MakeBuilder creates a new builder
func MakeBuilder() Builder {
	return Builder{
		log: logrus.StandardLogger(),
	}
}

// WithPID sets the process that owns the table.
func (b Builder) WithPID(pid vm.PID) Builder {
	b.pid = pid
	return b
}

// WithAddressSpace sets the page directory of the process.
func (b Builder) WithAddressSpace(space vm.AddressSpace) Builder {
	b.space = space
	return b
}

// WithMachine sets the machine that holds the frames.
func (b Builder) WithMachine(machine vm.Machine) Builder {
	b.machine = machine
	return b
}

// WithFrameTable sets the frame table that the pages are loaded through.
func (b Builder) WithFrameTable(frames *frametable.Table) Builder {
	b.frames = frames
	return b
}

// WithSwap sets the swap manager that anonymous pages are evicted to.
func (b Builder) WithSwap(swap *swap.Manager) Builder {
	b.swap = swap
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(log logrus.FieldLogger) Builder {
	b.log = log
	return b
}

// Build creates an empty table.
func (b Builder) Build(name string) *Table {
	if b.space == nil || b.machine == nil || b.frames == nil || b.swap == nil {
		panic("supplemental page table requires an address space, " +
			"a machine, a frame table and a swap manager")
	}

	return &Table{
		name:    name,
		log:     b.log.WithFields(logrus.Fields{"component": name, "pid": b.pid}),
		pid:     b.pid,
		space:   b.space,
		machine: b.machine,
		frames:  b.frames,
		swap:    b.swap,
		entries: btree.NewG(16, lessEntry),
	}
}
