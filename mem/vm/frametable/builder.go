package frametable

import (
	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/memory"
)

// A Builder can build frame tables.
type Builder struct {
	machine vm.Machine
	pool    *memory.FramePool
	log     logrus.FieldLogger
}

// MakeBuilder creates a new builder
func MakeBuilder() Builder {
	return Builder{
		log: logrus.StandardLogger(),
	}
}

// WithMachine sets the machine whose frames are managed.
func (b Builder) WithMachine(machine vm.Machine) Builder {
	b.machine = machine
	return b
}

// WithFramePool sets the pool that the frames are allocated from.
func (b Builder) WithFramePool(pool *memory.FramePool) Builder {
	b.pool = pool
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(log logrus.FieldLogger) Builder {
	b.log = log
	return b
}

// Build creates an empty frame table.
func (b Builder) Build(name string) *Table {
	if b.machine == nil {
		panic("frame table requires a machine")
	}

	if b.pool == nil {
		panic("frame table requires a frame pool")
	}

	return &Table{
		name:    name,
		log:     b.log.WithField("component", name),
		machine: b.machine,
		pool:    b.pool,
		entries: btree.NewG(32, lessEntry),
	}
}
