package mmu

import (
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/memory"
)

// A Builder can build the machine.
type Builder struct {
	numFrames uint64
}

// MakeBuilder creates a new builder
func MakeBuilder() Builder {
	return Builder{
		numFrames: 256,
	}
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = uint64(n)
	return b
}

// Build returns a newly created machine.
func (b Builder) Build(name string) *Comp {
	if b.numFrames == 0 {
		panic("machine must have at least one frame")
	}

	c := &Comp{
		name:      name,
		numFrames: b.numFrames,
		storage:   memory.NewStorage(b.numFrames << vm.Log2PageSize),
	}

	c.kernel = NewPageDirectory(0)
	for f := uint64(0); f < b.numFrames; f++ {
		frame := vm.Frame(f)
		c.kernel.SetMapping(frame.KernelAddr(), frame, true)
	}

	return c
}
