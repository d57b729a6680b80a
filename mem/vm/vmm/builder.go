package vmm

import (
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/frametable"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/mem/vm/swap"
	"github.com/sarchlab/vmsim/memory"
)

// A Builder can build kernels.
type Builder struct {
	numFrames  int
	swapDevice swap.BlockDevice
	log        logrus.FieldLogger
}

// MakeBuilder creates a new builder with 64 frames and an in-memory swap
// device of 256 pages.
func MakeBuilder() Builder {
	return Builder{
		numFrames: 64,
		log:       logrus.StandardLogger(),
	}
}

// WithNumFrames sets the number of physical frames in the user pool.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithSwapDevice sets the block device used for swap.
func (b Builder) WithSwapDevice(device swap.BlockDevice) Builder {
	b.swapDevice = device
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(log logrus.FieldLogger) Builder {
	b.log = log
	return b
}

// Build boots a kernel.
func (b Builder) Build(name string) *Kernel {
	if b.numFrames <= 0 {
		panic("kernel requires at least one frame")
	}

	device := b.swapDevice
	if device == nil {
		device = swap.NewMemoryDevice(256 * vm.SectorsPerPage)
	}

	machine := mmu.MakeBuilder().
		WithNumFrames(b.numFrames).
		Build(name + ".Machine")

	frames := frametable.MakeBuilder().
		WithMachine(machine).
		WithFramePool(memory.NewFramePool(uint32(b.numFrames))).
		WithLogger(b.log).
		Build(name + ".FrameTable")

	swapper := swap.MakeBuilder().
		WithDevice(device).
		WithLogger(b.log).
		Build(name + ".Swap")

	k := &Kernel{
		name:      name,
		log:       b.log.WithField("component", name),
		machine:   machine,
		frames:    frames,
		swap:      swapper,
		processes: make(map[vm.PID]*Process),
	}

	k.log.WithFields(logrus.Fields{
		"frames":     b.numFrames,
		"swap_slots": swapper.NumSlots(),
	}).Info("kernel booted")

	return k
}
