package swap

import (
	"github.com/sirupsen/logrus"
	"gvisor.dev/gvisor/pkg/bitmap"

	"github.com/sarchlab/vmsim/mem/vm"
)

// A Builder can build swap managers.
type Builder struct {
	device BlockDevice
	log    logrus.FieldLogger
}

// MakeBuilder creates a new builder
func MakeBuilder() Builder {
	return Builder{
		log: logrus.StandardLogger(),
	}
}

// WithDevice sets the block device that holds the slots.
func (b Builder) WithDevice(device BlockDevice) Builder {
	b.device = device
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(log logrus.FieldLogger) Builder {
	b.log = log
	return b
}

// Build creates a manager with all the slots free.
func (b Builder) Build(name string) *Manager {
	if b.device == nil {
		panic("swap manager requires a block device")
	}

	numSlots := b.device.NumSectors() / vm.SectorsPerPage
	if numSlots == 0 {
		panic("swap device cannot hold a single page")
	}

	return &Manager{
		name:     name,
		log:      b.log.WithField("component", name),
		device:   b.device,
		numSlots: uint32(numSlots),
		used:     bitmap.New(uint32(numSlots)),
	}
}
