package memory

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmsim/mem/vm"
	"gvisor.dev/gvisor/pkg/bitmap"
)

// A FramePool hands out the physical frames of the user pool. It only tracks
// which frame numbers are in use; the frame contents live in a Storage.
type FramePool struct {
	sync.Mutex
	numFrames uint32
	used      bitmap.Bitmap
}

// NewFramePool creates a pool of numFrames frames, numbered from 0.
func NewFramePool(numFrames uint32) *FramePool {
	if numFrames == 0 {
		panic("frame pool must have at least one frame")
	}

	return &FramePool{
		numFrames: numFrames,
		used:      bitmap.New(numFrames),
	}
}

// Allocate takes the lowest free frame. It returns false if the pool is
// exhausted.
func (p *FramePool) Allocate() (vm.Frame, bool) {
	p.Lock()
	defer p.Unlock()

	bit, err := p.used.FirstZero(0)
	if err != nil || bit >= p.numFrames {
		return 0, false
	}

	p.used.Add(bit)

	return vm.Frame(bit), true
}

// Free returns a frame to the pool.
func (p *FramePool) Free(frame vm.Frame) {
	p.Lock()
	defer p.Unlock()

	if !p.isUsed(frame) {
		panic(fmt.Sprintf("freeing frame %d that is not allocated", frame))
	}

	p.used.Remove(uint32(frame))
}

// IsAllocated tells if a frame is currently handed out.
func (p *FramePool) IsAllocated(frame vm.Frame) bool {
	p.Lock()
	defer p.Unlock()

	return p.isUsed(frame)
}

func (p *FramePool) isUsed(frame vm.Frame) bool {
	if uint64(frame) >= uint64(p.numFrames) {
		return false
	}

	bit, err := p.used.FirstOne(uint32(frame))

	return err == nil && bit == uint32(frame)
}

// NumFrames returns the size of the pool.
func (p *FramePool) NumFrames() int {
	return int(p.numFrames)
}

// NumFree returns the number of frames that can still be allocated.
func (p *FramePool) NumFree() int {
	p.Lock()
	defer p.Unlock()

	return int(p.numFrames - p.used.GetNumOnes())
}
