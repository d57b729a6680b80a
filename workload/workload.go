// Package workload drives a kernel with synthetic processes that touch
// anonymous, executable, and memory-mapped pages and check what they read
// back.
package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/vmsim/config"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/vfile"
	"github.com/sarchlab/vmsim/mem/vm/vmm"
)

// The layout of the address space of every worker.
const (
	CodeBase = uint64(0x08048000)
	HeapBase = uint64(0x10000000)
	MmapBase = uint64(0x40000000)

	codePages = 2
)

// ErrCorrupted is returned when a worker reads back something other than what
// it wrote.
var ErrCorrupted = errors.New("memory corrupted")

// ErrTooLarge is returned when the workload cannot fit in memory and swap.
var ErrTooLarge = errors.New("workload does not fit in memory and swap")

// Progress receives the number of rounds that workers complete.
type Progress interface {
	IncrementFinished(amount uint64)
}

// Result summarizes a run.
type Result struct {
	Processes    int
	Rounds       int
	BytesChecked uint64
}

// Runner runs a workload on a kernel.
type Runner struct {
	kernel   *vmm.Kernel
	spec     config.Workload
	log      logrus.FieldLogger
	progress Progress

	bytesChecked atomic.Uint64
}

// NewRunner creates a Runner.
func NewRunner(kernel *vmm.Kernel, spec config.Workload) *Runner {
	return &Runner{
		kernel: kernel,
		spec:   spec,
		log:    logrus.StandardLogger(),
	}
}

// WithLogger sets the logger of the runner.
func (r *Runner) WithLogger(log logrus.FieldLogger) *Runner {
	r.log = log
	return r
}

// WithProgress reports every finished round to p.
func (r *Runner) WithProgress(p Progress) *Runner {
	r.progress = p
	return r
}

// TotalRounds returns the number of rounds the run will complete.
func (r *Runner) TotalRounds() uint64 {
	return uint64(r.spec.Processes * r.spec.Rounds)
}

// Run starts one goroutine per process and waits for all of them. The first
// error cancels the other workers.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if err := r.checkCapacity(); err != nil {
		return Result{}, err
	}

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < r.spec.Processes; i++ {
		w := &worker{
			runner: r,
			index:  i,
			rand:   rand.New(rand.NewPCG(uint64(r.spec.Seed), uint64(i))),
		}

		g.Go(func() error {
			defer w.haltOnPanic()
			return w.run(ctx)
		})
	}

	err := g.Wait()

	return Result{
		Processes:    r.spec.Processes,
		Rounds:       r.spec.Rounds,
		BytesChecked: r.bytesChecked.Load(),
	}, err
}

func (r *Runner) checkCapacity() error {
	// The stack and the anonymous pages of every process may all end up in
	// swap at the same time.
	needed := r.spec.Processes * (r.spec.AnonPages + 1)
	available := r.kernel.Swap().NumSlots() + r.kernel.Machine().NumFrames()

	if needed > available {
		return fmt.Errorf("%w: %d anonymous pages, room for %d",
			ErrTooLarge, needed, available)
	}

	return nil
}

type worker struct {
	runner  *Runner
	index   int
	rand    *rand.Rand
	process *vmm.Process

	code   []byte
	heap   []byte
	mapped *vfile.MemFile
	shadow []byte
}

func (w *worker) run(ctx context.Context) (err error) {
	r := w.runner
	w.process = r.kernel.Spawn(fmt.Sprintf("worker-%d", w.index))

	defer func() {
		if err != nil {
			err = fmt.Errorf("worker %d: %w", w.index, err)
		}

		w.process.Exit()
	}()

	if err := w.setup(); err != nil {
		return err
	}

	for round := 0; round < r.spec.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.round(); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}

		if r.progress != nil {
			r.progress.IncrementFinished(1)
		}
	}

	return w.teardown()
}

// haltOnPanic ends the program when a manager hits a fatal condition. The
// kernel cannot be used after that, so the other workers are not waited for.
func (w *worker) haltOnPanic() {
	if r := recover(); r != nil {
		w.runner.log.WithField("worker", w.index).Error(r)
		atexit.Fatalf("worker %d halted: %v", w.index, r)
	}
}

func (w *worker) setup() error {
	p := w.process
	spec := w.runner.spec

	w.code = w.randomBytes(codePages * vm.PageSize)
	exe := vfile.NewMemFile(p.Name()+".exe", w.code)

	err := p.LoadSegment(exe, 0, CodeBase, len(w.code), 0, false)
	if err != nil {
		return err
	}

	p.SetExecutable(exe)

	if _, err := p.SetupStack(); err != nil {
		return err
	}

	if spec.AnonPages > 0 {
		if err := p.MapAnonymous(HeapBase, spec.AnonPages); err != nil {
			return err
		}

		w.heap = make([]byte, spec.AnonPages*vm.PageSize)
	}

	if spec.MappedPages > 0 {
		w.shadow = w.randomBytes(spec.MappedPages * vm.PageSize)
		w.mapped = vfile.NewMemFile(p.Name()+".dat",
			append([]byte(nil), w.shadow...))

		if _, err := p.Mmap(w.mapped, MmapBase); err != nil {
			return err
		}
	}

	return nil
}

// round writes a random byte run into a random page of each region and reads
// every touched page back.
func (w *worker) round() error {
	if len(w.heap) > 0 {
		if err := w.touch(HeapBase, w.heap); err != nil {
			return err
		}
	}

	if len(w.shadow) > 0 {
		if err := w.touch(MmapBase, w.shadow); err != nil {
			return err
		}
	}

	return w.check(CodeBase, w.code)
}

func (w *worker) touch(base uint64, shadow []byte) error {
	numPages := len(shadow) / vm.PageSize
	page := w.rand.IntN(numPages)
	offset := page*vm.PageSize + w.rand.IntN(vm.PageSize/2)
	data := w.randomBytes(1 + w.rand.IntN(vm.PageSize))

	if offset+len(data) > len(shadow) {
		data = data[:len(shadow)-offset]
	}

	if err := w.process.Store(base+uint64(offset), data); err != nil {
		return err
	}

	copy(shadow[offset:], data)

	start := vm.PageAlign(uint64(offset))
	end := min(len(shadow), offset+len(data)+vm.PageSize)

	return w.check(base+start, shadow[start:vm.PageAlign(uint64(end))])
}

func (w *worker) check(vAddr uint64, expected []byte) error {
	actual := make([]byte, len(expected))
	if err := w.process.Load(vAddr, actual); err != nil {
		return err
	}

	if !bytes.Equal(actual, expected) {
		return fmt.Errorf("%w: 0x%x", ErrCorrupted, vAddr)
	}

	w.runner.bytesChecked.Add(uint64(len(expected)))

	return nil
}

// teardown copies the heap into a file one pinned page at a time and checks
// that the mapped file holds what was written through the mapping.
func (w *worker) teardown() error {
	p := w.process

	if len(w.heap) > 0 {
		dump := vfile.NewMemFile(p.Name()+".core", make([]byte, len(w.heap)))

		for off := 0; off < len(w.heap); off += vm.PageSize {
			_, err := p.WriteFile(dump, int64(off), HeapBase+uint64(off),
				vm.PageSize)
			if err != nil {
				return err
			}
		}

		if !bytes.Equal(dump.Content(), w.heap) {
			return fmt.Errorf("%w: heap dump", ErrCorrupted)
		}
	}

	if w.mapped != nil {
		for _, m := range p.Mappings() {
			p.Munmap(m.ID)
		}

		if !bytes.Equal(w.mapped.Content(), w.shadow) {
			return fmt.Errorf("%w: mapped file", ErrCorrupted)
		}
	}

	return nil
}

func (w *worker) randomBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(w.rand.Uint32())
	}

	return b
}
