// Package vmm is the entry point of the virtual memory system. It handles page
// faults, memory-mapped files, and the user buffers of system calls.
package vmm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/frametable"
	"github.com/sarchlab/vmsim/mem/vm/mmu"
	"github.com/sarchlab/vmsim/mem/vm/spt"
	"github.com/sarchlab/vmsim/mem/vm/swap"
	"github.com/sarchlab/vmsim/sim/hooking"
)

// A Kernel owns the machine, the frame table and the swap manager for its
// whole lifetime. Processes are spawned from it.
type Kernel struct {
	hooking.HookableBase

	name    string
	log     logrus.FieldLogger
	machine *mmu.Comp
	frames  *frametable.Table
	swap    *swap.Manager

	lock      sync.Mutex
	nextPID   vm.PID
	processes map[vm.PID]*Process
}

// Name returns the name of the kernel.
func (k *Kernel) Name() string {
	return k.name
}

// Machine returns the hardware the kernel runs on.
func (k *Kernel) Machine() *mmu.Comp {
	return k.machine
}

// FrameTable returns the frame table.
func (k *Kernel) FrameTable() *frametable.Table {
	return k.frames
}

// Swap returns the swap manager.
func (k *Kernel) Swap() *swap.Manager {
	return k.swap
}

// AcceptHook registers the hook on the kernel and on every manager, including
// the page tables of processes spawned later.
func (k *Kernel) AcceptHook(hook hooking.Hook) {
	k.lock.Lock()
	defer k.lock.Unlock()

	k.HookableBase.AcceptHook(hook)
	k.frames.AcceptHook(hook)
	k.swap.AcceptHook(hook)

	for _, p := range k.processes {
		p.table.AcceptHook(hook)
	}
}

// Spawn creates a process with an empty address space.
func (k *Kernel) Spawn(name string) *Process {
	k.lock.Lock()
	defer k.lock.Unlock()

	k.nextPID++
	pid := k.nextPID

	dir := k.machine.NewAddressSpace(pid)
	table := spt.MakeBuilder().
		WithPID(pid).
		WithAddressSpace(dir).
		WithMachine(k.machine).
		WithFrameTable(k.frames).
		WithSwap(k.swap).
		WithLogger(k.log).
		Build(fmt.Sprintf("%s.Process[%d].SPT", k.name, pid))

	for _, hook := range k.Hooks() {
		table.AcceptHook(hook)
	}

	p := &Process{
		kernel:   k,
		pid:      pid,
		name:     name,
		log:      k.log.WithFields(logrus.Fields{"pid": pid, "process": name}),
		dir:      dir,
		table:    table,
		mappings: make(map[int]*Mapping),
	}
	k.processes[pid] = p

	p.log.Info("process spawned")

	return p
}

// Process returns a live process.
func (k *Kernel) Process(pid vm.PID) (*Process, bool) {
	k.lock.Lock()
	defer k.lock.Unlock()

	p, found := k.processes[pid]

	return p, found
}

// Processes returns the live processes ordered by PID.
func (k *Kernel) Processes() []*Process {
	k.lock.Lock()
	defer k.lock.Unlock()

	list := make([]*Process, 0, len(k.processes))
	for _, p := range k.processes {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].pid < list[j].pid
	})

	return list
}

// Shutdown terminates every live process.
func (k *Kernel) Shutdown() {
	for _, p := range k.Processes() {
		p.Exit()
	}

	k.log.Info("kernel shut down")
}

func (k *Kernel) removeProcess(pid vm.PID) {
	k.lock.Lock()
	defer k.lock.Unlock()

	delete(k.processes, pid)
}

func (k *Kernel) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	k.log.Error(msg)
	panic(msg)
}
