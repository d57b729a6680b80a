package vmm

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/mem/vm/spt"
	"github.com/sarchlab/vmsim/tracing"
)

// A Mapping is a file mapped into the address space of a process.
type Mapping struct {
	ID       int
	Start    uint64
	NumPages int
	File     vm.File
}

// End returns the first address after the mapping.
func (m Mapping) End() uint64 {
	return m.Start + uint64(m.NumPages)*vm.PageSize
}

// Mmap maps the whole file at start. Nothing is read until the pages are
// touched. The mapping uses its own handle of the file, so the caller may
// close file right away.
func (p *Process) Mmap(file vm.File, start uint64) (int, error) {
	if file == nil {
		return 0, ErrInvalidFile
	}

	length := file.Length()
	if length <= 0 {
		return 0, fmt.Errorf("%w: file is empty", ErrInvalidFile)
	}

	end, err := checkRange(start, uint64(length))
	if err != nil {
		return 0, err
	}

	handle, err := file.Reopen()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	if err := p.registerMapping(handle, start, end, length); err != nil {
		if closeErr := handle.Close(); closeErr != nil {
			p.log.WithError(closeErr).Warn("closing file")
		}

		return 0, err
	}

	m := &Mapping{
		Start:    start,
		NumPages: int((end - start) / vm.PageSize),
		File:     handle,
	}

	p.lock.Lock()
	m.ID = p.nextMappingID()
	p.mappings[m.ID] = m
	p.lock.Unlock()

	p.log.WithFields(logrus.Fields{
		"mapping": m.ID,
		"start":   start,
		"pages":   m.NumPages,
	}).Info("file mapped")
	tracing.Notify(p.kernel, tracing.HookPosMmap, tracing.Event{
		PID:    p.pid,
		VAddr:  start,
		Slot:   tracing.NoSlot,
		Detail: fmt.Sprintf("id=%d pages=%d", m.ID, m.NumPages),
	})

	return m.ID, nil
}

// registerMapping checks the whole range before registering any page so that
// a failed mmap leaves nothing behind.
func (p *Process) registerMapping(
	file vm.File,
	start, end uint64,
	length int64,
) error {
	frames := p.kernel.frames

	frames.Lock()
	defer frames.Unlock()

	if p.table.HasAnyInRange(start, end) {
		return fmt.Errorf("%w: [0x%x, 0x%x)", ErrOverlap, start, end)
	}

	for addr := start; addr < end; addr += vm.PageSize {
		offset := int64(addr - start)
		n := min(length-offset, vm.PageSize)

		if !p.table.SetFileBacked(addr, file, offset, int(n), spt.OriginMmap) {
			p.kernel.fatalf("page 0x%x appeared while mapping", addr)
		}
	}

	return nil
}

// nextMappingID must be called with the process lock held.
func (p *Process) nextMappingID() int {
	id := 0
	for existing := range p.mappings {
		id = max(id, existing)
	}

	return id + 1
}

// Munmap removes a mapping. Dirty pages are written back to the file. The
// mapping must exist.
func (p *Process) Munmap(id int) {
	p.lock.Lock()
	m, found := p.mappings[id]
	p.lock.Unlock()

	if !found {
		p.kernel.fatalf("process %d has no mapping %d", p.pid, id)
	}

	frames := p.kernel.frames

	frames.Lock()
	for addr := m.Start; addr < m.End(); addr += vm.PageSize {
		p.table.UnsetFileBacked(addr)
	}
	frames.Unlock()

	if err := m.File.Close(); err != nil {
		p.log.WithError(err).Warn("closing mapped file")
	}

	p.lock.Lock()
	delete(p.mappings, id)
	p.lock.Unlock()

	p.log.WithField("mapping", id).Info("file unmapped")
	tracing.Notify(p.kernel, tracing.HookPosMunmap, tracing.Event{
		PID:    p.pid,
		VAddr:  m.Start,
		Slot:   tracing.NoSlot,
		Detail: fmt.Sprintf("id=%d", id),
	})
}

// Mappings returns the active mappings ordered by ID.
func (p *Process) Mappings() []Mapping {
	p.lock.Lock()
	defer p.lock.Unlock()

	list := make([]Mapping, 0, len(p.mappings))
	for _, m := range p.mappings {
		list = append(list, *m)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})

	return list
}
