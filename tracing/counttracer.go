package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/vmsim/sim/hooking"
)

// CountTracer counts how many times each kind of event happened.
type CountTracer struct {
	lock   sync.Mutex
	filter EventFilter
	counts map[string]uint64
}

// NewCountTracer creates a new CountTracer. A nil filter accepts every event.
func NewCountTracer(filter EventFilter) *CountTracer {
	return &CountTracer{
		filter: filter,
		counts: make(map[string]uint64),
	}
}

// Func counts the event carried by the hook context.
func (t *CountTracer) Func(ctx hooking.HookCtx) {
	event, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	if t.filter != nil && !t.filter(event) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	t.counts[event.What]++
}

// Count returns the number of events of a kind.
func (t *CountTracer) Count(what string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.counts[what]
}

// Kinds returns the sorted names of the kinds that have been counted.
func (t *CountTracer) Kinds() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	kinds := make([]string, 0, len(t.counts))
	for k := range t.counts {
		kinds = append(kinds, k)
	}

	sort.Strings(kinds)

	return kinds
}

// Counts returns a copy of all the counters.
func (t *CountTracer) Counts() map[string]uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	counts := make(map[string]uint64, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}

	return counts
}
