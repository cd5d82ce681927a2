package jit

import (
	"fmt"

	"github.com/rvcore/rvengine/internal/codeheap"
)

// Tracer drives the hot-path promotion decision and the compile pipeline:
// count executions per guest PC, and once a PC crosses HotnessThreshold,
// hand its recorded Trace to the host Backend, emit the result into the
// code heap, and publish it to the block cache/linker so later fetches at
// that PC dispatch to compiled code instead of the interpreter (§5).
type Tracer struct {
	Backend          Backend
	Heap             *codeheap.Heap
	Cache            *codeheap.Cache
	Linker           *codeheap.Linker
	HotnessThreshold int
	NumHostRegs      int

	counts map[uint64]int
}

// NewTracer builds a Tracer over an already-constructed heap/cache/linker,
// compiling with backend once a PC's execution count reaches threshold.
func NewTracer(backend Backend, heap *codeheap.Heap, cache *codeheap.Cache, linker *codeheap.Linker, threshold int) *Tracer {
	if threshold <= 0 {
		threshold = 1
	}
	return &Tracer{
		Backend:          backend,
		Heap:             heap,
		Cache:            cache,
		Linker:           linker,
		HotnessThreshold: threshold,
		NumHostRegs:      8,
		counts:           make(map[uint64]int),
	}
}

// RecordExecution counts one interpreted execution of the block starting
// at pc and reports whether it just became hot (crossed the threshold for
// the first time), at which point the caller should record a Trace and
// call Compile.
func (t *Tracer) RecordExecution(pc uint64) bool {
	t.counts[pc]++
	return t.counts[pc] == t.HotnessThreshold
}

// Reset clears hotness counters, used after a code-heap Flush so a PC must
// re-earn compilation rather than immediately recompiling against a
// now-empty cache.
func (t *Tracer) Reset() {
	t.counts = make(map[uint64]int)
}

// Compile lowers trace through the backend, emits it into the heap, and
// publishes it to the cache/linker, returning the resulting Block.
func (t *Tracer) Compile(trace *Trace) (*codeheap.Block, error) {
	if err := trace.Validate(); err != nil {
		return nil, fmt.Errorf("jit: invalid trace at pc %#x: %w", trace.GuestPC, err)
	}

	alloc := (&Allocator{NumRegs: t.NumHostRegs}).Allocate(trace.Ops)

	code, err := t.Backend.Lower(trace.Ops, alloc)
	if err != nil {
		return nil, fmt.Errorf("jit: lower trace at pc %#x: %w", trace.GuestPC, err)
	}

	if err := t.Heap.Reopen(); err != nil {
		return nil, err
	}
	addr, err := t.Heap.Emit(code)
	if err != nil {
		return nil, err
	}
	if err := t.Heap.Seal(); err != nil {
		return nil, err
	}

	block := &codeheap.Block{
		GuestPC:  trace.GuestPC,
		GuestLen: trace.GuestLen,
		HostAddr: addr,
		HostLen:  len(code),
	}
	if err := t.Linker.Publish(block); err != nil {
		return nil, err
	}
	return block, nil
}

// Invalidate drops compiled blocks and hotness state overlapping a guest
// write, mirroring the dirty-tracker-driven invalidation the hart loop's
// fence.i/store path triggers (§4.8).
func (t *Tracer) Invalidate(addr, length uint64) []*codeheap.Block {
	removed := t.Cache.Invalidate(addr, length)
	for _, b := range removed {
		delete(t.counts, b.GuestPC)
	}
	return removed
}
