package rvengine

import (
	"github.com/rvcore/rvengine/internal/codeheap"
	"github.com/rvcore/rvengine/internal/jit"
	"github.com/rvcore/rvengine/internal/vm"
)

// engineJITHook adapts a jit.Tracer/codeheap.Cache pair to vm.JITHook, the
// narrow interface Machine.step dispatches through (§4.9). It lives here
// rather than in internal/vm so that package can stay free of the
// Linux/host-arch-specific internal/jit and internal/codeheap imports.
type engineJITHook struct {
	tracer *jit.Tracer
	cache  *codeheap.Cache
}

func (h *engineJITHook) Lookup(pc uint64) (vm.JITBlock, bool) {
	b, ok := h.cache.Lookup(pc)
	if !ok {
		return nil, false
	}
	return engineJITBlock{b}, true
}

// RecordExecution compiles and publishes a trace the first time pc crosses
// the hotness threshold. A trace that the backend can't lower (§7
// "Backend unsupported op", e.g. one containing a Load/Store the amd64
// backend doesn't yet support) is silently dropped: the PC simply keeps
// being interpreted, exactly the fallback policy SPEC_FULL.md §7 and §4.6
// describe.
func (h *engineJITHook) RecordExecution(pc uint64, fetch vm.JITFetcher) {
	if !h.tracer.RecordExecution(pc) {
		return
	}
	trace, err := jit.BuildTrace(pc, jit.InsnFetcher(fetch))
	if err != nil {
		return
	}
	if _, err := h.tracer.Compile(trace); err != nil {
		return
	}
}

func (h *engineJITHook) Invalidate(addr, length uint64) {
	h.tracer.Invalidate(addr, length)
}

// engineJITBlock adapts a *codeheap.Block to vm.JITBlock.
type engineJITBlock struct{ b *codeheap.Block }

func (eb engineJITBlock) Enter(regs *[32]uint64) (uint64, error) {
	return codeheap.Enter(eb.b, regs)
}
