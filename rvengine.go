// Package rvengine wires the config, engine (internal/vm), code heap
// (internal/codeheap) and tracing JIT (internal/jit) packages together
// behind a single constructor, mirroring the way the teacher's top-level
// package (cc) sat over its internal/hv backends as a thin embedder-facing
// API rather than owning any execution logic itself.
package rvengine

import (
	"fmt"

	"github.com/rvcore/rvengine/internal/codeheap"
	"github.com/rvcore/rvengine/internal/config"
	"github.com/rvcore/rvengine/internal/jit"
	_ "github.com/rvcore/rvengine/internal/jit/amd64"
	_ "github.com/rvcore/rvengine/internal/jit/arm"
	_ "github.com/rvcore/rvengine/internal/jit/arm64"
	_ "github.com/rvcore/rvengine/internal/jit/i386"
	_ "github.com/rvcore/rvengine/internal/jit/riscv64"
	"github.com/rvcore/rvengine/internal/vm"
)

// Engine is a fully wired RISC-V machine: the hart/MMU/bus core plus its
// code heap and tracer, ready for Bus.LoadBytes and Run.
type Engine struct {
	*vm.Machine

	Heap   *codeheap.Heap
	Cache  *codeheap.Cache
	Tracer *jit.Tracer
}

// New builds an Engine from cfg, selecting the jit.Backend registered for
// hostArch (use runtime.GOARCH) when cfg.EnableJIT is set.
func New(cfg config.Config, hostArch jit.HostArch) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	xlen := vm.XLEN64
	if cfg.XLen == 32 {
		xlen = vm.XLEN32
	}

	m := vm.NewMachine(vm.Config{
		HartCount:        cfg.HartCount,
		RAMSize:          uint64(cfg.RAMSizeMB) * 1024 * 1024,
		ResetVector:      cfg.ResetVector,
		XLen:             xlen,
		CodeHeapSize:     cfg.CodeHeapSizeMB * 1024 * 1024,
		HotnessThresh:    cfg.HotnessThreshold,
		EnableDirectLink: cfg.EnableJIT,
	})

	e := &Engine{Machine: m}

	if !cfg.EnableJIT {
		return e, nil
	}

	backend, err := jit.LookupBackend(hostArch)
	if err != nil {
		return nil, fmt.Errorf("rvengine: jit enabled but %w", err)
	}

	heap, err := codeheap.NewHeap(cfg.CodeHeapSizeMB * 1024 * 1024)
	if err != nil {
		return nil, fmt.Errorf("rvengine: allocate code heap: %w", err)
	}
	cache := codeheap.NewCache()
	linker := codeheap.NewLinker(heap, cache, backend.PatchEncoder())

	e.Heap = heap
	e.Cache = cache
	e.Tracer = jit.NewTracer(backend, heap, cache, linker, cfg.HotnessThreshold)
	m.JIT = &engineJITHook{tracer: e.Tracer, cache: cache}

	return e, nil
}

// Close releases host resources the Engine holds outside Go's GC (the
// code heap's mmap'd arena).
func (e *Engine) Close() error {
	if e.Heap == nil {
		return nil
	}
	return e.Heap.Close()
}

// LoadImage copies a raw firmware/kernel image into guest RAM starting at
// addr, a thin convenience wrapper over Bus.LoadBytes for the common case
// of booting from a flat binary rather than an ELF (ELF loading is outside
// this package's scope, see SPEC_FULL.md §6).
func (e *Engine) LoadImage(addr uint64, data []byte) error {
	return e.Bus.LoadBytes(addr, data)
}
