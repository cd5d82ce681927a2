//go:build linux

// Package codeheap manages the executable arena the JIT emits translated
// guest blocks into: a bump-allocated region toggled between writable and
// executable via mmap/mprotect, plus the block cache and link table the
// tracer consults to find or patch compiled blocks (§5).
package codeheap

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Heap is a single mmap'd arena that is, as a whole, either writable (while
// the JIT is emitting into it) or executable (once sealed); it is never
// both at once, mirroring the W^X discipline the
// teacher's createAssemblyTrampoline enforces per-function. Unlike that
// per-function allocator, codeheap keeps one persistent arena so compiled
// blocks can call each other by direct address without re-resolving a
// trampoline on every invocation.
type Heap struct {
	mu sync.Mutex

	mem      []byte
	cursor   int
	writable bool

	base uintptr
}

// NewHeap allocates an executable arena of size bytes, rounded up to a
// whole number of pages, initially writable.
func NewHeap(size int) (*Heap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("codeheap: size must be positive")
	}
	pageSize := unix.Getpagesize()
	size = ((size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("codeheap: mmap: %w", err)
	}
	return &Heap{mem: mem, writable: true, base: uintptrOf(mem)}, nil
}

// Base returns the host address of the start of the arena, for computing
// relative call/jump offsets when linking blocks together.
func (h *Heap) Base() uintptr {
	return h.base
}

// Remaining reports how many bytes are free in the arena.
func (h *Heap) Remaining() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mem) - h.cursor
}

// Emit appends code to the arena and returns its host address. The arena
// must be in writable mode (see Reopen); Seal toggles it to executable.
func (h *Heap) Emit(code []byte) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.writable {
		return 0, fmt.Errorf("codeheap: arena is sealed, call Reopen before Emit")
	}
	if h.cursor+len(code) > len(h.mem) {
		return 0, fmt.Errorf("codeheap: arena exhausted (%d of %d bytes used)", h.cursor, len(h.mem))
	}

	addr := h.base + uintptr(h.cursor)
	copy(h.mem[h.cursor:], code)
	h.cursor += len(code)
	return addr, nil
}

// PatchAt overwrites bytes already emitted at a given arena offset, for the
// linker to back-patch a call/jump once its target block is known. The
// arena must be writable.
func (h *Heap) PatchAt(addr uintptr, code []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.writable {
		return fmt.Errorf("codeheap: arena is sealed, call Reopen before PatchAt")
	}
	off := int(addr - h.base)
	if off < 0 || off+len(code) > len(h.mem) {
		return fmt.Errorf("codeheap: patch address %#x out of range", addr)
	}
	copy(h.mem[off:], code)
	return nil
}

// Seal marks the arena executable-only. Harts may begin calling into
// compiled blocks only after Seal returns.
func (h *Heap) Seal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.writable {
		return nil
	}
	if err := unix.Mprotect(h.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("codeheap: mprotect exec: %w", err)
	}
	h.writable = false
	return nil
}

// Reopen marks the arena writable again so new blocks can be emitted or
// existing call sites patched. Callers must ensure no hart is currently
// executing inside the arena (the flush barrier in §5 exists for exactly
// this).
func (h *Heap) Reopen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writable {
		return nil
	}
	if err := unix.Mprotect(h.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("codeheap: mprotect write: %w", err)
	}
	h.writable = true
	return nil
}

// Flush discards every compiled block and resets the arena to empty and
// writable, used when a code-invalidating store (fence.i, self-modifying
// code) makes the whole heap's contents suspect.
func (h *Heap) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.writable {
		if err := unix.Mprotect(h.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return fmt.Errorf("codeheap: mprotect write: %w", err)
		}
		h.writable = true
	}
	h.cursor = 0
	return nil
}

// Close releases the arena's backing memory.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mem == nil {
		return nil
	}
	err := unix.Munmap(h.mem)
	h.mem = nil
	return err
}
