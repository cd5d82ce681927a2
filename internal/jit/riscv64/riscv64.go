// Package riscv64 is the rv64 jit.Backend, used when the host running the
// engine is itself riscv64 (so a guest rv64 trace can in principle lower
// to near-identical host instructions). Grounded on the teacher's
// internal/asm/riscv encoder; currently a capability-only stub pending a
// direct-mapped lowering of jit.Op to that encoder (see DESIGN.md).
package riscv64

import (
	"fmt"

	"github.com/rvcore/rvengine/internal/jit"
)

func init() {
	jit.RegisterBackend(jit.ArchRISCV64, &Backend{})
}

// Backend is the riscv64 jit.Backend.
type Backend struct{}

func (b *Backend) Arch() jit.HostArch { return jit.ArchRISCV64 }

func (b *Backend) Supports(cap jit.Capability) bool {
	return cap == jit.CapInteger
}

func (b *Backend) Lower(ops []jit.Op, alloc map[jit.Reg]jit.Allocation) ([]byte, error) {
	return nil, fmt.Errorf("jit/riscv64: Lower not yet implemented")
}

func (b *Backend) PatchEncoder() func(patchAddr, target uintptr) []byte {
	return func(patchAddr, target uintptr) []byte { return nil }
}
