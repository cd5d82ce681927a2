// Package arm is the 32-bit ARM jit.Backend: a capability-only stub for
// the same reason as internal/jit/i386 (see DESIGN.md).
package arm

import (
	"fmt"

	"github.com/rvcore/rvengine/internal/jit"
)

func init() {
	jit.RegisterBackend(jit.ArchARM, &Backend{})
}

// Backend is the arm jit.Backend.
type Backend struct{}

func (b *Backend) Arch() jit.HostArch { return jit.ArchARM }

func (b *Backend) Supports(cap jit.Capability) bool { return false }

func (b *Backend) Lower(ops []jit.Op, alloc map[jit.Reg]jit.Allocation) ([]byte, error) {
	return nil, fmt.Errorf("jit/arm: Lower not yet implemented")
}

func (b *Backend) PatchEncoder() func(patchAddr, target uintptr) []byte {
	return func(patchAddr, target uintptr) []byte { return nil }
}
