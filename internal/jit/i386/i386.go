// Package i386 is the 32-bit x86 jit.Backend: a capability-only stub, since
// neither the teacher nor the rest of the example pack carries a 32-bit
// x86 encoder to ground an implementation on (see DESIGN.md).
package i386

import (
	"fmt"

	"github.com/rvcore/rvengine/internal/jit"
)

func init() {
	jit.RegisterBackend(jit.ArchI386, &Backend{})
}

// Backend is the i386 jit.Backend.
type Backend struct{}

func (b *Backend) Arch() jit.HostArch { return jit.ArchI386 }

func (b *Backend) Supports(cap jit.Capability) bool { return false }

func (b *Backend) Lower(ops []jit.Op, alloc map[jit.Reg]jit.Allocation) ([]byte, error) {
	return nil, fmt.Errorf("jit/i386: Lower not yet implemented")
}

func (b *Backend) PatchEncoder() func(patchAddr, target uintptr) []byte {
	return func(patchAddr, target uintptr) []byte { return nil }
}
