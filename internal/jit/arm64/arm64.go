// Package arm64 is the aarch64 jit.Backend. It registers capability for
// integer traces but, unlike internal/jit/amd64, does not yet implement
// Lower: a full AAPCS64 encoder is future work grounded on the teacher's
// internal/asm/arm64/encode.go instruction tables (see DESIGN.md).
package arm64

import (
	"fmt"

	"github.com/rvcore/rvengine/internal/jit"
)

func init() {
	jit.RegisterBackend(jit.ArchARM64, &Backend{})
}

// Backend is the arm64 jit.Backend.
type Backend struct{}

func (b *Backend) Arch() jit.HostArch { return jit.ArchARM64 }

func (b *Backend) Supports(cap jit.Capability) bool {
	return cap == jit.CapInteger
}

func (b *Backend) Lower(ops []jit.Op, alloc map[jit.Reg]jit.Allocation) ([]byte, error) {
	return nil, fmt.Errorf("jit/arm64: Lower not yet implemented")
}

func (b *Backend) PatchEncoder() func(patchAddr, target uintptr) []byte {
	return func(patchAddr, target uintptr) []byte {
		return nil
	}
}
