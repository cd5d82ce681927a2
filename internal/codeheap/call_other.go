//go:build linux && !amd64

package codeheap

import "fmt"

// Enter is unimplemented on hosts without a native block-entry trampoline
// (only amd64 has one, see call_amd64.s). The hart loop treats its error
// as "stay in the interpreter for this block", the same fallback the
// arm64/i386/arm/riscv64 jit.Backend stubs already rely on for Lower.
func Enter(b *Block, regs *[32]uint64) (nextPC uint64, err error) {
	return 0, fmt.Errorf("codeheap: no native block-entry trampoline for this host architecture")
}
