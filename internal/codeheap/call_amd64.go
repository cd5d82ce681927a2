//go:build linux && amd64

package codeheap

import "unsafe"

// callBlock is implemented in call_amd64.s: it calls the host code at
// entry with RDI holding regs and returns the callee's RAX. entry and regs
// must both stay valid for the duration of the call; regs is never
// retained past it.
func callBlock(entry uintptr, regs *uint64) uint64

// Enter calls into a compiled block's host code, following the calling
// convention jit/amd64.Backend.Lower documents: RDI is the hart's 32-entry
// guest integer register file, RAX on return is the guest PC to resume
// interpretation at.
func Enter(b *Block, regs *[32]uint64) (nextPC uint64, err error) {
	return callBlock(b.HostAddr, (*uint64)(unsafe.Pointer(&regs[0]))), nil
}
