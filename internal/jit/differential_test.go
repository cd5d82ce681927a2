//go:build linux && amd64

package jit

import (
	"fmt"
	"testing"

	"github.com/rvcore/rvengine/internal/codeheap"
	"github.com/rvcore/rvengine/internal/jit/amd64"
)

// TestAMD64BackendAgreesWithPlainArithmetic feeds BuildTrace the same canned
// RV64I instruction stream the hart loop's JIT hook would record on a hot
// PC, lowers it with the real amd64 backend, runs the result through
// codeheap's native call trampoline, and checks the resulting guest register
// file against the same instructions evaluated directly in Go. This is the
// interpreter-vs-JIT agreement check for the straight-line ALU subset the
// frontend currently traces (§4.9, §8); it stops short of driving the full
// vm.Hart interpreter side by side only to keep internal/jit free of an
// internal/vm import, the same boundary jithook.go draws at the package
// level.
func TestAMD64BackendAgreesWithPlainArithmetic(t *testing.T) {
	const pc = 0x1000
	code := []uint32{
		0x00540893, // addi a7, s0, 5
		0x00a00513, // addi a0, x0, 10
		0x00300593, // addi a1, x0, 3
		0x00b50633, // add  a2, a0, a1
		0x40b506b3, // sub  a3, a0, a1
		0x00b57733, // and  a4, a0, a1
		0x00b567b3, // or   a5, a0, a1
		0x00b54833, // xor  a6, a0, a1
	}

	fetch := InsnFetcher(func(fpc uint64) (uint32, int, error) {
		idx := (fpc - pc) / 4
		if idx >= uint64(len(code)) {
			return 0, 0, fmt.Errorf("differential_test: ran past the canned stream")
		}
		return code[idx], 4, nil
	})

	trace, err := BuildTrace(pc, fetch)
	if err != nil {
		t.Fatalf("BuildTrace: %v", err)
	}
	wantExit := pc + uint64(len(code))*4
	last := trace.Ops[len(trace.Ops)-1]
	if last.Kind != OpReturn || uint64(last.Imm) != wantExit {
		t.Fatalf("trace closed at the wrong PC: got op %+v, want OpReturn to %#x", last, wantExit)
	}
	if err := trace.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	backend := &amd64.Backend{}
	alloc := (&Allocator{NumRegs: 8}).Allocate(trace.Ops)
	hostCode, err := backend.Lower(trace.Ops, alloc)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}

	heap, err := codeheap.NewHeap(4096)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	defer heap.Close()
	addr, err := heap.Emit(hostCode)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := heap.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	block := &codeheap.Block{GuestPC: pc, HostAddr: addr, HostLen: len(hostCode), GuestLen: trace.GuestLen}

	const s0 = 100

	var regs [32]uint64
	regs[8] = s0 // s0, read by the trace but never written by it

	nextPC, err := codeheap.Enter(block, &regs)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if nextPC != wantExit {
		t.Errorf("nextPC = %#x, want %#x", nextPC, wantExit)
	}

	// Computed independently of the JIT, straight from the same RV64I
	// semantics the frontend traced, so a wrong encoding in loadGuestReg,
	// storeGuestReg, or any of the ALU ops can't cancel itself out.
	const a0, a1 = 10, 3
	want := map[int]uint64{
		8:  s0,
		17: s0 + 5,
		10: a0,
		11: a1,
		12: a0 + a1,
		13: a0 - a1,
		14: a0 & a1,
		15: a0 | a1,
		16: a0 ^ a1,
	}

	for idx, w := range want {
		if regs[idx] != w {
			t.Errorf("x%d = %d, want %d", idx, regs[idx], w)
		}
	}
}
