package amd64

import (
	"testing"

	"github.com/rvcore/rvengine/internal/jit"
)

func TestLowerConstAndAdd(t *testing.T) {
	trace := jit.NewTrace(0x1000)
	a := trace.EmitConst(2)
	b := trace.EmitConst(3)
	sum := trace.Emit(jit.OpAdd, jit.RegOperand(a), jit.RegOperand(b))
	_ = sum
	trace.EmitReturn(0x1004)

	alloc := (&jit.Allocator{NumRegs: 8}).Allocate(trace.Ops)

	backend := &Backend{}
	code, err := backend.Lower(trace.Ops, alloc)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("Lower produced no code")
	}
	// every movImm64 sequence starts with a REX prefix (0x40-0x4f)
	if code[0]&0xf0 != 0x40 {
		t.Fatalf("code does not start with a REX prefix: %#x", code[0])
	}
}

func TestPatchEncoderProducesAbsoluteJump(t *testing.T) {
	backend := &Backend{}
	enc := backend.PatchEncoder()
	code := enc(0x1000, 0xdeadbeef00)
	if len(code) == 0 {
		t.Fatal("patch encoder produced no bytes")
	}
	// last three bytes are `jmp r11`: 41 ff e3
	tail := code[len(code)-3:]
	if tail[0] != 0x41 || tail[1] != 0xff || tail[2] != 0xe3 {
		t.Fatalf("unexpected jmp tail: % x", tail)
	}
}
