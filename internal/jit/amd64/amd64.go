// Package amd64 is the x86-64 jit.Backend: it lowers a register-allocated
// Trace straight to machine code bytes. Grounded on the opcode/ModRM
// conventions in the teacher's internal/asm/amd64/instructions.go, but
// written as a direct encoder rather than reusing that package's
// Fragment/Context builder: that builder is shaped around emitting a
// one-shot relocatable syscall trampoline into its own BSS section, where
// this backend emits short straight-line sequences directly into a shared,
// persistent code heap with no relocations of its own.
package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/rvcore/rvengine/internal/jit"
)

// hostRegs maps an allocator register slot to a physical general-purpose
// register: the System V caller-saved RAX, RCX, RDX, RSI, R8, R9 and R10,
// plus the callee-saved R13 in place of RDI. RDI is deliberately excluded: every
// compiled block is entered with RDI holding the base address of the
// hart's guest integer register file (codeheap's call convention, see
// loadGuestReg/storeGuestReg below), so it must stay live and unallocated
// for the whole block rather than being handed out as a scratch value.
var hostRegs = []byte{0 /*RAX*/, 1 /*RCX*/, 2 /*RDX*/, 6 /*RSI*/, 8 /*R8*/, 9 /*R9*/, 10 /*R10*/, 13 /*R13*/}

func init() {
	jit.RegisterBackend(jit.ArchAMD64, &Backend{})
}

// Backend is the amd64 jit.Backend.
type Backend struct{}

func (b *Backend) Arch() jit.HostArch { return jit.ArchAMD64 }

func (b *Backend) Supports(cap jit.Capability) bool {
	switch cap {
	case jit.CapInteger, jit.CapDirectLink:
		return true
	default:
		return false
	}
}

// Lower encodes each op in sequence, assuming alloc has already assigned
// every live Reg a slot within len(hostRegs); the Tracer is responsible
// for keeping NumHostRegs at or below that bound.
//
// A lowered block follows a single fixed calling convention: entered with
// RDI pointing at the hart's 32-entry guest integer register file (one
// uint64 per slot, x0 included though the frontend never emits a write to
// it), it exits with RET and the guest PC to resume interpretation at in
// RAX. codeheap owns the platform-specific trampoline that actually issues
// that call (see codeheap.Enter).
func (b *Backend) Lower(ops []jit.Op, alloc map[jit.Reg]jit.Allocation) ([]byte, error) {
	var code []byte

	reg := func(r jit.Reg) (byte, error) {
		a, ok := alloc[r]
		if !ok {
			return 0, fmt.Errorf("amd64: reg %d has no allocation", r)
		}
		if a.Spilled || a.Slot >= len(hostRegs) {
			return 0, fmt.Errorf("amd64: reg %d spilled, spill slots not yet supported by this backend", r)
		}
		return hostRegs[a.Slot], nil
	}

	operandReg := func(o jit.Operand, scratch byte) (byte, error) {
		if o.IsImm {
			code = append(code, movImm64(scratch, uint64(o.Imm))...)
			return scratch, nil
		}
		return reg(o.Reg)
	}

	for _, op := range ops {
		switch op.Kind {
		case jit.OpConst:
			dst, err := reg(op.Dst)
			if err != nil {
				return nil, err
			}
			code = append(code, movImm64(dst, uint64(op.Imm))...)

		case jit.OpAdd, jit.OpSub, jit.OpAnd, jit.OpOr, jit.OpXor:
			dst, err := reg(op.Dst)
			if err != nil {
				return nil, err
			}
			a, err := operandReg(op.A, scratch0)
			if err != nil {
				return nil, err
			}
			if a != dst {
				code = append(code, movReg(dst, a)...)
			}
			bReg, err := operandReg(op.B, scratch1)
			if err != nil {
				return nil, err
			}
			code = append(code, aluReg(op.Kind, dst, bReg)...)

		case jit.OpShl, jit.OpShr, jit.OpSar:
			dst, err := reg(op.Dst)
			if err != nil {
				return nil, err
			}
			a, err := operandReg(op.A, scratch0)
			if err != nil {
				return nil, err
			}
			if a != dst {
				code = append(code, movReg(dst, a)...)
			}
			if !op.B.IsImm {
				return nil, fmt.Errorf("amd64: shift amount must be an immediate")
			}
			code = append(code, shiftImm(op.Kind, dst, byte(op.B.Imm))...)

		case jit.OpMul:
			dst, err := reg(op.Dst)
			if err != nil {
				return nil, err
			}
			a, err := operandReg(op.A, scratch0)
			if err != nil {
				return nil, err
			}
			if a != dst {
				code = append(code, movReg(dst, a)...)
			}
			bReg, err := operandReg(op.B, scratch1)
			if err != nil {
				return nil, err
			}
			code = append(code, imulReg(dst, bReg)...)

		case jit.OpLoad, jit.OpStore:
			return nil, fmt.Errorf("amd64: memory ops require the bus-call path, not yet lowered by this backend")

		case jit.OpGuardEq, jit.OpGuardNeq:
			return nil, fmt.Errorf("amd64: guards require the side-exit trampoline, not yet lowered by this backend")

		case jit.OpReadReg:
			dst, err := reg(op.Dst)
			if err != nil {
				return nil, err
			}
			code = append(code, loadGuestReg(dst, uint32(op.Imm))...)

		case jit.OpWriteReg:
			val, err := operandReg(op.A, scratch0)
			if err != nil {
				return nil, err
			}
			code = append(code, storeGuestReg(uint32(op.Imm), val)...)

		case jit.OpReturn:
			// return value convention: leave guest PC in RAX for the
			// dispatch loop, then ret.
			code = append(code, movImm64(0 /*RAX*/, uint64(op.Imm))...)
			code = append(code, 0xc3) // ret
		}
	}

	return code, nil
}

const (
	scratch0 byte = 11 // R11, never allocated to a Reg
	scratch1 byte = 12 // R12
)

func rex(w bool, r, x, b byte) byte {
	v := byte(0x40)
	if w {
		v |= 1 << 3
	}
	if r&8 != 0 {
		v |= 1 << 2
	}
	if x&8 != 0 {
		v |= 1 << 1
	}
	if b&8 != 0 {
		v |= 1
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 7) << 3) | (rm & 7)
}

// movImm64 encodes `mov reg64, imm64` (REX.W + B8+rd io).
func movImm64(reg byte, imm uint64) []byte {
	buf := make([]byte, 2, 10)
	buf[0] = rex(true, 0, 0, reg)
	buf[1] = 0xb8 + (reg & 7)
	var imm8 [8]byte
	binary.LittleEndian.PutUint64(imm8[:], imm)
	return append(buf, imm8[:]...)
}

// movReg encodes `mov dst, src` (REX.W + 89 /r).
func movReg(dst, src byte) []byte {
	return []byte{rex(true, src, 0, dst), 0x89, modrm(3, src, dst)}
}

// aluReg encodes `op dst, src` for add/sub/and/or/xor (REX.W + opcode /r).
func aluReg(kind jit.Kind, dst, src byte) []byte {
	var opcode byte
	switch kind {
	case jit.OpAdd:
		opcode = 0x01
	case jit.OpSub:
		opcode = 0x29
	case jit.OpAnd:
		opcode = 0x21
	case jit.OpOr:
		opcode = 0x09
	case jit.OpXor:
		opcode = 0x31
	}
	return []byte{rex(true, src, 0, dst), opcode, modrm(3, src, dst)}
}

// shiftImm encodes `op dst, imm8` (REX.W + C1 /n ib).
func shiftImm(kind jit.Kind, dst byte, amount byte) []byte {
	var ext byte
	switch kind {
	case jit.OpShl:
		ext = 4
	case jit.OpShr:
		ext = 5
	case jit.OpSar:
		ext = 7
	}
	return []byte{rex(true, 0, 0, dst), 0xc1, modrm(3, ext, dst), amount & 0x3f}
}

// imulReg encodes `imul dst, src` (REX.W + 0F AF /r).
func imulReg(dst, src byte) []byte {
	return []byte{rex(true, dst, 0, src), 0x0f, 0xaf, modrm(3, dst, src)}
}

const guestRegsBase byte = 7 // RDI, the block's fixed first argument

// loadGuestReg encodes `mov dst, [rdi+idx*8]` (REX.W + 8B /r, disp32 form:
// a disp8 can't reach every slot once idx*8 exceeds 127, so this always
// emits the 4-byte displacement for a uniform instruction length).
func loadGuestReg(dst byte, idx uint32) []byte {
	buf := []byte{rex(true, dst, 0, guestRegsBase), 0x8b, modrm(2, dst, guestRegsBase)}
	var disp [4]byte
	binary.LittleEndian.PutUint32(disp[:], idx*8)
	return append(buf, disp[:]...)
}

// storeGuestReg encodes `mov [rdi+idx*8], src` (REX.W + 89 /r, disp32).
func storeGuestReg(idx uint32, src byte) []byte {
	buf := []byte{rex(true, src, 0, guestRegsBase), 0x89, modrm(2, src, guestRegsBase)}
	var disp [4]byte
	binary.LittleEndian.PutUint32(disp[:], idx*8)
	return append(buf, disp[:]...)
}

// PatchEncoder returns the direct-jump encoder codeheap.Linker uses to
// back-patch a block's exit once its target is compiled: a 64-bit
// absolute jump through R11, since traces live far apart in a large
// shared heap and a rel32 jmp cannot be assumed to reach.
func (b *Backend) PatchEncoder() func(patchAddr, target uintptr) []byte {
	return func(patchAddr, target uintptr) []byte {
		code := movImm64(scratch0, uint64(target))
		code = append(code, 0x41, 0xff, 0xe3) // jmp r11
		return code
	}
}
