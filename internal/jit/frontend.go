package jit

// InsnFetcher fetches the instruction word at a guest virtual address,
// already expanded from its compressed 16-bit form by the caller (the same
// contract as vm.Hart's own fetch/expand step), and reports its encoded
// length in bytes (2 for a compressed source instruction, 4 otherwise) so
// the frontend can advance the trace's program counter correctly even
// though every Op it records is always a full 32-bit RV64 instruction.
type InsnFetcher func(pc uint64) (insn uint32, size int, err error)

// MaxTraceInsns bounds how many guest instructions a single trace records
// before BuildTrace forces it closed, independent of hitting any other
// terminator (§4.5 "max-size").
const MaxTraceInsns = 64

const guestPageSize = 4096

// BuildTrace decodes straight-line guest instructions starting at pc via
// fetch, recording them into a Trace until it hits a branch/jump/system
// instruction, an opcode the frontend doesn't know how to trace, a guest
// page crossing, or the MaxTraceInsns cap (§4.5). Unless the very first
// fetch fails (then it returns nil and that error), it returns a valid
// trace ending in OpReturn at the guest PC execution should resume from —
// the caller distinguishes "ran off the end of a hot block" from
// "terminator reached" only by comparing that PC to where interpretation
// would have stopped; BuildTrace itself makes no control-flow decision.
//
// Guest register reads and writes within the trace are renamed to
// trace-local values: OpReadReg the first time a register is read, and an
// OpWriteReg immediately after each instruction that redefines one (so a
// register written twice keeps only its last value live), mirroring how
// the interpreter's own ReadReg/WriteReg treat x0 as hardwired to zero.
func BuildTrace(pc uint64, fetch InsnFetcher) (*Trace, error) {
	trace := NewTrace(pc)
	live := make(map[uint32]Reg)

	readReg := func(idx uint32) Operand {
		if idx == 0 {
			return ImmOperand(0)
		}
		if r, ok := live[idx]; ok {
			return RegOperand(r)
		}
		r := trace.EmitReadReg(idx)
		live[idx] = r
		return RegOperand(r)
	}
	writeReg := func(idx uint32, v Operand) {
		if idx == 0 {
			return
		}
		r := v.Reg
		if v.IsImm {
			r = trace.EmitConst(v.Imm)
		}
		live[idx] = r
		// Flushed right away rather than batched at trace close: batching
		// would keep every destination register in this trace live
		// simultaneously at the end, which a linear-scan allocator over a
		// handful of host registers can't satisfy once a trace touches more
		// than a couple of registers. Emitting the write-back here instead
		// gives each temporary a live range that ends as soon as the guest
		// register it feeds stops being read within the trace.
		trace.EmitWriteReg(idx, RegOperand(r))
	}

	cur := pc
	startPage := pc &^ (guestPageSize - 1)

	for i := 0; i < MaxTraceInsns; i++ {
		if cur&^(guestPageSize-1) != startPage {
			break
		}

		insn, size, err := fetch(cur)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			break
		}

		op := feOpcode(insn)
		f3 := feFunct3(insn)
		f7 := feFunct7(insn)
		rdIdx := feRd(insn)
		rs1Idx := feRs1(insn)
		rs2Idx := feRs2(insn)

		traced := true
		switch op {
		case 0b0110111: // LUI
			writeReg(rdIdx, ImmOperand(feImmU(insn)))
		case 0b0010111: // AUIPC
			writeReg(rdIdx, ImmOperand(feImmU(insn)+int64(cur)))
		case 0b0010011: // OP-IMM
			a := readReg(rs1Idx)
			imm := ImmOperand(feImmI(insn))
			switch f3 {
			case 0b000:
				writeReg(rdIdx, RegOperand(trace.Emit(OpAdd, a, imm)))
			case 0b100:
				writeReg(rdIdx, RegOperand(trace.Emit(OpXor, a, imm)))
			case 0b110:
				writeReg(rdIdx, RegOperand(trace.Emit(OpOr, a, imm)))
			case 0b111:
				writeReg(rdIdx, RegOperand(trace.Emit(OpAnd, a, imm)))
			case 0b001:
				writeReg(rdIdx, RegOperand(trace.Emit(OpShl, a, ImmOperand(int64(feShamt(insn))))))
			case 0b101:
				shiftKind := OpShr
				if f7&0x20 != 0 {
					shiftKind = OpSar
				}
				writeReg(rdIdx, RegOperand(trace.Emit(shiftKind, a, ImmOperand(int64(feShamt(insn))))))
			default:
				traced = false
			}
		case 0b0110011: // OP
			a, b := readReg(rs1Idx), readReg(rs2Idx)
			switch {
			case f7 == 0x01:
				if f3 == 0b000 {
					writeReg(rdIdx, RegOperand(trace.Emit(OpMul, a, b)))
				} else {
					traced = false
				}
			case f3 == 0b000 && f7 == 0x20:
				writeReg(rdIdx, RegOperand(trace.Emit(OpSub, a, b)))
			case f3 == 0b000:
				writeReg(rdIdx, RegOperand(trace.Emit(OpAdd, a, b)))
			case f3 == 0b100:
				writeReg(rdIdx, RegOperand(trace.Emit(OpXor, a, b)))
			case f3 == 0b110:
				writeReg(rdIdx, RegOperand(trace.Emit(OpOr, a, b)))
			case f3 == 0b111:
				writeReg(rdIdx, RegOperand(trace.Emit(OpAnd, a, b)))
			case f3 == 0b001:
				writeReg(rdIdx, RegOperand(trace.Emit(OpShl, a, b)))
			case f3 == 0b101 && f7 == 0x20:
				writeReg(rdIdx, RegOperand(trace.Emit(OpSar, a, b)))
			case f3 == 0b101:
				writeReg(rdIdx, RegOperand(trace.Emit(OpShr, a, b)))
			default:
				traced = false
			}
		case 0b0000011: // LOAD: only the widths the IR's untyped OpLoad models cleanly
			if f3 == 0b010 || f3 == 0b011 {
				addr := trace.Emit(OpAdd, readReg(rs1Idx), ImmOperand(feImmI(insn)))
				width := 4
				if f3 == 0b011 {
					width = 8
				}
				writeReg(rdIdx, RegOperand(trace.EmitLoad(RegOperand(addr), width)))
			} else {
				traced = false
			}
		case 0b0100011: // STORE: SW/SD
			if f3 == 0b010 || f3 == 0b011 {
				addr := trace.Emit(OpAdd, readReg(rs1Idx), ImmOperand(feImmS(insn)))
				width := 4
				if f3 == 0b011 {
					width = 8
				}
				trace.EmitStore(RegOperand(addr), readReg(rs2Idx), width)
			} else {
				traced = false
			}
		default:
			// Branches, jumps, AMO, FP, system, and fence instructions all
			// change control flow, touch privileged state, or need a guard
			// the frontend doesn't build yet: stop the trace here and let
			// the hart loop interpret this instruction instead (§4.5).
			traced = false
		}

		if !traced {
			break
		}
		cur += uint64(size)
	}

	trace.GuestLen = cur - pc
	trace.EmitReturn(cur)
	return trace, nil
}

func feOpcode(insn uint32) uint32 { return insn & 0x7f }
func feRd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func feFunct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func feRs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func feRs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func feFunct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }
func feShamt(insn uint32) uint32  { return (insn >> 20) & 0x3f }

func feSignExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func feImmI(insn uint32) int64 { return feSignExtend(uint64(insn>>20), 12) }

func feImmS(insn uint32) int64 {
	v := (insn>>25)<<5 | ((insn >> 7) & 0x1f)
	return feSignExtend(uint64(v), 12)
}

func feImmU(insn uint32) int64 { return feSignExtend(uint64(insn&0xfffff000), 32) }
