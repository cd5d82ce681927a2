package vm

import "fmt"

// Opcode constants (RV32/64 base + standard extensions).
const (
	OpLoad    = 0b0000011
	OpLoadFP  = 0b0000111
	OpMiscMem = 0b0001111
	OpOpImm   = 0b0010011
	OpAuipc   = 0b0010111
	OpOpImm32 = 0b0011011
	OpStore   = 0b0100011
	OpStoreFP = 0b0100111
	OpAMO     = 0b0101111
	OpOp      = 0b0110011
	OpLui     = 0b0110111
	OpOp32    = 0b0111011
	OpMadd    = 0b1000011
	OpMsub    = 0b1000111
	OpNmsub   = 0b1001011
	OpNmadd   = 0b1001111
	OpOpFP    = 0b1010011
	OpBranch  = 0b1100011
	OpJalr    = 0b1100111
	OpJal     = 0b1101111
	OpSystem  = 0b1110011
)

func opcode(insn uint32) uint32 { return insn & 0x7f }
func rd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func funct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func rs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func rs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func rs3(insn uint32) uint32    { return (insn >> 27) & 0x1f }
func funct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }
func funct2(insn uint32) uint32 { return (insn >> 25) & 0x3 }

func immI(insn uint32) int64 { return signExtend(uint64(insn>>20), 12) }

func immS(insn uint32) int64 {
	imm := (insn >> 7) & 0x1f
	imm |= ((insn >> 25) & 0x7f) << 5
	return signExtend(uint64(imm), 12)
}

func immB(insn uint32) int64 {
	imm := ((insn >> 8) & 0xf) << 1
	imm |= ((insn >> 25) & 0x3f) << 5
	imm |= ((insn >> 7) & 0x1) << 11
	imm |= ((insn >> 31) & 0x1) << 12
	return signExtend(uint64(imm), 13)
}

func immU(insn uint32) int64 { return signExtend(uint64(insn&0xfffff000), 32) }

func immJ(insn uint32) int64 {
	imm := ((insn >> 21) & 0x3ff) << 1
	imm |= ((insn >> 20) & 0x1) << 11
	imm |= ((insn >> 12) & 0xff) << 12
	imm |= ((insn >> 31) & 0x1) << 20
	return signExtend(uint64(imm), 21)
}

func shamt(insn uint32) uint32   { return (insn >> 20) & 0x3f }
func shamt32(insn uint32) uint32 { return (insn >> 20) & 0x1f }

// Execute decodes and runs a single (already expanded, if it was
// compressed) instruction word.
func (h *Hart) Execute(insn uint32) error {
	switch opcode(insn) {
	case OpLui:
		return h.execLui(insn)
	case OpAuipc:
		return h.execAuipc(insn)
	case OpJal:
		return h.execJal(insn)
	case OpJalr:
		return h.execJalr(insn)
	case OpBranch:
		return h.execBranch(insn)
	case OpLoad:
		return h.execLoad(insn)
	case OpStore:
		return h.execStore(insn)
	case OpOpImm:
		return h.execOpImm(insn)
	case OpOpImm32:
		if h.XLen != XLEN64 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		return h.execOpImm32(insn)
	case OpOp:
		return h.execOp(insn)
	case OpOp32:
		if h.XLen != XLEN64 {
			return Exception(CauseIllegalInsn, uint64(insn))
		}
		return h.execOp32(insn)
	case OpMiscMem:
		return h.execMiscMem(insn)
	case OpSystem:
		return h.execSystem(insn)
	case OpAMO:
		return h.execAMO(insn)
	case OpLoadFP:
		return h.execLoadFP(insn)
	case OpStoreFP:
		return h.execStoreFP(insn)
	case OpOpFP:
		return h.execOpFP(insn)
	case OpMadd, OpMsub, OpNmsub, OpNmadd:
		return h.execFMA(insn, opcode(insn))
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
}

func (h *Hart) execLui(insn uint32) error {
	h.WriteReg(rd(insn), uint64(immU(insn)))
	return nil
}

func (h *Hart) execAuipc(insn uint32) error {
	h.WriteReg(rd(insn), uint64(int64(h.PC)+immU(insn)))
	return nil
}

func (h *Hart) execJal(insn uint32) error {
	target := uint64(int64(h.PC) + immJ(insn))
	h.WriteReg(rd(insn), h.PC+4)
	h.PC = target
	return nil
}

func (h *Hart) execJalr(insn uint32) error {
	target := (uint64(int64(h.ReadReg(rs1(insn))) + immI(insn))) &^ 1
	h.WriteReg(rd(insn), h.PC+4)
	h.PC = target
	return nil
}

func (h *Hart) execBranch(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))

	var taken bool
	switch funct3(insn) {
	case 0b000:
		taken = r1 == r2
	case 0b001:
		taken = r1 != r2
	case 0b100:
		taken = int64(r1) < int64(r2)
	case 0b101:
		taken = int64(r1) >= int64(r2)
	case 0b110:
		taken = r1 < r2
	case 0b111:
		taken = r1 >= r2
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	if taken {
		h.PC = uint64(int64(h.PC) + immB(insn))
	}
	return nil
}

func (h *Hart) execLoad(insn uint32) error {
	vaddr := uint64(int64(h.ReadReg(rs1(insn))) + immI(insn))
	f3 := funct3(insn)

	var width AccessWidth
	var signed bool
	switch f3 {
	case 0b000:
		width, signed = Width8, true
	case 0b001:
		width, signed = Width16, true
	case 0b010:
		width, signed = Width32, true
	case 0b011:
		width, signed = Width64, false
	case 0b100:
		width, signed = Width8, false
	case 0b101:
		width, signed = Width16, false
	case 0b110:
		width, signed = Width32, false
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	paddr, err := h.Translate(vaddr, AccessRead)
	if err != nil {
		return err
	}
	raw, err := h.Machine.Bus.Read(paddr, width)
	if err != nil {
		return Exception(CauseLoadAccessFault, vaddr)
	}

	var val uint64
	if signed {
		switch width {
		case Width8:
			val = uint64(int64(int8(raw)))
		case Width16:
			val = uint64(int64(int16(raw)))
		case Width32:
			val = uint64(int64(int32(raw)))
		default:
			val = raw
		}
	} else {
		val = raw
	}

	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execStore(insn uint32) error {
	vaddr := uint64(int64(h.ReadReg(rs1(insn))) + immS(insn))
	val := h.ReadReg(rs2(insn))

	var width AccessWidth
	switch funct3(insn) {
	case 0b000:
		width = Width8
	case 0b001:
		width = Width16
	case 0b010:
		width = Width32
	case 0b011:
		width = Width64
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	paddr, err := h.Translate(vaddr, AccessWrite)
	if err != nil {
		return err
	}
	if err := h.Machine.Bus.Write(paddr, width, val); err != nil {
		return Exception(CauseStoreAccessFault, vaddr)
	}
	return nil
}

func (h *Hart) execOpImm(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	imm := immI(insn)
	sh := shamt(insn)
	if h.XLen == XLEN32 {
		sh = shamt32(insn)
	}

	var val uint64
	switch funct3(insn) {
	case 0b000:
		val = uint64(int64(r1) + imm)
	case 0b001:
		val = r1 << sh
	case 0b010:
		if int64(r1) < imm {
			val = 1
		}
	case 0b011:
		if r1 < uint64(imm) {
			val = 1
		}
	case 0b100:
		val = r1 ^ uint64(imm)
	case 0b101:
		if (insn>>30)&1 == 1 {
			val = uint64(int64(r1) >> sh)
		} else {
			val = r1 >> sh
		}
	case 0b110:
		val = r1 | uint64(imm)
	case 0b111:
		val = r1 & uint64(imm)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execOpImm32(insn uint32) error {
	r1 := uint32(h.ReadReg(rs1(insn)))
	imm := int32(immI(insn))
	sh := shamt32(insn)

	var val int32
	switch funct3(insn) {
	case 0b000:
		val = int32(r1) + imm
	case 0b001:
		val = int32(r1 << sh)
	case 0b101:
		if (insn>>30)&1 == 1 {
			val = int32(r1) >> sh
		} else {
			val = int32(r1 >> sh)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), uint64(val))
	return nil
}

func (h *Hart) execOp(insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))
	f3 := funct3(insn)
	f7 := funct7(insn)

	if f7 == 0b0000001 {
		return h.execOpM(insn, r1, r2, f3)
	}

	var val uint64
	switch f3 {
	case 0b000:
		if f7 == 0b0100000 {
			val = uint64(int64(r1) - int64(r2))
		} else {
			val = uint64(int64(r1) + int64(r2))
		}
	case 0b001:
		val = r1 << (r2 & 0x3f)
	case 0b010:
		if int64(r1) < int64(r2) {
			val = 1
		}
	case 0b011:
		if r1 < r2 {
			val = 1
		}
	case 0b100:
		val = r1 ^ r2
	case 0b101:
		if f7 == 0b0100000 {
			val = uint64(int64(r1) >> (r2 & 0x3f))
		} else {
			val = r1 >> (r2 & 0x3f)
		}
	case 0b110:
		val = r1 | r2
	case 0b111:
		val = r1 & r2
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), val)
	return nil
}

// execOpM implements the M-extension, including the documented
// div/rem-by-zero and MinInt/-1 overflow special cases (§8).
func (h *Hart) execOpM(insn uint32, r1, r2 uint64, f3 uint32) error {
	var val uint64
	switch f3 {
	case 0b000:
		val = uint64(int64(r1) * int64(r2))
	case 0b001:
		hi, _ := mulh64(int64(r1), int64(r2))
		val = uint64(hi)
	case 0b010:
		hi, _ := mulhsu64(int64(r1), r2)
		val = uint64(hi)
	case 0b011:
		hi, _ := mulhu64(r1, r2)
		val = hi
	case 0b100:
		switch {
		case r2 == 0:
			val = ^uint64(0)
		case r1 == uint64(1)<<63 && r2 == ^uint64(0):
			val = r1
		default:
			val = uint64(int64(r1) / int64(r2))
		}
	case 0b101:
		if r2 == 0 {
			val = ^uint64(0)
		} else {
			val = r1 / r2
		}
	case 0b110:
		switch {
		case r2 == 0:
			val = r1
		case r1 == uint64(1)<<63 && r2 == ^uint64(0):
			val = 0
		default:
			val = uint64(int64(r1) % int64(r2))
		}
	case 0b111:
		if r2 == 0 {
			val = r1
		} else {
			val = r1 % r2
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), val)
	return nil
}

func (h *Hart) execOp32(insn uint32) error {
	r1 := uint32(h.ReadReg(rs1(insn)))
	r2 := uint32(h.ReadReg(rs2(insn)))
	f3 := funct3(insn)
	f7 := funct7(insn)

	if f7 == 0b0000001 {
		return h.execOp32M(insn, r1, r2, f3)
	}

	var val int32
	switch f3 {
	case 0b000:
		if f7 == 0b0100000 {
			val = int32(r1) - int32(r2)
		} else {
			val = int32(r1) + int32(r2)
		}
	case 0b001:
		val = int32(r1 << (r2 & 0x1f))
	case 0b101:
		if f7 == 0b0100000 {
			val = int32(r1) >> (r2 & 0x1f)
		} else {
			val = int32(r1 >> (r2 & 0x1f))
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), uint64(val))
	return nil
}

func (h *Hart) execOp32M(insn uint32, r1, r2 uint32, f3 uint32) error {
	var val int32
	switch f3 {
	case 0b000:
		val = int32(r1) * int32(r2)
	case 0b100:
		switch {
		case r2 == 0:
			val = -1
		case r1 == uint32(1)<<31 && r2 == ^uint32(0):
			val = int32(r1)
		default:
			val = int32(r1) / int32(r2)
		}
	case 0b101:
		if r2 == 0 {
			val = -1
		} else {
			val = int32(r1 / r2)
		}
	case 0b110:
		switch {
		case r2 == 0:
			val = int32(r1)
		case r1 == uint32(1)<<31 && r2 == ^uint32(0):
			val = 0
		default:
			val = int32(r1) % int32(r2)
		}
	case 0b111:
		if r2 == 0 {
			val = int32(r1)
		} else {
			val = int32(r1 % r2)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), uint64(val))
	return nil
}

func (h *Hart) execMiscMem(insn uint32) error {
	switch funct3(insn) {
	case 0b000: // FENCE: the bus and dirty tracker are already the single
		// source of truth each hart reads from, so ordering is a no-op here.
	case 0b001: // FENCE.I: a no-op here; every RAM write already drops
		// overlapping compiled blocks through Bus.InvalidateHook (§4.8).
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	return nil
}

func mulhu64(a, b uint64) (uint64, uint64) {
	const mask32 = 0xFFFFFFFF
	a0, a1 := a&mask32, a>>32
	b0, b1 := b&mask32, b>>32

	p0 := a0 * b0
	p1 := a0 * b1
	p2 := a1 * b0
	p3 := a1 * b1

	carry := ((p0 >> 32) + (p1 & mask32) + (p2 & mask32)) >> 32
	hi := p3 + (p1 >> 32) + (p2 >> 32) + carry
	return hi, a * b
}

func mulh64(a, b int64) (int64, uint64) {
	neg := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}
	hi, lo := mulhu64(ua, ub)
	if neg {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}

func mulhsu64(a int64, b uint64) (int64, uint64) {
	neg := a < 0
	ua := uint64(a)
	if a < 0 {
		ua = uint64(-a)
	}
	hi, lo := mulhu64(ua, b)
	if neg {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}

// execSystem covers ECALL/EBREAK/xRET/WFI/SFENCE.VMA and the CSR
// instruction family.
func (h *Hart) execSystem(insn uint32) error {
	f3 := funct3(insn)
	csr := uint16(insn >> 20)
	rdReg := rd(insn)
	rs1Reg := rs1(insn)

	if f3 == 0 {
		switch insn {
		case 0x00000073: // ECALL
			return h.handleEcall()
		case 0x00100073: // EBREAK
			return Exception(CauseBreakpoint, h.PC)
		case 0x30200073: // MRET
			return h.handleMret()
		case 0x10200073: // SRET
			return h.handleSret()
		case 0x10500073: // WFI
			h.WFI = true
			return nil
		default:
			if insn>>25 == 0b0001001 { // SFENCE.VMA
				h.SfenceVMA(h.ReadReg(rs1Reg), uint16(h.ReadReg(rs2(insn))), rs1Reg != 0, rs2(insn) != 0)
				return nil
			}
			return Exception(CauseIllegalInsn, uint64(insn))
		}
	}

	rs1Val := h.ReadReg(rs1Reg)
	if f3 >= 5 {
		rs1Val = uint64(rs1Reg)
	}

	csrVal, err := h.CSRRead(csr)
	if err != nil {
		return err
	}

	var writeVal uint64
	var doWrite bool
	switch f3 & 3 {
	case 1: // CSRRW(I)
		writeVal, doWrite = rs1Val, true
	case 2: // CSRRS(I)
		writeVal, doWrite = csrVal|rs1Val, rs1Reg != 0
	case 3: // CSRRC(I)
		writeVal, doWrite = csrVal&^rs1Val, rs1Reg != 0
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	if doWrite {
		if err := h.CSRWrite(csr, writeVal); err != nil {
			return err
		}
	}
	h.WriteReg(rdReg, csrVal)
	return nil
}

func (h *Hart) handleEcall() error {
	switch h.Priv {
	case PrivUser:
		return Exception(CauseEcallFromU, 0)
	case PrivSupervisor:
		return Exception(CauseEcallFromS, 0)
	case PrivMachine:
		return Exception(CauseEcallFromM, 0)
	default:
		return fmt.Errorf("vm: invalid privilege level %d", h.Priv)
	}
}

func (h *Hart) handleMret() error {
	if h.Priv < PrivMachine {
		return Exception(CauseIllegalInsn, 0)
	}
	mpp := (h.Mstatus >> MstatusMPPShift) & 3
	h.Priv = uint8(mpp)
	if h.Mstatus&MstatusMPIE != 0 {
		h.Mstatus |= MstatusMIE
	} else {
		h.Mstatus &^= MstatusMIE
	}
	h.Mstatus |= MstatusMPIE
	h.Mstatus &^= MstatusMPP
	h.PC = h.Mepc
	return nil
}

func (h *Hart) handleSret() error {
	if h.Priv < PrivSupervisor {
		return Exception(CauseIllegalInsn, 0)
	}
	if (h.Mstatus>>MstatusSPPShift)&1 == 1 {
		h.Priv = PrivSupervisor
	} else {
		h.Priv = PrivUser
	}
	if h.Mstatus&MstatusSPIE != 0 {
		h.Mstatus |= MstatusSIE
	} else {
		h.Mstatus &^= MstatusSIE
	}
	h.Mstatus |= MstatusSPIE
	h.Mstatus &^= MstatusSPP
	h.PC = h.Sepc
	return nil
}
